// Command tcp_allreduce sums a vector across processes
// connected over TCP.
//
// Start one process per address, for example:
//
//	tcp_allreduce -tree-rank 0 -tree-addrs :7000,:7001,:7002
//	tcp_allreduce -tree-rank 1 -tree-addrs :7000,:7001,:7002
//	tcp_allreduce -tree-rank 2 -tree-addrs :7000,:7001,:7002
//
// Every rank contributes a vector filled with its rank,
// so each component of the result is the sum of the ranks.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/treecomm/collcomm"
	"github.com/unixpickle/treecomm/collcomm/allreduce"
	"github.com/unixpickle/treecomm/daemon"
	"github.com/unixpickle/treecomm/tcptransport"
)

func main() {
	var cfg tcptransport.Config
	var size, rounds int
	var interval time.Duration
	var level string
	cfg.RegisterFlags(flag.CommandLine)
	flag.IntVar(&size, "size", 1000, "vector length")
	flag.IntVar(&rounds, "rounds", 10, "number of allreduce rounds")
	flag.DurationVar(&interval, "poll-interval", daemon.DefaultInterval, "time between polls")
	flag.StringVar(&level, "log-level", "INFO", "log level")
	flag.Parse()

	logger.New(level)
	log := logger.Sugar.WithServiceName("tcp_allreduce")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tr, err := tcptransport.Open(ctx, cfg, nil)
	essentials.Must(err)
	defer tr.Close()

	d := daemon.New(interval)
	w := collcomm.Instance(func() (*collcomm.Waypoint, error) {
		return collcomm.NewWaypoint(tr,
			collcomm.WithScheduler(d),
			collcomm.WithBufferSize(allreduce.BufferSize(size)))
	})
	reducer := allreduce.NewTreeAllreducer(w, collcomm.Sum)

	results := make(chan allreduce.Result, rounds)
	vec := make([]float64, size)
	for i := range vec {
		vec[i] = float64(w.Rank())
	}
	start := time.Now()
	for i := 0; i < rounds; i++ {
		reducer.Allreduce(vec, func(r allreduce.Result) {
			results <- r
		})
	}

	go d.Run(ctx)
	for i := 0; i < rounds; i++ {
		select {
		case r := <-results:
			essentials.Must(r.Err)
			if len(r.Vector) > 0 {
				log.Infof("round %d: component 0 is %f", i, r.Vector[0])
			}
		case <-ctx.Done():
			log.Warnf("interrupted after %d rounds", i)
			return
		}
	}
	log.Infof("rank %d finished %d rounds in %v", w.Rank(), rounds, time.Since(start))

	// Let the final broadcast reach the children before
	// the connections close. The armed receive is always
	// pending.
	for w.Pending() > 1 && ctx.Err() == nil {
		time.Sleep(interval)
	}
}
