package tcptransport

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDialTimeout = 30 * time.Second
	DefaultQueueDepth  = 1024
)

// Config describes one process's place in a TCP tree.
type Config struct {
	// Rank is the local rank, an index into Addrs.
	Rank int

	// Addrs lists the listening address of every rank.
	Addrs []string

	// DialTimeout bounds the time spent connecting to
	// every peer.
	DialTimeout time.Duration

	// QueueDepth is the number of inbound messages that
	// may be buffered per peer before the connection stops
	// being read.
	QueueDepth int
}

// addrList is a flag.Value for comma-separated addresses.
type addrList []string

func (a *addrList) String() string {
	return strings.Join(*a, ",")
}

func (a *addrList) Set(s string) error {
	*a = nil
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			*a = append(*a, addr)
		}
	}
	return nil
}

// RegisterFlags adds flags for the Config to a FlagSet.
//
//	-tree-rank: the local rank
//	-tree-addrs: comma separated addresses of all ranks
//	-tree-dial-timeout: time allowed for connecting
//	-tree-queue-depth: inbound messages buffered per peer
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Rank, "tree-rank", 0, "rank of the local process")
	fs.Var((*addrList)(&c.Addrs), "tree-addrs", "comma separated addresses of all ranks")
	fs.DurationVar(&c.DialTimeout, "tree-dial-timeout", DefaultDialTimeout,
		"time allowed for connecting to all peers")
	fs.IntVar(&c.QueueDepth, "tree-queue-depth", DefaultQueueDepth,
		"inbound messages buffered per peer")
}

// Validate checks the Config and fills in defaults.
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return errors.New("no addresses")
	}
	if c.Rank < 0 || c.Rank >= len(c.Addrs) {
		return fmt.Errorf("rank %d out of range for %d addresses", c.Rank, len(c.Addrs))
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	return nil
}
