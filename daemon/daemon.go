// Package daemon drives polling work on one Goroutine.
package daemon

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the tick length used when New is
// given a non-positive interval.
const DefaultInterval = 100 * time.Microsecond

// A Daemon is a task queue drained by a single Goroutine.
//
// Tasks may be posted from any Goroutine, including from
// inside a running task.
// Tasks posted before a tick run during that tick, in the
// order they were posted; tasks they post wait for the
// next tick, so a task that keeps reposting itself never
// spins.
type Daemon struct {
	lock     sync.Mutex
	tasks    []func()
	interval time.Duration
}

// New creates a Daemon that runs queued tasks once per
// interval.
func New(interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Daemon{interval: interval}
}

// Post queues f to run on the Daemon's Goroutine.
func (d *Daemon) Post(f func()) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.tasks = append(d.tasks, f)
}

// Pending returns the number of queued tasks.
func (d *Daemon) Pending() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.tasks)
}

// Run drains the queue once per tick until ctx is done.
//
// Only one Goroutine may call Run.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, f := range d.take() {
			f()
		}
	}
}

func (d *Daemon) take() []func() {
	d.lock.Lock()
	defer d.lock.Unlock()
	tasks := d.tasks
	d.tasks = nil
	return tasks
}
