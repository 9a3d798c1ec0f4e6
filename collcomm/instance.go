package collcomm

import (
	"fmt"
	"sync"
)

var (
	instanceOnce sync.Once
	instance     *Waypoint
)

// Instance returns the process-wide Waypoint, creating it
// with open on the first call. Later calls ignore open.
//
// A process that cannot reach its transport cannot take
// part in the tree, so Instance panics if open fails.
//
// Programs that can pass a Waypoint around explicitly
// should prefer NewWaypoint.
func Instance(open func() (*Waypoint, error)) *Waypoint {
	instanceOnce.Do(func() {
		w, err := open()
		if err != nil {
			panic(fmt.Sprintf("collcomm: cannot create waypoint: %v", err))
		}
		instance = w
	})
	return instance
}
