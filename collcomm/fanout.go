package collcomm

import "errors"

// A fanout merges the completions of n sends into a
// single Completion.
//
// The merged Completion is OK only if every send was OK.
// Its Size is the total number of bytes sent and its Err
// joins every failure.
type fanout struct {
	remaining int
	result    Completion
	errs      []error
	done      Callback
}

func newFanout(id string, n int, done Callback) *fanout {
	return &fanout{
		remaining: n,
		result:    Completion{OK: true, Peer: NoRank, ID: id},
		done:      done,
	}
}

// complete records one send. The final call invokes the
// wrapped callback.
func (f *fanout) complete(c Completion) {
	if f.remaining == 0 {
		panic("fanout completed too many times")
	}
	f.remaining--
	f.result.OK = f.result.OK && c.OK
	f.result.Size += c.Size
	if c.Err != nil {
		f.errs = append(f.errs, c.Err)
	}
	if f.remaining > 0 {
		return
	}
	f.result.Err = errors.Join(f.errs...)
	if f.done != nil {
		f.done(f.result)
	}
}
