// Package async runs fire-and-forget functions on goroutines while
// delivering their results back on the owner's goroutine. A goroutine
// has no way to return a value to the loop that spawned it; Runner
// bridges that by pairing each spawned function with a callback that
// fires during the owner's next ProcessMessages call, so callbacks
// never race with the owner's own state.
package async

// Runner tracks in-flight functions and their callbacks. RunAsync and
// ProcessMessages must be called from a single owning goroutine (or
// under the owner's lock); the spawned functions themselves run
// concurrently.
type Runner struct {
	inbox *inbox
}

// NewRunner returns a Runner with nothing in flight.
func NewRunner() Runner {
	return Runner{inbox: &inbox{}}
}

// RunAsync spawns f on its own goroutine. cb is invoked with f's error
// on a later ProcessMessages call, after f has returned.
func (r *Runner) RunAsync(f func() error, cb func(error)) {
	p := r.inbox.add(cb)
	go func() {
		p.done <- f()
	}()
}

// ProcessMessages invokes the callback of every function that has
// finished since the last call, synchronously on the calling goroutine,
// and forgets them. Unfinished functions stay tracked.
func (r *Runner) ProcessMessages() {
	r.inbox.drain()
}

// NumRunning returns the number of spawned functions whose callbacks
// have not fired yet.
func (r *Runner) NumRunning() int {
	return len(r.inbox.pending)
}

type pendingResult struct {
	done chan error
	cb   func(error)
}

// inbox holds the not-yet-delivered results. Not safe for concurrent
// use; the owning goroutine serializes access.
type inbox struct {
	pending []*pendingResult
}

func (bx *inbox) add(cb func(error)) *pendingResult {
	p := &pendingResult{done: make(chan error, 1), cb: cb}
	bx.pending = append(bx.pending, p)
	return p
}

func (bx *inbox) drain() {
	var stillRunning []*pendingResult
	for _, p := range bx.pending {
		select {
		case err := <-p.done:
			p.cb(err)
		default:
			stillRunning = append(stillRunning, p)
		}
	}
	bx.pending = stillRunning
}
