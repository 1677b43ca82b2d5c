package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MinDelay is the floor applied to every schedule request. A zero or
// negative delay would busy-loop a repeating timer, so both one-shot
// and repeating timers wait at least this long.
const MinDelay = 10 * time.Millisecond

// Registry allocates process-wide timer ids and tracks the
// cancellation token of every pending timer. Ids are unique across
// every runtime adapter for the process lifetime because allocation is
// a single shared atomic counter.
type Registry struct {
	log     *zap.Logger
	ctx     context.Context
	stop    context.CancelFunc
	nextID  atomic.Uint32
	mu      sync.Mutex
	cancels map[uint32]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates a registry whose timers live until Close.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Registry{
		log:     log,
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[uint32]context.CancelFunc),
	}
}

// Schedule allocates the next timer id, registers a cancellation token
// and starts the background wait. On each firing fn is invoked; a
// one-shot timer then discards its token. The returned id is never
// reused while the process runs.
func (r *Registry) Schedule(delay time.Duration, repeat bool, fn func()) uint32 {
	if delay < MinDelay {
		delay = MinDelay
	}

	id := r.nextID.Add(1)
	ctx, cancel := context.WithCancel(r.ctx)

	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.wait(ctx, cancel, id, delay, repeat, fn)

	r.log.Debug("timer scheduled",
		zap.Uint32("timer_id", id),
		zap.Duration("delay", delay),
		zap.Bool("repeat", repeat))
	return id
}

func (r *Registry) wait(ctx context.Context, cancel context.CancelFunc, id uint32, delay time.Duration, repeat bool, fn func()) {
	defer r.wg.Done()
	// A fired one-shot leaves the cancel path untaken; releasing the
	// child context here keeps the registry's base context from
	// accumulating dead children over the process lifetime.
	defer cancel()

	t := time.NewTimer(delay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if !repeat {
			// Fire only if the cancel path has not already won the
			// race for this id. Removal happens exactly once.
			if r.remove(id) {
				fn()
			}
			return
		}

		fn()
		t.Reset(delay)
	}
}

// Cancel signals the timer's cancellation token and removes it from
// the registry. It works irrespective of which runtime created the
// timer. Cancel reports whether the id was still pending; cancelling
// an unknown or already-fired id is a no-op.
func (r *Registry) Cancel(id uint32) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	if ok {
		delete(r.cancels, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	r.log.Debug("timer cancelled", zap.Uint32("timer_id", id))
	return true
}

// remove deletes the id's token, reporting whether this caller won the
// race against Cancel.
func (r *Registry) remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancels[id]; !ok {
		return false
	}
	delete(r.cancels, id)
	return true
}

// Pending returns the number of timers currently registered.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Close cancels every outstanding timer and waits for their background
// goroutines to unwind.
func (r *Registry) Close() {
	r.stop()

	r.mu.Lock()
	r.cancels = make(map[uint32]context.CancelFunc)
	r.mu.Unlock()

	r.wg.Wait()
}
