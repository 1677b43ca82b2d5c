package event

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// registration is one entry of an event chain.
type registration struct {
	handler  Handler
	modID    string
	priority int
	seq      uint64
}

// Registry stores, per event name, the ordered list of registered
// handlers and executes the request/response chain.
//
// For a fixed event name registrations are totally ordered by
// (priority ascending, registration order ascending): the sort is
// stable, ties broken by arrival.
type Registry struct {
	log    *zap.Logger
	mu     sync.RWMutex
	chains map[string][]registration
	seq    uint64
}

// NewRegistry creates an empty registry. Construct one at startup and
// share it with every adapter that dispatches events.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:    log,
		chains: make(map[string][]registration),
	}
}

// Register inserts a handler into the chain for name. It is called
// synchronously during a mod's attach phase.
func (r *Registry) Register(name, modID string, priority int, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	chain := append(r.chains[name], registration{
		handler:  h,
		modID:    modID,
		priority: priority,
		seq:      r.seq,
	})
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].priority != chain[j].priority {
			return chain[i].priority < chain[j].priority
		}
		return chain[i].seq < chain[j].seq
	})
	r.chains[name] = chain
}

// Unregister removes every handler modID registered for name.
func (r *Registry) Unregister(name, modID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[name] = dropMod(r.chains[name], modID)
	if len(r.chains[name]) == 0 {
		delete(r.chains, name)
	}
}

// UnregisterMod removes modID from every chain. The manager calls it
// when a mod is unloaded.
func (r *Registry) UnregisterMod(modID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, chain := range r.chains {
		chain = dropMod(chain, modID)
		if len(chain) == 0 {
			delete(r.chains, name)
		} else {
			r.chains[name] = chain
		}
	}
}

func dropMod(chain []registration, modID string) []registration {
	kept := chain[:0]
	for _, reg := range chain {
		if reg.modID != modID {
			kept = append(kept, reg)
		}
	}
	return kept
}

// Handlers reports how many handlers are registered for name.
func (r *Registry) Handlers(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains[name])
}

// Dispatch walks the chain for req.Name in sorted order.
//
// The walk is fully synchronous and never blocks waiting for a
// handler's asynchronous work: the handled flag and output fields are
// captured the moment each handler's function returns. Blocking here
// could deadlock a cooperatively-scheduled engine whose mod is itself
// awaiting this very dispatch.
//
// A registration made while the walk is running does not affect it;
// the chain is snapshotted at dispatch start.
func (r *Registry) Dispatch(req *Request) Outcome {
	r.mu.RLock()
	chain := make([]registration, len(r.chains[req.Name]))
	copy(chain, r.chains[req.Name])
	r.mu.RUnlock()

	res := &Response{
		Context: make(map[string]any),
		Output:  make(map[string]any),
	}

	for _, reg := range chain {
		r.invoke(reg, req, res)
		if res.Handled {
			break
		}
	}

	if !res.Handled {
		// Non-fatal: an unhandled event is logged, never surfaced as
		// an error to the caller.
		r.log.Debug("event chain completed unhandled",
			zap.String("event", req.Name),
			zap.Int("handlers", len(chain)))
	}

	out := make(map[string]any, len(res.Output))
	for k, v := range res.Output {
		out[k] = v
	}
	return Outcome{Handled: res.Handled, Output: out}
}

// invoke runs one handler, catching anything it throws so the rest of
// the chain still runs.
func (r *Registry) invoke(reg registration, req *Request, res *Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("event handler panicked",
				zap.String("event", req.Name),
				zap.String("mod_id", reg.modID),
				zap.Int("priority", reg.priority),
				zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	reg.handler(req.Clone(), res)
}

// SendEvent is the caller-facing operation: it dispatches name through
// the chain and returns the handled flag with the captured output
// fields. Zero registrations yield {Handled: false} without error.
func (r *Registry) SendEvent(name string, fields map[string]any) Outcome {
	if fields == nil {
		fields = make(map[string]any)
	}
	return r.Dispatch(&Request{Name: name, Fields: fields})
}
