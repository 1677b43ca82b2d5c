package pinned

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MagiusCHE/staminal-sub000/errors"
)

// State is the lifecycle of one Proxy instance.
type State int32

const (
	StateDisabled State = iota
	StatePending
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind names a category of engine event, e.g. "click".
type EventKind string

// Event is a notification flowing from the pinned engine back to
// callers. It is delivered only while at least one listener is
// subscribed to its (subject, kind) pair.
type Event struct {
	Subject string
	Kind    EventKind
	Payload any
}

// Engine is the service that must execute its entire lifetime on one
// designated thread. Every method is invoked on that thread only.
//
// Start receives the emit function the engine uses to publish events;
// the proxy filters emissions against the live subscription set. An
// engine must respond to commands promptly or accept being abandoned
// at shutdown.
type Engine interface {
	Start(emit func(Event)) error
	Handle(payload any) (any, error)
	Subscribe(subject string, kind EventKind) error
	Unsubscribe(subject string, kind EventKind) error
	Stop() error
}

type opKind int

const (
	opHandle opKind = iota
	opSubscribe
	opUnsubscribe
	opShutdown
)

type reply struct {
	value any
	err   error
}

// command carries its own oneshot reply channel: the caller awaits
// only that single reply, never a global flush. A global
// wait-for-all-pending-work would deadlock whenever the waiting thread
// is the one the pending work itself needs.
type command struct {
	payload any
	subject string
	kind    EventKind
	reply   chan reply
	op      opKind
}

type subKey struct {
	subject string
	kind    EventKind
}

const (
	commandBuffer = 64
	eventBuffer   = 256
)

// Proxy bridges multi-threaded asynchronous callers to an Engine that
// owns one dedicated OS thread. Callers submit commands and poll
// events; the designated thread calls Serve exactly once.
type Proxy struct {
	log *zap.Logger

	state   atomic.Int32
	handoff chan *pendingEngine

	cmds   chan command
	events chan Event
	done   chan struct{}

	subMu sync.RWMutex
	subs  map[subKey]int

	// Only the host's single polling loop drains the event channel.
	evMu sync.Mutex
}

// pendingEngine is the owned value handed to the designated thread.
// After the handoff the receiving thread has sole access.
type pendingEngine struct {
	cmds   chan command
	events chan Event
	done   chan struct{}
}

// NewProxy creates a proxy in the Disabled state.
func NewProxy(log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{
		log:     log,
		handoff: make(chan *pendingEngine, 1),
		subs:    make(map[subKey]int),
	}
}

// State reports the proxy's lifecycle state.
func (p *Proxy) State() State {
	return State(p.state.Load())
}

// Enable requests the engine be brought up: Disabled -> Pending. The
// pending engine is handed to the designated thread through a
// dedicated single-use channel; Enable never blocks waiting for the
// handoff to be consumed, so the enabling thread keeps running its own
// scheduling loop.
func (p *Proxy) Enable() error {
	if !p.state.CompareAndSwap(int32(StateDisabled), int32(StatePending)) {
		return fmt.Errorf("enable engine in state %s: %w", p.State(), errors.ErrAlreadyEnabled)
	}

	p.cmds = make(chan command, commandBuffer)
	p.events = make(chan Event, eventBuffer)
	p.done = make(chan struct{})

	// Capacity 1 and single use: this send cannot block.
	p.handoff <- &pendingEngine{cmds: p.cmds, events: p.events, done: p.done}
	p.log.Debug("engine handoff created")
	return nil
}

// Serve is called by the designated goroutine. It locks the goroutine
// to its OS thread, takes ownership of the pending engine, and runs
// the blocking command loop until shutdown or ctx cancellation. From
// the handoff on, no other thread touches the engine.
func (p *Proxy) Serve(ctx context.Context, eng Engine) error {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	var pe *pendingEngine
	select {
	case pe = <-p.handoff:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !p.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		// Shutdown landed while the engine was still pending; the
		// loop must never start. Close done so no caller can block on
		// a loop that will not exist.
		close(pe.done)
		return errors.ErrNoActiveEngine
	}
	defer func() {
		p.state.Store(int32(StateTerminated))
		close(pe.done)
	}()

	emit := func(ev Event) {
		if !p.subscribed(ev.Subject, ev.Kind) {
			return
		}
		select {
		case pe.events <- ev:
		default:
			p.log.Warn("event channel full, dropping",
				zap.String("subject", ev.Subject),
				zap.String("kind", string(ev.Kind)))
		}
	}

	if err := eng.Start(emit); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	p.log.Info("pinned engine running")
	for {
		select {
		case cmd := <-pe.cmds:
			if cmd.op == opShutdown {
				p.state.Store(int32(StateShuttingDown))
				err := eng.Stop()
				if err != nil {
					p.log.Warn("engine stop failed", zap.Error(err))
				}
				cmd.reply <- reply{err: err}
				close(cmd.reply)
				p.log.Info("pinned engine stopped")
				return nil
			}
			p.dispatch(eng, cmd)
		case <-ctx.Done():
			if err := eng.Stop(); err != nil {
				p.log.Warn("engine stop failed", zap.Error(err))
			}
			return ctx.Err()
		}
	}
}

// dispatch runs one command on the engine thread. A panic inside the
// engine drops the reply channel without a value, which the caller
// sees as ErrNoResponse.
func (p *Proxy) dispatch(eng Engine, cmd command) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error("engine panicked handling command",
				zap.String("panic", fmt.Sprint(rec)))
		}
		close(cmd.reply)
	}()

	switch cmd.op {
	case opSubscribe:
		cmd.reply <- reply{err: eng.Subscribe(cmd.subject, cmd.kind)}
	case opUnsubscribe:
		cmd.reply <- reply{err: eng.Unsubscribe(cmd.subject, cmd.kind)}
	default:
		v, err := eng.Handle(cmd.payload)
		cmd.reply <- reply{value: v, err: err}
	}
}

// SendCommand submits payload to the engine and awaits that command's
// own reply. An engine that is gone yields ErrNoActiveEngine; an
// engine that died mid-operation yields ErrNoResponse, a distinct
// classification so retries can target transient failures only.
func (p *Proxy) SendCommand(ctx context.Context, payload any) (any, error) {
	if p.State() != StateRunning {
		return nil, errors.ErrNoActiveEngine
	}
	return p.submit(ctx, command{op: opHandle, payload: payload, reply: make(chan reply, 1)})
}

func (p *Proxy) submit(ctx context.Context, cmd command) (any, error) {
	select {
	case p.cmds <- cmd:
	case <-p.done:
		return nil, errors.ErrNoActiveEngine
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r, ok := <-cmd.reply:
		if !ok {
			return nil, errors.ErrNoResponse
		}
		return r.value, r.err
	case <-p.done:
		// The loop exited while the command was queued; one final
		// non-blocking read in case the reply raced the exit.
		select {
		case r, ok := <-cmd.reply:
			if ok {
				return r.value, r.err
			}
		default:
		}
		return nil, errors.ErrNoResponse
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers interest in (subject, kind). The engine thread
// is told only when the listener count transitions 0 -> 1, bounding
// channel traffic to active listeners instead of possible events.
func (p *Proxy) Subscribe(ctx context.Context, subject string, kind EventKind) error {
	p.subMu.Lock()
	key := subKey{subject, kind}
	p.subs[key]++
	first := p.subs[key] == 1
	p.subMu.Unlock()

	if !first || p.State() != StateRunning {
		return nil
	}
	_, err := p.submit(ctx, command{op: opSubscribe, subject: subject, kind: kind, reply: make(chan reply, 1)})
	return err
}

// Unsubscribe drops one listener; the engine is told on 1 -> 0.
func (p *Proxy) Unsubscribe(ctx context.Context, subject string, kind EventKind) error {
	p.subMu.Lock()
	key := subKey{subject, kind}
	n := p.subs[key]
	if n == 0 {
		p.subMu.Unlock()
		return nil
	}
	if n == 1 {
		delete(p.subs, key)
	} else {
		p.subs[key] = n - 1
	}
	last := n == 1
	p.subMu.Unlock()

	if !last || p.State() != StateRunning {
		return nil
	}
	_, err := p.submit(ctx, command{op: opUnsubscribe, subject: subject, kind: kind, reply: make(chan reply, 1)})
	return err
}

func (p *Proxy) subscribed(subject string, kind EventKind) bool {
	p.subMu.RLock()
	defer p.subMu.RUnlock()
	return p.subs[subKey{subject, kind}] > 0
}

// PollEvent blocks until the engine publishes an event, the proxy
// terminates, or ctx ends. Only one polling loop drains events; the
// receiver is serialized by a mutex.
func (p *Proxy) PollEvent(ctx context.Context) (Event, error) {
	p.evMu.Lock()
	defer p.evMu.Unlock()

	if p.events == nil {
		return Event{}, errors.ErrNoActiveEngine
	}

	select {
	case ev := <-p.events:
		return ev, nil
	case <-p.done:
		// Drain what the engine managed to publish before dying.
		select {
		case ev := <-p.events:
			return ev, nil
		default:
			return Event{}, errors.ErrChannelClosed
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Shutdown sends the shutdown command and waits at most timeout for
// its reply. On timeout it logs a warning and proceeds regardless: the
// host process must always be able to exit even if the pinned engine
// never acknowledges. An engine that is already gone is immediate
// success.
func (p *Proxy) Shutdown(timeout time.Duration) error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		switch p.State() {
		case StateDisabled, StatePending:
			p.state.Store(int32(StateTerminated))
			return nil
		default:
			return nil
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	cmd := command{op: opShutdown, reply: make(chan reply, 1)}
	select {
	case p.cmds <- cmd:
	case <-p.done:
		p.state.Store(int32(StateTerminated))
		return nil
	case <-deadline.C:
		p.log.Warn("engine did not accept shutdown command, abandoning",
			zap.Duration("timeout", timeout))
		p.state.Store(int32(StateTerminated))
		return nil
	}

	select {
	case <-cmd.reply:
	case <-p.done:
	case <-deadline.C:
		p.log.Warn("engine did not acknowledge shutdown, abandoning",
			zap.Duration("timeout", timeout))
	}
	p.state.Store(int32(StateTerminated))
	return nil
}
