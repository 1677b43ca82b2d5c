package pinned

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MagiusCHE/staminal-sub000/errors"
)

type fakeEngine struct {
	mu          sync.Mutex
	emit        func(Event)
	subscribed  []subKey
	unsubbed    []subKey
	stopped     bool
	startErr    error
	handle      func(payload any) (any, error)
	blockOnStop chan struct{}
}

func (e *fakeEngine) Start(emit func(Event)) error {
	e.mu.Lock()
	e.emit = emit
	e.mu.Unlock()
	return e.startErr
}

func (e *fakeEngine) Handle(payload any) (any, error) {
	if e.handle != nil {
		return e.handle(payload)
	}
	return payload, nil
}

func (e *fakeEngine) Subscribe(subject string, kind EventKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribed = append(e.subscribed, subKey{subject, kind})
	return nil
}

func (e *fakeEngine) Unsubscribe(subject string, kind EventKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubbed = append(e.unsubbed, subKey{subject, kind})
	return nil
}

func (e *fakeEngine) Stop() error {
	if e.blockOnStop != nil {
		<-e.blockOnStop
	}
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) publish(ev Event) {
	e.mu.Lock()
	emit := e.emit
	e.mu.Unlock()
	emit(ev)
}

// startProxy brings up a proxy with eng on its own goroutine and
// returns it along with the channel carrying Serve's result.
func startProxy(t *testing.T, eng Engine) (*Proxy, chan error) {
	t.Helper()
	p := NewProxy(zap.NewNop())
	if err := p.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- p.Serve(context.Background(), eng) }()

	deadline := time.After(2 * time.Second)
	for p.State() != StateRunning {
		select {
		case <-deadline:
			t.Fatalf("engine never reached running, state %s", p.State())
		default:
			time.Sleep(time.Millisecond)
		}
	}
	return p, served
}

func TestSendCommandRoundTrip(t *testing.T) {
	eng := &fakeEngine{}
	p, served := startProxy(t, eng)

	out, err := p.SendCommand(context.Background(), "ping")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out != "ping" {
		t.Fatalf("got %v, want ping", out)
	}

	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
	eng.mu.Lock()
	stopped := eng.stopped
	eng.mu.Unlock()
	if !stopped {
		t.Fatal("engine not stopped")
	}
	if p.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", p.State())
	}
}

func TestSendBeforeEnable(t *testing.T) {
	p := NewProxy(zap.NewNop())
	if _, err := p.SendCommand(context.Background(), "x"); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("got %v, want ErrNoActiveEngine", err)
	}
	if _, err := p.PollEvent(context.Background()); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("poll: got %v, want ErrNoActiveEngine", err)
	}
}

func TestSendAfterShutdown(t *testing.T) {
	p, served := startProxy(t, &fakeEngine{})
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-served

	if _, err := p.SendCommand(context.Background(), "x"); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("got %v, want ErrNoActiveEngine", err)
	}
}

func TestEnableTwice(t *testing.T) {
	p := NewProxy(zap.NewNop())
	if err := p.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := p.Enable(); !stderrors.Is(err, errors.ErrAlreadyEnabled) {
		t.Fatalf("got %v, want ErrAlreadyEnabled", err)
	}
}

func TestHandlePanicYieldsNoResponse(t *testing.T) {
	eng := &fakeEngine{handle: func(payload any) (any, error) {
		if payload == "boom" {
			panic("engine bug")
		}
		return payload, nil
	}}
	p, _ := startProxy(t, eng)
	defer p.Shutdown(time.Second)

	if _, err := p.SendCommand(context.Background(), "boom"); !stderrors.Is(err, errors.ErrNoResponse) {
		t.Fatalf("got %v, want ErrNoResponse", err)
	}

	// The loop survives the panic and keeps serving.
	out, err := p.SendCommand(context.Background(), "still-alive")
	if err != nil {
		t.Fatalf("send after panic: %v", err)
	}
	if out != "still-alive" {
		t.Fatalf("got %v", out)
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	eng := &fakeEngine{}
	p, _ := startProxy(t, eng)
	defer p.Shutdown(time.Second)

	ctx := context.Background()
	if err := p.Subscribe(ctx, "win1", "click"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	eng.publish(Event{Subject: "win1", Kind: "click", Payload: 42})
	eng.publish(Event{Subject: "win2", Kind: "click", Payload: 99}) // no listener, filtered

	ev, err := p.PollEvent(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if ev.Subject != "win1" || ev.Kind != "click" || ev.Payload != 42 {
		t.Fatalf("got %+v", ev)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.PollEvent(short); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("filtered event leaked: %v", err)
	}
}

func TestLazySubscriptionTransitions(t *testing.T) {
	eng := &fakeEngine{}
	p, _ := startProxy(t, eng)
	defer p.Shutdown(time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.Subscribe(ctx, "win1", "click"); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}
	eng.mu.Lock()
	n := len(eng.subscribed)
	eng.mu.Unlock()
	if n != 1 {
		t.Fatalf("engine told %d times, want 1", n)
	}

	for i := 0; i < 2; i++ {
		if err := p.Unsubscribe(ctx, "win1", "click"); err != nil {
			t.Fatalf("unsubscribe %d: %v", i, err)
		}
	}
	eng.mu.Lock()
	n = len(eng.unsubbed)
	eng.mu.Unlock()
	if n != 0 {
		t.Fatalf("engine told of unsubscribe at count 1, want only at 0")
	}

	// Still one listener: events flow.
	eng.publish(Event{Subject: "win1", Kind: "click"})
	if _, err := p.PollEvent(ctx); err != nil {
		t.Fatalf("poll with one listener left: %v", err)
	}

	if err := p.Unsubscribe(ctx, "win1", "click"); err != nil {
		t.Fatalf("last unsubscribe: %v", err)
	}
	eng.mu.Lock()
	n = len(eng.unsubbed)
	eng.mu.Unlock()
	if n != 1 {
		t.Fatalf("engine told %d times of unsubscribe, want 1", n)
	}

	eng.publish(Event{Subject: "win1", Kind: "click"})
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.PollEvent(short); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("event delivered after last unsubscribe: %v", err)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	p, _ := startProxy(t, &fakeEngine{})
	defer p.Shutdown(time.Second)
	if err := p.Unsubscribe(context.Background(), "ghost", "click"); err != nil {
		t.Fatalf("unsubscribe unknown pair: %v", err)
	}
}

func TestShutdownTimeoutAlwaysSucceeds(t *testing.T) {
	eng := &fakeEngine{blockOnStop: make(chan struct{})}
	defer close(eng.blockOnStop)
	p, _ := startProxy(t, eng)

	start := time.Now()
	if err := p.Shutdown(200 * time.Millisecond); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown took %v, want bounded by timeout", elapsed)
	}
	if p.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", p.State())
	}
	if _, err := p.SendCommand(context.Background(), "x"); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("got %v, want ErrNoActiveEngine", err)
	}
}

func TestShutdownWithoutEnable(t *testing.T) {
	p := NewProxy(zap.NewNop())
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown disabled proxy: %v", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", p.State())
	}
}

func TestShutdownBeforeServeStartsNothing(t *testing.T) {
	p := NewProxy(zap.NewNop())
	if err := p.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown pending proxy: %v", err)
	}

	eng := &fakeEngine{}
	if err := p.Serve(context.Background(), eng); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("got %v, want ErrNoActiveEngine", err)
	}
	eng.mu.Lock()
	started := eng.emit != nil
	eng.mu.Unlock()
	if started {
		t.Fatal("engine started after shutdown")
	}
	if p.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", p.State())
	}
	if _, err := p.SendCommand(context.Background(), "x"); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("send: got %v, want ErrNoActiveEngine", err)
	}
}

func TestServeCanceledBeforeHandoff(t *testing.T) {
	p := NewProxy(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Serve(ctx, &fakeEngine{}); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStartErrorTerminates(t *testing.T) {
	eng := &fakeEngine{startErr: stderrors.New("no backend")}
	p := NewProxy(zap.NewNop())
	if err := p.Enable(); err != nil {
		t.Fatalf("enable: %v", err)
	}
	err := p.Serve(context.Background(), eng)
	if err == nil || !stderrors.Is(err, eng.startErr) {
		t.Fatalf("got %v, want start error", err)
	}
	if p.State() != StateTerminated {
		t.Fatalf("state %s, want terminated", p.State())
	}
	if _, err := p.SendCommand(context.Background(), "x"); !stderrors.Is(err, errors.ErrNoActiveEngine) {
		t.Fatalf("got %v, want ErrNoActiveEngine", err)
	}
}

func TestPollEventAfterTerminate(t *testing.T) {
	eng := &fakeEngine{}
	p, served := startProxy(t, eng)

	ctx := context.Background()
	if err := p.Subscribe(ctx, "win1", "click"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	eng.publish(Event{Subject: "win1", Kind: "click"})

	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-served

	// Buffered events survive termination and drain first.
	if _, err := p.PollEvent(ctx); err != nil {
		t.Fatalf("drain buffered event: %v", err)
	}
	if _, err := p.PollEvent(ctx); !stderrors.Is(err, errors.ErrChannelClosed) {
		t.Fatalf("got %v, want ErrChannelClosed", err)
	}
}
