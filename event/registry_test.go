package event

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestDispatch_PriorityOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	// Registered at priorities 10, 5, 20 in that order; dispatch must
	// run them 5, 10, 20.
	var order []int
	for _, p := range []int{10, 5, 20} {
		p := p
		r.Register("spawn", "m", p, func(_ *Request, _ *Response) {
			order = append(order, p)
		})
	}

	r.SendEvent("spawn", nil)

	want := []int{5, 10, 20}
	if len(order) != len(want) {
		t.Fatalf("ran %d handlers, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("invocation order %v, want %v", order, want)
		}
	}
}

func TestDispatch_TiesBreakByArrival(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var order []string
	for _, mod := range []string{"first", "second", "third"} {
		mod := mod
		r.Register("tick", mod, 7, func(_ *Request, _ *Response) {
			order = append(order, mod)
		})
	}

	r.SendEvent("tick", nil)

	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("tie order %v, want %v", order, want)
		}
	}
}

func TestSendEvent_NoHandlers(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	out := r.SendEvent("nobody-listens", nil)
	if out.Handled {
		t.Error("unregistered event reported handled")
	}
}

func TestDispatch_HandledStopsChain(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var later bool
	r.Register("attack", "armor", 5, func(_ *Request, res *Response) {
		res.Output["absorbed"] = 12
		res.Handled = true
	})
	r.Register("attack", "logger", 10, func(_ *Request, _ *Response) {
		later = true
	})

	out := r.SendEvent("attack", map[string]any{"damage": 30})
	if !out.Handled {
		t.Fatal("chain not handled")
	}
	if later {
		t.Error("handler after the handling one was invoked")
	}
	if out.Output["absorbed"] != 12 {
		t.Errorf("output not captured: %v", out.Output)
	}
}

func TestDispatch_HandledBeforeAsyncWorkIsCaptured(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	done := make(chan struct{})
	release := make(chan struct{})
	r.Register("save", "persist", 1, func(_ *Request, res *Response) {
		res.Handled = true
		go func() {
			// Detached continuation: keeps running after dispatch
			// returns, but cannot influence this Response anymore.
			<-release
			close(done)
		}()
	})

	out := r.SendEvent("save", nil)
	if !out.Handled {
		t.Error("flag set before the handler returned was not captured")
	}
	close(release)
	<-done
}

func TestDispatch_HandledAfterCaptureIsNotObserved(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	captured := make(chan struct{})
	done := make(chan struct{})
	var next bool

	r.Register("save", "slow", 1, func(_ *Request, _ *Response) {
		// Simulates a handler whose "handled" assignment happens only
		// in its asynchronous continuation. The dispatcher has long
		// captured the flag by the time this runs.
		go func() {
			<-captured
			close(done)
		}()
	})
	r.Register("save", "fallback", 2, func(_ *Request, res *Response) {
		next = true
	})

	out := r.SendEvent("save", nil)
	close(captured)
	<-done

	if out.Handled {
		t.Error("dispatch observed a flag set after capture")
	}
	if !next {
		t.Error("next handler did not run")
	}
}

func TestDispatch_RequestCopiesAreIndependent(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	r.Register("chat", "mangler", 1, func(req *Request, _ *Response) {
		req.Fields["text"] = "mangled"
	})
	var second string
	r.Register("chat", "reader", 2, func(req *Request, _ *Response) {
		second, _ = req.Fields["text"].(string)
	})

	r.SendEvent("chat", map[string]any{"text": "hello"})
	if second != "hello" {
		t.Errorf("sibling saw mutated request: %q", second)
	}
}

func TestDispatch_ContextFlowsToLaterHandlers(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	r.Register("roll", "seed", 1, func(_ *Request, res *Response) {
		res.Context["bonus"] = 3
	})
	var bonus int
	r.Register("roll", "sum", 2, func(_ *Request, res *Response) {
		bonus, _ = res.Context["bonus"].(int)
		res.Handled = true
	})

	r.SendEvent("roll", nil)
	if bonus != 3 {
		t.Errorf("context did not reach later handler, got %d", bonus)
	}
}

func TestDispatch_PanicDoesNotStopChain(t *testing.T) {
	core, logs := testLogger()
	r := NewRegistry(core)

	var ran bool
	r.Register("tick", "broken", 1, func(_ *Request, _ *Response) {
		panic("nil table index")
	})
	r.Register("tick", "healthy", 2, func(_ *Request, res *Response) {
		ran = true
		res.Handled = true
	})

	out := r.SendEvent("tick", nil)
	if !ran {
		t.Fatal("handler after the panicking one did not run")
	}
	if !out.Handled {
		t.Error("outcome lost the later handler's flag")
	}

	entry := logs.mustEntry(t, "event handler panicked")
	if entry["mod_id"] != "broken" || entry["event"] != "tick" {
		t.Errorf("panic log missing identifiers: %v", entry)
	}
}

func TestRegister_DuringDispatchDoesNotAffectInFlightWalk(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var lateRan bool
	r.Register("load", "base", 1, func(_ *Request, _ *Response) {
		r.Register("load", "late", 0, func(_ *Request, _ *Response) {
			lateRan = true
		})
	})

	r.SendEvent("load", nil)
	if lateRan {
		t.Error("registration during dispatch joined the in-flight walk")
	}

	// The next dispatch sees it, ahead of the base handler.
	r.SendEvent("load", nil)
	if !lateRan {
		t.Error("registration missing from the following dispatch")
	}
}

func TestUnregisterMod_RemovesEverywhere(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	h := func(_ *Request, _ *Response) {}
	r.Register("a", "gone", 1, h)
	r.Register("b", "gone", 1, h)
	r.Register("b", "stays", 2, h)

	r.UnregisterMod("gone")

	if n := r.Handlers("a"); n != 0 {
		t.Errorf("chain a still has %d handlers", n)
	}
	if n := r.Handlers("b"); n != 1 {
		t.Errorf("chain b has %d handlers, want 1", n)
	}
}

func TestDispatch_ConcurrentWithRegister(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("noise", "m0", 1, func(_ *Request, _ *Response) {})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			r.Register("noise", "late", i, func(_ *Request, _ *Response) {})
		}
	}()

	for i := 0; i < 100; i++ {
		r.SendEvent("noise", nil)
	}
	close(stop)
	wg.Wait()
}
