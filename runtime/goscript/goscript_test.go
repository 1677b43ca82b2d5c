package goscript

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

func writeMod(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.go")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndCall(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	path := writeMod(t, `
package main

var counter int

func OnAttach() { counter++ }

func Count() int { return counter }
`)
	if err := a.Load(ctx, "m", path); err != nil {
		t.Fatal(err)
	}

	found, err := a.Call(ctx, "m", "OnAttach")
	if err != nil || !found {
		t.Fatalf("Call: found=%v err=%v", found, err)
	}

	rv, found, err := a.CallWithReturn(ctx, "m", "Count")
	if err != nil || !found {
		t.Fatalf("CallWithReturn: found=%v err=%v", found, err)
	}
	if rv != staminal.Int(1) {
		t.Errorf("rv = %#v, want Int(1)", rv)
	}
}

func TestCall_MissingFunctionIsNotFatal(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	if err := a.Load(ctx, "m", writeMod(t, "package main\n")); err != nil {
		t.Fatal(err)
	}

	found, err := a.Call(ctx, "m", "OnDetach")
	if err != nil {
		t.Fatalf("missing hook must not error: %v", err)
	}
	if found {
		t.Error("missing hook reported found")
	}
}

func TestCallWithReturn_ClosedVariants(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	path := writeMod(t, `
package main

func GiveString() string { return "hi" }
func GiveBool() bool     { return true }
func GiveInt() int       { return 41 }
func GiveNothing()       {}
`)
	if err := a.Load(ctx, "m", path); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		fn   string
		want staminal.ReturnValue
	}{
		{"GiveString", staminal.String("hi")},
		{"GiveBool", staminal.Bool(true)},
		{"GiveInt", staminal.Int(41)},
		{"GiveNothing", staminal.None()},
	}
	for _, tt := range tests {
		rv, found, err := a.CallWithReturn(ctx, "m", tt.fn)
		if err != nil || !found {
			t.Fatalf("%s: found=%v err=%v", tt.fn, found, err)
		}
		if rv != tt.want {
			t.Errorf("%s = %#v, want %#v", tt.fn, rv, tt.want)
		}
	}
}

func TestCall_PanicBecomesModPanic(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	path := writeMod(t, `
package main

func Explode() {
	var m map[string]int
	m["boom"] = 1
}
`)
	if err := a.Load(ctx, "m", path); err != nil {
		t.Fatal(err)
	}

	found, err := a.Call(ctx, "m", "Explode")
	if !found {
		t.Fatal("existing function reported not found")
	}
	if !errors.IsError(err, errors.PhaseCall, errors.KindModPanic) {
		t.Fatalf("want mod_panic, got %v", err)
	}
}

func TestLoad_BuildDirectivesStripped(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	path := writeMod(t, `//go:build ignore

package main

func Ping() string { return "pong" }
`)
	if err := a.Load(ctx, "m", path); err != nil {
		t.Fatal(err)
	}
	rv, _, err := a.CallWithReturn(ctx, "m", "Ping")
	if err != nil {
		t.Fatal(err)
	}
	if rv != staminal.String("pong") {
		t.Errorf("rv = %#v", rv)
	}
}

func TestLoad_BadSource(t *testing.T) {
	ctx := context.Background()
	a := New(zap.NewNop())
	defer a.Close(ctx)

	err := a.Load(ctx, "broken", writeMod(t, "package main\nfunc oops("))
	if !errors.IsError(err, errors.PhaseLoad, errors.KindSource) {
		t.Errorf("bad source: got %v", err)
	}
}
