// Package goscript implements the staminal.Adapter contract on top of
// yaegi, so mods can be written as interpreted Go source. Each mod
// owns its own interpreter; the adapter serializes entry into them.
package goscript

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

type Adapter struct {
	log  *zap.Logger
	mu   sync.Mutex
	mods map[string]*interp.Interpreter
}

func New(log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		log:  log,
		mods: make(map[string]*interp.Interpreter),
	}
}

func (a *Adapter) Kind() staminal.Kind { return staminal.KindGoScript }

func (a *Adapter) Load(_ context.Context, modID, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.mods[modID]; dup {
		return errors.DuplicateMod(errors.PhaseLoad, modID)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return errors.Source(modID, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return errors.Source(modID, err)
	}
	if _, err := i.Eval(stripBuildDirectives(string(src))); err != nil {
		return errors.Source(modID, err)
	}

	a.mods[modID] = i
	a.log.Debug("goscript mod loaded", zap.String("mod_id", modID), zap.String("path", path))
	return nil
}

func (a *Adapter) Call(ctx context.Context, modID, fn string) (bool, error) {
	_, found, err := a.CallWithReturn(ctx, modID, fn)
	return found, err
}

func (a *Adapter) CallWithReturn(_ context.Context, modID, fn string) (rv staminal.ReturnValue, found bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.mods[modID]
	if !ok {
		return staminal.None(), false, errors.NotFound(errors.PhaseCall, "mod", modID)
	}

	v, evalErr := i.Eval(fn)
	if evalErr != nil {
		// Undefined symbol: the hook simply is not there.
		return staminal.None(), false, nil
	}

	// Calls into interpreted code surface failures as panics.
	defer func() {
		if rec := recover(); rec != nil {
			rv, found = staminal.None(), true
			err = errors.ModPanic(modID, fn, fmt.Errorf("%v", rec))
		}
	}()

	switch f := v.Interface().(type) {
	case func():
		f()
		return staminal.None(), true, nil
	case func() string:
		return staminal.String(f()), true, nil
	case func() bool:
		return staminal.Bool(f()), true, nil
	case func() int:
		return staminal.Int(int64(f())), true, nil
	case func() int64:
		return staminal.Int(f()), true, nil
	default:
		// A global that is not a callable hook.
		return staminal.None(), false, nil
	}
}

func (a *Adapter) Unload(_ context.Context, modID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.mods[modID]; !ok {
		return errors.NotFound(errors.PhaseLoad, "mod", modID)
	}
	delete(a.mods, modID)
	return nil
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mods = make(map[string]*interp.Interpreter)
	return nil
}

// stripBuildDirectives removes leading build constraints, which are
// meaningful to the Go toolchain but confuse the interpreter.
func stripBuildDirectives(src string) string {
	lines := strings.Split(src, "\n")
	i := 0
	for i < len(lines) {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "package ") {
			break
		}
		if strings.HasPrefix(l, "//go:build") || strings.HasPrefix(l, "// +build") || l == "" {
			i++
			continue
		}
		break
	}
	return strings.Join(lines[i:], "\n")
}
