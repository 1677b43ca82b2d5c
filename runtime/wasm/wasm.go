// Package wasm implements the staminal.Adapter contract on top of
// wazero. The adapter owns one shared wazero runtime; every mod is a
// compiled core module instantiated into it. Mod functions are plain
// exports taking no parameters, returning nothing or a single integer.
package wasm

import (
	"context"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

type Adapter struct {
	log     *zap.Logger
	runtime wazero.Runtime
	mu      sync.Mutex
	mods    map[string]api.Module
}

// Config holds configuration for adapter creation.
type Config struct {
	// MemoryLimitPages caps linear memory per mod in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

func New(ctx context.Context, log *zap.Logger) (*Adapter, error) {
	return NewWithConfig(ctx, log, nil)
}

func NewWithConfig(ctx context.Context, log *zap.Logger, cfg *Config) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	// Mods built with WASI toolchains import wasi_snapshot_preview1.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindSource).
			Detail("instantiate WASI").Cause(err).Build()
	}

	return &Adapter{
		log:     log,
		runtime: r,
		mods:    make(map[string]api.Module),
	}, nil
}

func (a *Adapter) Kind() staminal.Kind { return staminal.KindWASM }

func (a *Adapter) Load(ctx context.Context, modID, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.mods[modID]; dup {
		return errors.DuplicateMod(errors.PhaseLoad, modID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Source(modID, err)
	}

	compiled, err := a.runtime.CompileModule(ctx, data)
	if err != nil {
		return errors.Source(modID, err)
	}

	// Anonymous instance name so mod ids never collide inside wazero's
	// namespace.
	instance, err := a.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.Source(modID, err)
	}

	a.mods[modID] = instance
	a.log.Debug("wasm mod loaded", zap.String("mod_id", modID), zap.String("path", path))
	return nil
}

func (a *Adapter) Call(ctx context.Context, modID, fn string) (bool, error) {
	_, found, err := a.CallWithReturn(ctx, modID, fn)
	return found, err
}

func (a *Adapter) CallWithReturn(ctx context.Context, modID, fn string) (staminal.ReturnValue, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	instance, ok := a.mods[modID]
	if !ok {
		return staminal.None(), false, errors.NotFound(errors.PhaseCall, "mod", modID)
	}

	exported := instance.ExportedFunction(fn)
	if exported == nil {
		return staminal.None(), false, nil
	}

	results, err := exported.Call(ctx)
	if err != nil {
		// Traps inside the mod (unreachable, out-of-bounds) land here.
		return staminal.None(), true, errors.ModPanic(modID, fn, err)
	}
	if len(results) == 0 {
		return staminal.None(), true, nil
	}
	return staminal.Int(int64(results[0])), true, nil
}

func (a *Adapter) Unload(ctx context.Context, modID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	instance, ok := a.mods[modID]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "mod", modID)
	}
	delete(a.mods, modID)
	return instance.Close(ctx)
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mods = make(map[string]api.Module)
	return a.runtime.Close(ctx)
}
