// Package lua implements the staminal.Adapter contract on top of
// gopher-lua. Every mod owns an isolated *lua.LState; the adapter
// serializes entry into them, so mod callbacks never run concurrently
// with each other.
package lua

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

type Adapter struct {
	log    *zap.Logger
	mu     sync.Mutex
	states map[string]*lua.LState
}

func New(log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		log:    log,
		states: make(map[string]*lua.LState),
	}
}

func (a *Adapter) Kind() staminal.Kind { return staminal.KindLua }

// Load creates a fresh state for modID and executes the mod's source
// file in it.
func (a *Adapter) Load(ctx context.Context, modID, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.states[modID]; dup {
		return errors.DuplicateMod(errors.PhaseLoad, modID)
	}

	L := lua.NewState()
	L.SetContext(ctx)
	if err := L.DoFile(path); err != nil {
		L.Close()
		return errors.Source(modID, err)
	}
	L.RemoveContext()

	a.states[modID] = L
	a.log.Debug("lua mod loaded", zap.String("mod_id", modID), zap.String("path", path))
	return nil
}

func (a *Adapter) Call(ctx context.Context, modID, fn string) (bool, error) {
	_, found, err := a.call(ctx, modID, fn, 0)
	return found, err
}

func (a *Adapter) CallWithReturn(ctx context.Context, modID, fn string) (staminal.ReturnValue, bool, error) {
	return a.call(ctx, modID, fn, 1)
}

func (a *Adapter) call(ctx context.Context, modID, fn string, nret int) (staminal.ReturnValue, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	L, ok := a.states[modID]
	if !ok {
		return staminal.None(), false, errors.NotFound(errors.PhaseCall, "mod", modID)
	}

	global := L.GetGlobal(fn)
	lfn, ok := global.(*lua.LFunction)
	if !ok {
		// Absent or not callable: lifecycle hooks are optional.
		return staminal.None(), false, nil
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: lfn, NRet: nret, Protect: true}); err != nil {
		return staminal.None(), true, errors.ModPanic(modID, fn, err)
	}
	if nret == 0 {
		return staminal.None(), true, nil
	}

	ret := L.Get(-1)
	L.Pop(1)
	return fromLua(ret), true, nil
}

// fromLua marshals a Lua value into the closed ReturnValue set.
// Anything outside the set (tables, userdata) collapses to none.
func fromLua(v lua.LValue) staminal.ReturnValue {
	switch lv := v.(type) {
	case lua.LString:
		return staminal.String(string(lv))
	case lua.LBool:
		return staminal.Bool(bool(lv))
	case lua.LNumber:
		return staminal.Int(int64(lv))
	default:
		return staminal.None()
	}
}

func (a *Adapter) Unload(_ context.Context, modID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	L, ok := a.states[modID]
	if !ok {
		return errors.NotFound(errors.PhaseLoad, "mod", modID)
	}
	L.Close()
	delete(a.states, modID)
	return nil
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, L := range a.states {
		L.Close()
		delete(a.states, id)
	}
	return nil
}
