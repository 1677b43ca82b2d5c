package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/errors"
)

// Manager owns all registered runtime adapters and routes load and
// call requests to the adapter selected by a mod's declared entry-point
// kind. It is the host's entry point for loading mods and invoking
// their lifecycle hooks; steady-state event dispatch runs directly
// between adapters and does not pass through the Manager.
type Manager struct {
	log      *zap.Logger
	mu       sync.RWMutex
	adapters map[staminal.Kind]staminal.Adapter
	mods     map[string]staminal.Kind
	onUnload func(modID string)
}

// NewManager creates a manager with no adapters registered.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log,
		adapters: make(map[staminal.Kind]staminal.Adapter),
		mods:     make(map[string]staminal.Kind),
	}
}

// RegisterAdapter registers a at its kind. At most one adapter may
// serve a kind.
func (m *Manager) RegisterAdapter(a staminal.Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.adapters[a.Kind()]; dup {
		return errors.InvalidInput(errors.PhaseLoad,
			"adapter already registered for kind "+string(a.Kind()))
	}
	m.adapters[a.Kind()] = a
	m.log.Info("runtime adapter registered", zap.String("kind", string(a.Kind())))
	return nil
}

// LoadMod loads mod code for modID from path.
//
// When path is a directory it must contain a mod.yaml manifest naming
// the runtime kind and entry file, and the manifest's id wins over
// modID when modID is empty. A plain file declares its kind through
// its suffix.
func (m *Manager) LoadMod(ctx context.Context, modID, path string) error {
	entry := path
	kind, kindOK := staminal.Kind(""), false

	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		man, err := LoadManifest(path)
		if err != nil {
			return err
		}
		if modID == "" {
			modID = man.ID
		}
		entry = filepath.Join(path, man.Entry)
		kind, kindOK = man.Runtime, true
	} else {
		kind, kindOK = staminal.KindForPath(path)
	}

	if modID == "" {
		return errors.InvalidInput(errors.PhaseLoad, "empty mod id")
	}
	if !kindOK {
		return errors.UnsupportedRuntime(filepath.Ext(path))
	}

	m.mu.Lock()
	if _, dup := m.mods[modID]; dup {
		m.mu.Unlock()
		return errors.DuplicateMod(errors.PhaseLoad, modID)
	}
	adapter, ok := m.adapters[kind]
	if !ok {
		m.mu.Unlock()
		return errors.UnsupportedRuntime(string(kind))
	}
	// Reserve the id before the (possibly slow) load so a concurrent
	// load of the same id fails fast.
	m.mods[modID] = kind
	m.mu.Unlock()

	if err := adapter.Load(ctx, modID, entry); err != nil {
		m.mu.Lock()
		delete(m.mods, modID)
		m.mu.Unlock()
		return err
	}

	m.log.Info("mod loaded",
		zap.String("mod_id", modID),
		zap.String("kind", string(kind)),
		zap.String("entry", entry))
	return nil
}

// adapterFor resolves the owning adapter of a loaded mod.
func (m *Manager) adapterFor(modID string) (staminal.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kind, ok := m.mods[modID]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "mod", modID)
	}
	return m.adapters[kind], nil
}

// CallModFunction invokes fn inside modID's context. A missing
// function reports found=false without error: lifecycle hooks are
// optional.
func (m *Manager) CallModFunction(ctx context.Context, modID, fn string) (bool, error) {
	adapter, err := m.adapterFor(modID)
	if err != nil {
		return false, err
	}
	return adapter.Call(ctx, modID, fn)
}

// CallModFunctionWithReturn invokes fn and marshals its return value.
func (m *Manager) CallModFunctionWithReturn(ctx context.Context, modID, fn string) (staminal.ReturnValue, bool, error) {
	adapter, err := m.adapterFor(modID)
	if err != nil {
		return staminal.None(), false, err
	}
	return adapter.CallWithReturn(ctx, modID, fn)
}

// SetUnloadHook registers fn to run after every unload, so the host
// can drop the mod's event registrations in the same breath.
func (m *Manager) SetUnloadHook(fn func(modID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnload = fn
}

// UnloadMod destroys the mod's context and forgets its id.
func (m *Manager) UnloadMod(ctx context.Context, modID string) error {
	m.mu.Lock()
	kind, ok := m.mods[modID]
	if ok {
		delete(m.mods, modID)
	}
	adapter := m.adapters[kind]
	hook := m.onUnload
	m.mu.Unlock()

	if !ok {
		return errors.NotFound(errors.PhaseLoad, "mod", modID)
	}
	if hook != nil {
		defer hook(modID)
	}
	return adapter.Unload(ctx, modID)
}

// Mods returns the ids of every loaded mod, sorted.
func (m *Manager) Mods() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.mods))
	for id := range m.mods {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every registered adapter, destroying all remaining mod
// contexts.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for kind, a := range m.adapters {
		if err := a.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.adapters, kind)
	}
	m.mods = make(map[string]staminal.Kind)
	return firstErr
}
