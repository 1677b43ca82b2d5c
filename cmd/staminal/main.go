package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	staminal "github.com/MagiusCHE/staminal-sub000"
	"github.com/MagiusCHE/staminal-sub000/display"
	"github.com/MagiusCHE/staminal-sub000/event"
	"github.com/MagiusCHE/staminal-sub000/pinned"
	"github.com/MagiusCHE/staminal-sub000/runtime"
	"github.com/MagiusCHE/staminal-sub000/runtime/goscript"
	luamod "github.com/MagiusCHE/staminal-sub000/runtime/lua"
	wasmmod "github.com/MagiusCHE/staminal-sub000/runtime/wasm"
	"github.com/MagiusCHE/staminal-sub000/timer"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		modsDir     = flag.String("mods", "", "Directory of mods to load (manifest dirs or .lua/.go/.wasm files)")
		eventName   = flag.String("event", "", "Dispatch one event and print the outcome")
		withDisplay = flag.Bool("display", false, "Bring up the display engine on its pinned thread")
		interactive = flag.Bool("i", false, "Interactive console")
		debug       = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *modsDir == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: staminal -mods <dir> [-event name] [-display]")
		fmt.Fprintln(os.Stderr, "       staminal -mods <dir> -i  (interactive console)")
		os.Exit(1)
	}
	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
		os.Exit(1)
	}

	if err := run(*modsDir, *eventName, *withDisplay, *interactive, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(modsDir, eventName string, withDisplay, interactive, debug bool) error {
	ctx := context.Background()

	log := newLogger(debug, interactive)
	defer log.Sync()

	h, err := newHost(ctx, log, withDisplay)
	if err != nil {
		return err
	}
	defer h.close(ctx)

	if modsDir != "" {
		if err := h.loadMods(ctx, modsDir); err != nil {
			return err
		}
	}

	if eventName != "" {
		out := h.send(ctx, eventName, nil)
		fmt.Printf("event %s handled=%v\n", eventName, out.Handled)
		for _, k := range sortedKeys(out.Output) {
			fmt.Printf("  %s: %v\n", k, out.Output[k])
		}
	}

	if interactive {
		return runInteractive(ctx, h)
	}
	return nil
}

// newLogger builds the host logger. Interactive mode keeps the screen
// for the console, so logs drop to errors only.
func newLogger(debug, interactive bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if interactive {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// host owns every subsystem for one process: the mod manager with its
// adapters, the event and timer registries, and optionally the display
// engine behind its pinned proxy.
type host struct {
	log    *zap.Logger
	mods   *runtime.Manager
	events *event.Registry
	timers *timer.Registry
	proxy  *pinned.Proxy

	timerFired chan uint32

	// bridged tracks, per event name, which mods already have their
	// on_<event> hook registered on that chain.
	bridgeMu sync.Mutex
	bridged  map[string]map[string]bool
}

func newHost(ctx context.Context, log *zap.Logger, withDisplay bool) (*host, error) {
	h := &host{
		log:        log,
		mods:       runtime.NewManager(log),
		events:     event.NewRegistry(log),
		timers:     timer.NewRegistry(log),
		timerFired: make(chan uint32, 16),
		bridged:    make(map[string]map[string]bool),
	}

	h.mods.SetUnloadHook(func(modID string) {
		h.events.UnregisterMod(modID)
		h.dropBridges(modID)
	})

	wasm, err := wasmmod.New(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("wasm adapter: %w", err)
	}
	for _, a := range []staminal.Adapter{luamod.New(log), goscript.New(log), wasm} {
		if err := h.mods.RegisterAdapter(a); err != nil {
			return nil, err
		}
	}

	if withDisplay {
		h.proxy = pinned.NewProxy(log)
		if err := h.proxy.Enable(); err != nil {
			return nil, err
		}
		go func() {
			if err := h.proxy.Serve(ctx, display.NewEngine(log)); err != nil {
				log.Error("display engine exited", zap.Error(err))
			}
		}()
	}
	return h, nil
}

func (h *host) close(ctx context.Context) {
	for _, id := range h.mods.Mods() {
		if _, err := h.mods.CallModFunction(ctx, id, "on_detach"); err != nil {
			h.log.Warn("detach hook failed", zap.String("mod_id", id), zap.Error(err))
		}
	}
	if h.proxy != nil {
		if err := h.proxy.Shutdown(shutdownTimeout); err != nil {
			h.log.Warn("display shutdown", zap.Error(err))
		}
	}
	h.timers.Close()
	if err := h.mods.Close(ctx); err != nil {
		h.log.Warn("manager close", zap.Error(err))
	}
}

// loadMods loads every mod under dir: subdirectories carrying a
// manifest, and bare source files with a recognized suffix. Each
// loaded mod gets its on_attach hook, which is optional.
func (h *host) loadMods(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read mods dir: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		modID := ""
		if entry.IsDir() {
			if _, err := os.Stat(filepath.Join(path, runtime.ManifestName)); err != nil {
				continue
			}
		} else {
			if _, ok := staminal.KindForPath(path); !ok {
				continue
			}
			modID = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}

		if err := h.mods.LoadMod(ctx, modID, path); err != nil {
			return err
		}
	}

	for _, id := range h.mods.Mods() {
		if _, err := h.mods.CallModFunction(ctx, id, "on_attach"); err != nil {
			h.log.Warn("attach hook failed", zap.String("mod_id", id), zap.Error(err))
		}
	}
	h.log.Info("mods loaded", zap.Strings("mods", h.mods.Mods()))
	return nil
}

// send dispatches one event through the registry. Before each
// dispatch every loaded mod is bridged onto the chain: its `on_<name>`
// function runs as the handler, and a mod that returns true claims the
// event. Bridging reconciles against the live mod set, so a mod
// loaded after the event's first dispatch still joins the chain.
func (h *host) send(ctx context.Context, name string, fields map[string]any) event.Outcome {
	h.ensureBridges(ctx, name)
	return h.events.SendEvent(name, fields)
}

func (h *host) ensureBridges(ctx context.Context, name string) {
	h.bridgeMu.Lock()
	defer h.bridgeMu.Unlock()

	set := h.bridged[name]
	if set == nil {
		set = make(map[string]bool)
		h.bridged[name] = set
	}

	fn := "on_" + strings.ReplaceAll(name, ".", "_")
	for _, id := range h.mods.Mods() {
		if set[id] {
			continue
		}
		set[id] = true
		h.events.Register(name, id, 0, func(req *event.Request, res *event.Response) {
			rv, found, err := h.mods.CallModFunctionWithReturn(ctx, id, fn)
			if err != nil {
				h.log.Warn("event hook failed",
					zap.String("event", name), zap.String("mod_id", id), zap.Error(err))
				return
			}
			if !found {
				return
			}
			if rv.Kind() == staminal.ReturnBool && rv.Flag() {
				res.Handled = true
				res.Output["mod_id"] = id
			}
		})
	}
}

// dropBridges forgets a mod's bridge registrations so a later load of
// the same id re-bridges onto every event it handles.
func (h *host) dropBridges(modID string) {
	h.bridgeMu.Lock()
	defer h.bridgeMu.Unlock()
	for _, set := range h.bridged {
		delete(set, modID)
	}
}

// scheduleTimer arms a one-shot timer whose firing is announced on the
// timerFired channel, where the console picks it up.
func (h *host) scheduleTimer(delay time.Duration) uint32 {
	// The callback needs its own timer ID, which Schedule only
	// returns; gate the first firing on the assignment.
	armed := make(chan struct{})
	var id uint32
	id = h.timers.Schedule(delay, false, func() {
		<-armed
		select {
		case h.timerFired <- id:
		default:
		}
	})
	close(armed)
	return id
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
