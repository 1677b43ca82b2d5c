// Package staminal provides the concurrency core of the staminal host:
// the contracts shared by every runtime adapter, the event dispatch
// engine, the cross-runtime timer registry, and the thread-pinned
// engine proxy.
//
// # Architecture Overview
//
// The repository is organized into packages with distinct responsibilities:
//
//	staminal/            Root package with the Adapter contract and ReturnValue
//	├── runtime/         Mod runtime manager, manifests, and the adapters
//	│   ├── lua/         gopher-lua adapter
//	│   ├── goscript/    yaegi (interpreted Go) adapter
//	│   └── wasm/        wazero adapter
//	├── event/           Priority-ordered event chain registry and dispatcher
//	├── timer/           Process-wide timer registry with cancellation tokens
//	├── pinned/          Proxy bridging async callers to a thread-pinned engine
//	├── display/         Terminal display engine, a concrete pinned service
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Load a mod and invoke its attach hook:
//
//	mgr := runtime.NewManager(logger)
//	mgr.RegisterAdapter(lua.New(logger))
//
//	if err := mgr.LoadMod(ctx, "greeter", "mods/greeter.lua"); err != nil {
//	    log.Fatal(err)
//	}
//	found, err := mgr.CallModFunction(ctx, "greeter", "on_attach")
//
// Dispatch an event through the chain:
//
//	events := event.NewRegistry(logger)
//	events.Register("player-join", "greeter", 10, handler)
//	outcome := events.SendEvent("player-join", map[string]any{"name": "ada"})
//
// # Concurrency Model
//
// Each adapter runs its mods on one cooperative scheduler: callbacks
// within an adapter never run concurrently with each other. The event
// dispatch walk is fully synchronous; anything asynchronous a handler
// wants to do runs as a detached continuation after dispatch returns.
// The pinned proxy owns the only communication path to an engine that
// must live on one OS thread for its entire lifetime.
package staminal
