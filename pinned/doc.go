// Package pinned runs an engine whose entire lifetime must stay on one
// OS thread, behind a proxy usable from any goroutine.
//
// Some engines (display backends in particular) require that
// initialization, command handling and teardown all execute on the same
// thread. The Proxy owns that constraint: a host goroutine calls Serve,
// which locks itself to its OS thread, receives the engine through an
// owned handoff, and then runs the command loop. Every other goroutine
// talks to the engine only through channels:
//
//	p := pinned.NewProxy(log)
//	if err := p.Enable(); err != nil { ... }
//	go func() { _ = p.Serve(ctx, engine) }()
//
//	out, err := p.SendCommand(ctx, cmd)
//
// Each command carries its own single-reply channel, so a caller waits
// only for its own result. Events flow back through a bounded channel
// drained by PollEvent, filtered by per-(subject, kind) subscription
// counts so the engine emits only what someone is listening for.
//
// Shutdown is bounded: the proxy waits at most the given timeout for
// the engine to acknowledge, then logs a warning and reports success
// anyway so the host can always exit.
package pinned
