// Package event implements the priority-ordered event chain: the
// registry of handlers and the dispatch engine that walks them.
//
// One dispatch builds a single Response shared by reference across the
// whole chain, while every handler gets its own copy of the Request.
// The walk stops at the first handler that sets Handled. The dispatcher
// captures dispatch-visible fields the instant a handler returns, so a
// handler doing asynchronous work must set them before spawning it
// (the synchronous-capture rule). A panicking handler is logged with
// its mod id and skipped; the chain keeps running.
package event
