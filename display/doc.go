// Package display is a terminal display engine served behind a pinned
// proxy. It keeps a table of bordered windows, composes them into a
// plain-text frame with lipgloss chrome, and answers pointer input by
// hit-testing the topmost window under the point.
//
// The engine implements pinned.Engine: commands arrive through
// Handle on the proxy's designated thread as typed payloads
// (OpenWindow, CloseWindow, DrawText, Render, Input), and window
// lifecycle and click notifications flow back as events, emitted only
// for (window, kind) pairs with at least one listener.
package display
