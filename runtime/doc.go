// Package runtime implements the mod runtime manager: the host-facing
// entry point that owns every registered adapter and routes load,
// call, and unload requests to the adapter a mod's declared runtime
// kind selects.
//
// The concrete adapters live in the subpackages lua, goscript, and
// wasm; each implements the staminal.Adapter contract.
package runtime
