package staminal

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

// Kind identifies the runtime a mod requires.
type Kind string

const (
	KindLua      Kind = "lua"
	KindGoScript Kind = "goscript"
	KindWASM     Kind = "wasm"
)

// KindForPath derives the runtime kind from a source path's suffix.
// The second return is false when the suffix maps to no known runtime.
func KindForPath(path string) (Kind, bool) {
	switch filepath.Ext(path) {
	case ".lua":
		return KindLua, true
	case ".go":
		return KindGoScript, true
	case ".wasm":
		return KindWASM, true
	}
	return "", false
}

// ReturnKind discriminates the ReturnValue variants.
type ReturnKind int

const (
	ReturnNone ReturnKind = iota
	ReturnString
	ReturnBool
	ReturnInt
)

// ReturnValue is the closed set of values a mod function may return
// across the runtime boundary. Keeping the set closed keeps marshaling
// tractable for every scripting language the host embeds.
type ReturnValue struct {
	str  string
	num  int64
	flag bool
	kind ReturnKind
}

// None is the return value of a function that returned nothing.
func None() ReturnValue { return ReturnValue{} }

// String wraps a string return value.
func String(s string) ReturnValue { return ReturnValue{kind: ReturnString, str: s} }

// Bool wraps a boolean return value.
func Bool(b bool) ReturnValue { return ReturnValue{kind: ReturnBool, flag: b} }

// Int wraps an integer return value.
func Int(i int64) ReturnValue { return ReturnValue{kind: ReturnInt, num: i} }

func (v ReturnValue) Kind() ReturnKind { return v.kind }

// Str returns the string payload. Valid only for ReturnString.
func (v ReturnValue) Str() string { return v.str }

// Flag returns the boolean payload. Valid only for ReturnBool.
func (v ReturnValue) Flag() bool { return v.flag }

// Num returns the integer payload. Valid only for ReturnInt.
func (v ReturnValue) Num() int64 { return v.num }

// String renders the value for logs and the console.
func (v ReturnValue) String() string {
	switch v.kind {
	case ReturnString:
		return v.str
	case ReturnBool:
		return strconv.FormatBool(v.flag)
	case ReturnInt:
		return strconv.FormatInt(v.num, 10)
	default:
		return "<none>"
	}
}

// GoString aids debugging in test failures.
func (v ReturnValue) GoString() string {
	switch v.kind {
	case ReturnString:
		return fmt.Sprintf("staminal.String(%q)", v.str)
	case ReturnBool:
		return fmt.Sprintf("staminal.Bool(%v)", v.flag)
	case ReturnInt:
		return fmt.Sprintf("staminal.Int(%d)", v.num)
	default:
		return "staminal.None()"
	}
}

// Adapter is the per-language execution engine that loads and calls
// into mods. One Adapter instance exists per scripting language, and
// it owns every loaded mod context for that language.
//
// Adapters serialize entry into their mods: callbacks within one
// adapter never run concurrently with each other.
type Adapter interface {
	// Kind reports the runtime kind this adapter serves.
	Kind() Kind

	// Load reads mod code from path and creates a fresh context for
	// modID. Loading an already-loaded modID is an error.
	Load(ctx context.Context, modID, path string) error

	// Call invokes fn inside the mod's context, discarding any return
	// value. A missing function is not an error: lifecycle hooks are
	// optional, so found reports whether fn existed.
	Call(ctx context.Context, modID, fn string) (found bool, err error)

	// CallWithReturn invokes fn and marshals its return value into the
	// closed ReturnValue set.
	CallWithReturn(ctx context.Context, modID, fn string) (ReturnValue, bool, error)

	// Unload destroys the mod's context.
	Unload(ctx context.Context, modID string) error

	// Close releases the adapter and every remaining mod context.
	Close(ctx context.Context) error
}
