package event

// Request describes what happened, built fresh for each dispatch.
// Handlers receive independent copies: a handler's local mutation of
// its Request never affects sibling handlers.
type Request struct {
	// Name is the event name the chain was dispatched for.
	Name string
	// Fields carries the event-specific payload.
	Fields map[string]any
}

// Clone returns an independent copy with its own Fields map.
func (r *Request) Clone() *Request {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return &Request{Name: r.Name, Fields: fields}
}

// Response is threaded by reference through one whole chain and
// discarded when the chain ends.
//
// The dispatcher reads Handled and Output immediately after each
// handler returns. A handler that wants to do asynchronous work must
// set every Response field it cares about before spawning that work;
// anything set from a detached continuation is not observed by the
// dispatcher or by later handlers, and is a data race besides.
type Response struct {
	// Handled stops the walk as soon as a handler sets it.
	Handled bool
	// Context is free-form scratch space handlers use to pass state to
	// later handlers in the same chain.
	Context map[string]any
	// Output carries the event-specific output fields captured into
	// the Outcome when the chain ends.
	Output map[string]any
}

// Handler is the synchronous entry point of one registration.
type Handler func(req *Request, res *Response)

// Outcome is what SendEvent returns to the caller: the handled flag
// and a snapshot of the output fields taken when the walk ended.
type Outcome struct {
	Handled bool
	Output  map[string]any
}
