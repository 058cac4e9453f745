package gsb

import "context"

// RpcMessage is implemented by every request type that can be bound or
// forwarded through the router. TypeID returns a stable identifier;
// the router appends it to the bind/forward address so that two
// message types can share a prefix without colliding.
type RpcMessage interface {
	TypeID() string
}

// Result carries either the item produced by a handler, or a
// service-level (not routing-level) error. A nil Fail means success;
// Value is only meaningful then.
type Result[Item any, Err any] struct {
	Value Item
	Fail  *Err
}

// Ok wraps a successful item.
func Ok[Item any, Err any](v Item) Result[Item, Err] {
	return Result[Item, Err]{Value: v}
}

// Failed wraps a service-level error.
func Failed[Item any, Err any](e Err) Result[Item, Err] {
	return Result[Item, Err]{Fail: &e}
}

// Succeeded reports whether r carries an item rather than a
// service-level error.
func (r Result[Item, Err]) Succeeded() bool { return r.Fail == nil }

// UnaryHandler consumes one typed request and produces one typed
// reply.
type UnaryHandler[Req RpcMessage, Item any, Err any] func(ctx context.Context, caller string, req Req) Result[Item, Err]

// StreamHandler consumes one typed request and produces a finite
// sequence of typed replies over out, returning an error if and only
// if the stream failed outright (as opposed to a per-item Fail, which
// is carried in the Result itself). The router closes out for the
// caller; handlers must not close it themselves.
type StreamHandler[Req RpcMessage, Item any, Err any] func(ctx context.Context, caller string, req Req, out chan<- Result[Item, Err]) error

// RawUnaryHandler consumes raw bytes and produces raw bytes.
type RawUnaryHandler func(ctx context.Context, call RawCall) ([]byte, error)

// RawStreamHandler consumes raw bytes and produces a sequence of
// ResponseChunk values over out. The handler must not close out; the
// router closes it once the handler returns, appending a terminal
// error chunk if the handler's return value is non-nil.
type RawStreamHandler func(ctx context.Context, call RawCall, out chan<- chunkResultPublic) error

// chunkResultPublic is the exported shape of chunkResult, used at the
// RawStreamHandler boundary so callers outside this package can
// implement raw streaming recipients.
type chunkResultPublic = chunkResult

// NewChunkResult builds a streamed value for a RawStreamHandler to
// send on its out channel.
func NewChunkResult(chunk ResponseChunk, err error) chunkResultPublic {
	return chunkResult{chunk: chunk, err: err}
}
