package gsb

import (
	"context"
	"sync"
)

// Handle is returned by every bind operation and is the only thing a
// caller needs to keep around to unbind later; it is just the address
// the slot was bound at.
type Handle string

// Addr returns the address a Handle was bound at.
func (h Handle) Addr() string { return string(h) }

// remote decouples the router from any concrete broker connection.
// Router.Forward*/StreamingForward* fall back to it on a local lookup
// miss; bind/unbind notify it best-effort. A Router with a nil remote
// behaves as a purely local registry: misses fail with KindNoEndpoint
// instead of escalating.
type remote interface {
	forwardBytes(ctx context.Context, caller, addr string, body []byte, noReply bool) ([]byte, error)
	streamForwardBytes(ctx context.Context, caller, addr string, body []byte) <-chan chunkResult
	notifyBind(addr string)
	notifyUnbind(addr string)
}

// Router is the process-wide service registry and dispatch point. The
// zero value is not usable; construct with NewRouter or reach the
// process singleton via Default.
type Router struct {
	mu    sync.Mutex
	slots *addressBag[slot]
	rem   remote
}

// NewRouter builds a standalone Router with no attached broker
// connection. Most applications want Default(); NewRouter exists for
// tests and for embedders running more than one registry in one
// process.
func NewRouter() *Router {
	return &Router{slots: newAddressBag[slot]()}
}

var (
	defaultRouter     *Router
	defaultRouterOnce sync.Once
)

// Default returns the process-wide router singleton, creating it on
// first call.
func Default() *Router {
	defaultRouterOnce.Do(func() {
		defaultRouter = NewRouter()
	})
	return defaultRouter
}

// AttachRemote wires a broker connection into the router so that
// local-miss lookups escalate to it, and so future bind/unbind calls
// notify it. Passing nil detaches the current remote.
func (r *Router) AttachRemote(rem remote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rem = rem
}

func typeKey(addr string, msg RpcMessage) string {
	return addr + "/" + msg.TypeID()
}

// bindSlot installs s at key under the registry lock and notifies the
// remote outside of it: bind/unbind notifications are best-effort and
// must never happen while holding the registry lock.
func (r *Router) bindSlot(key string, s slot) Handle {
	r.mu.Lock()
	r.slots.insert(key, s)
	rem := r.rem
	r.mu.Unlock()

	if rem != nil {
		rem.notifyBind(key)
	}
	return Handle(key)
}

// Bind installs a typed unary handler at addr for message type Req. Go
// methods cannot introduce their own type parameters, so this is a
// package-level generic function rather than a Router method.
func Bind[Req RpcMessage, Item any, Err any](r *Router, addr string, h UnaryHandler[Req, Item, Err]) Handle {
	var zero Req
	key := addr + "/" + zero.TypeID()
	return r.bindSlot(key, &unarySlot[Req, Item, Err]{handler: h, ser: defaultSerializer})
}

// BindStream installs a typed streaming handler at addr.
func BindStream[Req RpcMessage, Item any, Err any](r *Router, addr string, h StreamHandler[Req, Item, Err]) Handle {
	var zero Req
	key := addr + "/" + zero.TypeID()
	return r.bindSlot(key, &streamSlot[Req, Item, Err]{handler: h, ser: defaultSerializer})
}

// BindRaw installs a raw-bytes unary recipient at addr.
func (r *Router) BindRaw(addr string, h RawUnaryHandler) Handle {
	return r.bindSlot(addr, &rawUnarySlot{handler: h})
}

// BindRawDual installs a pair of raw unary + raw streaming recipients
// at one address.
func (r *Router) BindRawDual(addr string, rpc RawUnaryHandler, stream RawStreamHandler) Handle {
	return r.bindSlot(addr, &dualRawSlot{
		rpc:    &rawUnarySlot{handler: rpc},
		stream: &rawStreamSlot{handler: stream},
	})
}

// Unbind bulk-removes every slot whose key equals prefix or starts
// with prefix+"/". It reports whether at least one slot was removed,
// and notifies the remote of each removed key.
func (r *Router) Unbind(_ context.Context, prefix string) (bool, error) {
	r.mu.Lock()
	var removed []string
	for _, k := range r.slots.keys() {
		if k == prefix || (len(k) > len(prefix) && k[:len(prefix)] == prefix && k[len(prefix)] == '/') {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		r.slots.remove(k)
	}
	rem := r.rem
	r.mu.Unlock()

	if rem != nil {
		for _, k := range removed {
			rem.notifyUnbind(k)
		}
	}
	return len(removed) > 0, nil
}

func (r *Router) lookup(key string) (slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.lookupLongestPrefix(key)
}

// Bindings returns every address currently bound in the local
// registry, in no particular order. It exists for introspection
// (cmd/gsbd's debug surface); the routing core never calls it.
func (r *Router) Bindings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.keys()
}

// Forward resolves addr for message type Req, delivering req either
// through the same-type fast path, through the local slot's
// serializing send, or through the attached remote.
func Forward[Req RpcMessage, Item any, Err any](ctx context.Context, r *Router, addr, caller string, req Req) (Result[Item, Err], error) {
	var zero Result[Item, Err]
	key := typeKey(addr, req)

	if s, ok := r.lookup(key); ok {
		if typed, ok := s.(*unarySlot[Req, Item, Err]); ok {
			return typed.handler(ctx, caller, req), nil
		}

		body, err := defaultSerializer.Marshal(req)
		if err != nil {
			return zero, FromAddr(addr, err)
		}
		out, err := s.send(ctx, RawCall{Caller: caller, Addr: key, Body: body})
		if err != nil {
			return zero, FromAddr(addr, err)
		}
		return decodeUnaryReply[Item, Err](addr, out)
	}

	if r.rem == nil {
		return zero, FromAddr(addr, noEndpoint(key))
	}
	body, err := defaultSerializer.Marshal(req)
	if err != nil {
		return zero, FromAddr(addr, err)
	}
	out, err := r.rem.forwardBytes(ctx, caller, key, body, false)
	if err != nil {
		return zero, FromAddr(addr, err)
	}
	return decodeUnaryReply[Item, Err](addr, out)
}

func decodeUnaryReply[Item any, Err any](addr string, body []byte) (Result[Item, Err], error) {
	var zero Result[Item, Err]
	if len(body) == 0 {
		return zero, FromAddr(addr, gsbFailure("empty response from remote service"))
	}
	var result Result[Item, Err]
	if err := defaultSerializer.Unmarshal(body, &result); err != nil {
		return zero, FromAddr(addr, err)
	}
	return result, nil
}

// Push is the fire-and-forget counterpart of Forward: the caller gets
// no reply, and the call returns as soon as the frame is accepted.
// Push takes the same typed fast path as Forward.
func Push[Req RpcMessage, Item any, Err any](ctx context.Context, r *Router, addr, caller string, req Req) error {
	key := typeKey(addr, req)

	if s, ok := r.lookup(key); ok {
		if typed, ok := s.(*unarySlot[Req, Item, Err]); ok {
			go typed.handler(ctx, caller, req)
			return nil
		}
		body, err := defaultSerializer.Marshal(req)
		if err != nil {
			return FromAddr(addr, err)
		}
		_, err = s.send(ctx, RawCall{Caller: caller, Addr: key, Body: body, NoReply: true})
		return FromAddr(addr, err)
	}

	if r.rem == nil {
		return FromAddr(addr, noEndpoint(key))
	}
	body, err := defaultSerializer.Marshal(req)
	if err != nil {
		return FromAddr(addr, err)
	}
	_, err = r.rem.forwardBytes(ctx, caller, key, body, true)
	return FromAddr(addr, err)
}

// StreamingForward resolves addr for message type Req and returns a
// channel of typed items. Like Forward, it takes a local-stream fast
// path that skips serialization when caller and bound handler agree on
// Req/Item/Err. The returned channel is closed after the final item or
// error.
func StreamingForward[Req RpcMessage, Item any, Err any](ctx context.Context, r *Router, addr, caller string, req Req) <-chan StreamItem[Item, Err] {
	out := make(chan StreamItem[Item, Err], streamChunkBuffer)
	key := typeKey(addr, req)

	s, ok := r.lookup(key)
	if !ok && r.rem == nil {
		go func() {
			defer close(out)
			out <- StreamItem[Item, Err]{Err: FromAddr(addr, noEndpoint(key))}
		}()
		return out
	}

	if ok {
		if typed, ok := s.(*streamSlot[Req, Item, Err]); ok {
			go func() {
				defer close(out)
				items := make(chan Result[Item, Err], streamChunkBuffer)
				done := make(chan error, 1)
				go func() {
					defer close(items)
					done <- typed.handler(ctx, caller, req, items)
				}()
				for item := range items {
					out <- StreamItem[Item, Err]{Value: item}
				}
				if err := <-done; err != nil {
					out <- StreamItem[Item, Err]{Err: FromAddr(addr, err)}
				}
			}()
			return out
		}

		go func() {
			defer close(out)
			body, err := defaultSerializer.Marshal(req)
			if err != nil {
				out <- StreamItem[Item, Err]{Err: FromAddr(addr, err)}
				return
			}
			chunks := s.callStream(ctx, RawCall{Caller: caller, Addr: key, Body: body})
			streamDecodeChunks[Item, Err](addr, chunks, out)
		}()
		return out
	}

	go func() {
		defer close(out)
		body, err := defaultSerializer.Marshal(req)
		if err != nil {
			out <- StreamItem[Item, Err]{Err: FromAddr(addr, err)}
			return
		}
		chunks := r.rem.streamForwardBytes(ctx, caller, key, body)
		streamDecodeChunks[Item, Err](addr, chunks, out)
	}()
	return out
}

func streamDecodeChunks[Item any, Err any](addr string, chunks <-chan chunkResult, out chan<- StreamItem[Item, Err]) {
	for cr := range chunks {
		if cr.err != nil {
			out <- StreamItem[Item, Err]{Err: FromAddr(addr, cr.err)}
			return
		}
		if cr.chunk.IsEOS() {
			return
		}
		var item Result[Item, Err]
		if err := defaultSerializer.Unmarshal(cr.chunk.Data, &item); err != nil {
			out <- StreamItem[Item, Err]{Err: FromAddr(addr, err)}
			return
		}
		out <- StreamItem[Item, Err]{Value: item}
	}
}

// StreamItem is one element of a StreamingForward result: either a
// typed item or a terminal error.
type StreamItem[Item any, Err any] struct {
	Value Result[Item, Err]
	Err   error
}

// ForwardBytes is the byte-level counterpart of Forward: it dispatches
// to a local slot or, on a miss, escalates to the remote.
func (r *Router) ForwardBytes(ctx context.Context, caller, addr string, body []byte, noReply bool) ([]byte, error) {
	if s, ok := r.lookup(addr); ok {
		return s.send(ctx, RawCall{Caller: caller, Addr: addr, Body: body, NoReply: noReply})
	}
	if r.rem == nil {
		return nil, FromAddr(addr, noEndpoint(addr))
	}
	return r.rem.forwardBytes(ctx, caller, addr, body, noReply)
}

// StreamingForwardBytes is the byte-level counterpart of
// StreamingForward.
func (r *Router) StreamingForwardBytes(ctx context.Context, caller, addr string, body []byte) <-chan chunkResult {
	if s, ok := r.lookup(addr); ok {
		return s.callStream(ctx, RawCall{Caller: caller, Addr: addr, Body: body})
	}
	if r.rem == nil {
		out := make(chan chunkResult, 1)
		out <- chunkResult{err: FromAddr(addr, noEndpoint(addr))}
		close(out)
		return out
	}
	return r.rem.streamForwardBytes(ctx, caller, addr, body)
}

// ForwardBytesLocal is ForwardBytes restricted to the local registry:
// a miss fails with NoEndpoint rather than escalating to the remote.
func (r *Router) ForwardBytesLocal(ctx context.Context, caller, addr string, body []byte, noReply bool) ([]byte, error) {
	s, ok := r.lookup(addr)
	if !ok {
		return nil, FromAddr(addr, noEndpoint(addr))
	}
	return s.send(ctx, RawCall{Caller: caller, Addr: addr, Body: body, NoReply: noReply})
}

// StreamingForwardBytesLocal is StreamingForwardBytes restricted to
// the local registry. The broker connection's CallRequestHandler uses
// this, never the escalating variant: an inbound CallRequest from the
// broker names a locally bound service by definition, and must not
// bounce back out to the same connection on a miss.
func (r *Router) StreamingForwardBytesLocal(ctx context.Context, caller, addr string, body []byte) <-chan chunkResult {
	s, ok := r.lookup(addr)
	if !ok {
		out := make(chan chunkResult, 1)
		out <- chunkResult{err: FromAddr(addr, noEndpoint(addr))}
		close(out)
		return out
	}
	return s.callStream(ctx, RawCall{Caller: caller, Addr: addr, Body: body})
}
