package gsb

import (
	"context"

	"github.com/howard-nolan/gsb/transport"
	"github.com/rs/zerolog"
)

// ConnectionRef is the application-facing handle onto a broker
// connection. It wraps *Connection with exported methods and, when
// constructed with a Router, attaches itself as that Router's remote
// so that local-miss forwards escalate to the broker automatically.
type ConnectionRef struct {
	conn *Connection
}

// ConnectBroker dials addr and performs the Hello handshake, using
// gsb.Default() both to answer inbound calls and as the router that
// local-miss forwards escalate through.
func ConnectBroker(ctx context.Context, kind transport.Kind, addr string, client ClientInfo, log zerolog.Logger) (*ConnectionRef, error) {
	return ConnectBrokerWithHandler(ctx, kind, addr, client, nil, Default(), nil, log)
}

// ConnectBrokerWithHandler is the fully parameterized entry point: a
// custom CallRequestHandler (nil defaults to a LocalRouterHandler over
// router), a specific Router to attach as remote (nil attaches none),
// and an optional Metrics collector (nil disables metrics).
func ConnectBrokerWithHandler(ctx context.Context, kind transport.Kind, addr string, client ClientInfo, handler CallRequestHandler, router *Router, metrics *Metrics, log zerolog.Logger) (*ConnectionRef, error) {
	t, err := transport.Dial(ctx, kind, addr, log)
	if err != nil {
		return nil, err
	}
	if handler == nil && router != nil {
		handler = &LocalRouterHandler{Router: router}
	}

	conn, err := Connect(ctx, t, client, handler, metrics, log)
	if err != nil {
		return nil, err
	}

	ref := &ConnectionRef{conn: conn}
	if router != nil {
		router.AttachRemote(conn)
	}
	return ref, nil
}

// Bind registers addr with the broker.
func (r *ConnectionRef) Bind(ctx context.Context, addr string) error {
	return r.conn.bind(ctx, addr)
}

// Unbind deregisters addr with the broker.
func (r *ConnectionRef) Unbind(ctx context.Context, addr string) error {
	return r.conn.unbind(ctx, addr)
}

// Subscribe registers interest in topic.
func (r *ConnectionRef) Subscribe(ctx context.Context, topic string) error {
	return r.conn.subscribe(ctx, topic)
}

// Unsubscribe removes interest in topic.
func (r *ConnectionRef) Unsubscribe(ctx context.Context, topic string) error {
	return r.conn.unsubscribe(ctx, topic)
}

// Broadcast publishes data under topic, attributed to caller.
func (r *ConnectionRef) Broadcast(ctx context.Context, caller, topic string, data []byte) error {
	return r.conn.broadcast(ctx, caller, topic, data)
}

// Call performs a raw unary call against addr. When noReply is true,
// the call returns as soon as the frame is accepted by the transport.
func (r *ConnectionRef) Call(ctx context.Context, caller, addr string, body []byte, noReply bool) ([]byte, error) {
	return r.conn.forwardBytes(ctx, caller, addr, body, noReply)
}

// CallStreaming performs a raw streaming call against addr, returning
// the chunk stream directly.
func (r *ConnectionRef) CallStreaming(ctx context.Context, caller, addr string, body []byte) <-chan chunkResultPublic {
	return r.conn.streamForwardBytes(ctx, caller, addr, body)
}

// Connected reports whether the underlying connection is still
// running.
func (r *ConnectionRef) Connected() bool {
	return r.conn.Connected()
}
