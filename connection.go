package gsb

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/howard-nolan/gsb/gsbproto"
	"github.com/rs/zerolog"
)

// frameConn is the minimal transport contract Connection depends on;
// *transport.Transport satisfies it, and so can an in-memory pipe in
// tests, without Connection depending on the transport package's
// concrete type.
type frameConn interface {
	ReadFrame() (gsbproto.Frame, error)
	WriteFrame(tag gsbproto.Tag, msg any) error
	Close() error
}

// CallRequestHandler answers inbound CallRequest/BroadcastRequest
// frames on behalf of the local process. DoCall's returned
// channel must eventually close; NoReply callers still drain it to let
// the handler run to completion.
type CallRequestHandler interface {
	DoCall(ctx context.Context, requestID uint64, caller, address string, data []byte, noReply bool) <-chan chunkResult
	HandleEvent(caller, topic string, data []byte)
	OnDisconnect()
}

// LocalRouterHandler is the default CallRequestHandler: it answers
// inbound calls out of a Router's local registry only, and never
// escalates back out over the same connection on a miss.
type LocalRouterHandler struct {
	Router *Router
}

func (h *LocalRouterHandler) DoCall(ctx context.Context, _ uint64, caller, address string, data []byte, _ bool) <-chan chunkResult {
	return h.Router.StreamingForwardBytesLocal(ctx, caller, address, data)
}

func (h *LocalRouterHandler) HandleEvent(caller, topic string, _ []byte) {
}

func (h *LocalRouterHandler) OnDisconnect() {}

func genRequestID() uint64 {
	return rand.Uint64() & 0x001f_ffff_ffff_ffff
}

// replyQueue is a FIFO of one-shot waiters for the register/
// unregister/subscribe/unsubscribe/broadcast reply families, matched
// positionally: the Nth reply of a family answers the Nth request of
// that family.
type replyQueue struct {
	mu sync.Mutex
	q  []chan error
}

func (rq *replyQueue) push(ch chan error) {
	rq.mu.Lock()
	rq.q = append(rq.q, ch)
	rq.mu.Unlock()
}

func (rq *replyQueue) pop() (chan error, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if len(rq.q) == 0 {
		return nil, false
	}
	ch := rq.q[0]
	rq.q = rq.q[1:]
	return ch, true
}

func (rq *replyQueue) failAll(err error) {
	rq.mu.Lock()
	pending := rq.q
	rq.q = nil
	rq.mu.Unlock()
	for _, ch := range pending {
		ch <- err
		close(ch)
	}
}

// Connection is the broker-client connection actor. One goroutine
// (run) owns the read loop and is the only place that mutates
// reply-demultiplexing state outside of the mutexes below; writeMu
// guards the "enqueue waiter, write frame" critical section that every
// outbound command shares, which is what preserves FIFO reply ordering
// without a dedicated mailbox goroutine.
type Connection struct {
	transport frameConn
	handler   CallRequestHandler
	client    ClientInfo
	log       zerolog.Logger
	metrics   *Metrics

	writeMu sync.Mutex

	registerQ   replyQueue
	unregisterQ replyQueue
	subscribeQ  replyQueue
	unsubQ      replyQueue
	broadcastQ  replyQueue

	callMu    sync.Mutex
	callReply map[uint64]chan chunkResult
	callStart map[uint64]time.Time
	// callDone holds one closed-on-completion signal per in-flight
	// streamForwardBytes call, so its watcher goroutine can retire
	// itself as soon as handleCallReply sees the terminal chunk instead
	// of blocking until ctx is cancelled or the connection stops.
	callDone map[uint64]chan struct{}

	serverMu sync.Mutex
	server   *gsbproto.Hello

	closed    chan struct{}
	closeOnce sync.Once
	stopErr   error
}

// Connect writes the Hello handshake frame and starts the read loop.
// handler answers inbound calls; a nil handler defaults to a
// LocalRouterHandler bound to gsb.Default().
func Connect(ctx context.Context, t frameConn, client ClientInfo, handler CallRequestHandler, metrics *Metrics, log zerolog.Logger) (*Connection, error) {
	if handler == nil {
		handler = &LocalRouterHandler{Router: Default()}
	}
	c := &Connection{
		transport: t,
		handler:   handler,
		client:    client,
		log:       log.With().Str("component", "broker_connection").Logger(),
		metrics:   metrics,
		callReply: make(map[uint64]chan chunkResult),
		callStart: make(map[uint64]time.Time),
		callDone:  make(map[uint64]chan struct{}),
		closed:    make(chan struct{}),
	}

	hello := gsbproto.Hello{
		Name:       client.Name,
		Version:    client.Version.String(),
		InstanceID: client.InstanceID.String(),
	}
	c.writeMu.Lock()
	err := c.transport.WriteFrame(gsbproto.TagHello, hello)
	c.writeMu.Unlock()
	if err != nil {
		return nil, newErr(KindFailure, "no connection")
	}
	c.metrics.recordFrameWritten()

	go c.run(ctx)
	return c, nil
}

// Connected reports whether the connection's read loop is still
// running.
func (c *Connection) Connected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *Connection) run(ctx context.Context) {
	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			c.stop(newErr(KindProtocol, fmt.Sprintf("read failed: %v", err)))
			return
		}
		c.metrics.recordFrameRead()

		if stopErr := c.dispatch(ctx, frame); stopErr != nil {
			c.stop(stopErr)
			return
		}
	}
}

func (c *Connection) dispatch(ctx context.Context, frame gsbproto.Frame) error {
	switch frame.Tag {
	case gsbproto.TagHello:
		var hello gsbproto.Hello
		if err := frame.Decode(&hello); err != nil {
			return newErr(KindProtocol, "malformed hello")
		}
		c.serverMu.Lock()
		alreadyHello := c.server != nil
		if !alreadyHello {
			c.server = &hello
		}
		c.serverMu.Unlock()
		if alreadyHello {
			return newErr(KindProtocol, "unexpected second hello")
		}
		return nil

	case gsbproto.TagRegisterReply:
		return c.resolveSimpleReply(&frame, &c.registerQ, "register", decodeRegisterReply)
	case gsbproto.TagUnregisterReply:
		return c.resolveSimpleReply(&frame, &c.unregisterQ, "unregister", decodeUnregisterReply)
	case gsbproto.TagSubscribeReply:
		return c.resolveSimpleReply(&frame, &c.subscribeQ, "subscribe", decodeSubscribeReply)
	case gsbproto.TagUnsubscribeReply:
		return c.resolveSimpleReply(&frame, &c.unsubQ, "unsubscribe", decodeUnsubscribeReply)
	case gsbproto.TagBroadcastReply:
		return c.resolveSimpleReply(&frame, &c.broadcastQ, "broadcast", decodeBroadcastReply)

	case gsbproto.TagCallRequest:
		var req gsbproto.CallRequest
		if err := frame.Decode(&req); err != nil {
			return newErr(KindProtocol, "malformed call request")
		}
		go c.handleCallRequest(ctx, req)
		return nil

	case gsbproto.TagCallReply:
		var reply gsbproto.CallReply
		if err := frame.Decode(&reply); err != nil {
			return newErr(KindProtocol, "malformed call reply")
		}
		return c.handleCallReply(reply)

	case gsbproto.TagBroadcastRequest:
		var req gsbproto.BroadcastRequest
		if err := frame.Decode(&req); err != nil {
			return newErr(KindProtocol, "malformed broadcast request")
		}
		go c.handler.HandleEvent(req.Caller, req.Topic, req.Data)
		return nil

	case gsbproto.TagPing:
		c.writeMu.Lock()
		err := c.transport.WriteFrame(gsbproto.TagPong, gsbproto.Pong{})
		c.writeMu.Unlock()
		if err != nil {
			return newErr(KindFailure, "failed to write pong")
		}
		c.metrics.recordFrameWritten()
		return nil

	default:
		return protocolErr("unexpected frame tag", gsbproto.ErrUnknownTag{Tag: frame.Tag})
	}
}

func (c *Connection) resolveSimpleReply(frame *gsbproto.Frame, q *replyQueue, family string, decode func(int) error) error {
	type codeMsg struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	var cm codeMsg
	if err := frame.Decode(&cm); err != nil {
		return newErr(KindProtocol, "malformed "+family+" reply")
	}

	ch, ok := q.pop()
	if !ok {
		return newErr(KindProtocol, "unmatched "+family+" reply")
	}
	err := decode(cm.Code)
	if gerr, isGerr := err.(*Error); isGerr && gerr.Kind == KindProtocol {
		ch <- err
		close(ch)
		return err
	}
	ch <- err
	close(ch)
	return nil
}

func (c *Connection) handleCallRequest(ctx context.Context, req gsbproto.CallRequest) {
	chunks := c.handler.DoCall(ctx, req.RequestID, req.Caller, req.Address, req.Data, req.NoReply)

	if req.NoReply {
		for range chunks {
		}
		return
	}

	lastWasFull := false
	for cr := range chunks {
		if cr.err != nil {
			c.writeCallReply(req.RequestID, gsbproto.CodeServiceFailure, gsbproto.ReplyFull, []byte(cr.err.Error()))
			return
		}
		rt := gsbproto.ReplyFull
		if cr.chunk.Part {
			rt = gsbproto.ReplyPartial
		}
		c.writeCallReply(req.RequestID, gsbproto.CodeOk, rt, cr.chunk.Data)
		lastWasFull = !cr.chunk.Part
	}
	if !lastWasFull {
		c.writeCallReply(req.RequestID, gsbproto.CodeOk, gsbproto.ReplyFull, nil)
	}
}

func (c *Connection) writeCallReply(requestID uint64, code int, rt gsbproto.ReplyType, data []byte) {
	c.writeMu.Lock()
	err := c.transport.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
		RequestID: requestID,
		Code:      code,
		ReplyType: rt,
		Data:      data,
	})
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Uint64("request_id", requestID).Msg("failed to write call reply")
		return
	}
	c.metrics.recordFrameWritten()
}

func (c *Connection) handleCallReply(reply gsbproto.CallReply) error {
	chunk, err := decodeCallReplyChunk(reply.Code, reply.ReplyType, reply.Data)
	var stopErr error
	if gerr, isGerr := err.(*Error); isGerr && gerr.Kind == KindProtocol {
		stopErr = err
	}

	c.callMu.Lock()
	sink, ok := c.callReply[reply.RequestID]
	if ok && reply.ReplyType == gsbproto.ReplyFull {
		delete(c.callReply, reply.RequestID)
		if start, ok := c.callStart[reply.RequestID]; ok {
			c.metrics.observeReplyLatencySeconds(time.Since(start).Seconds())
			delete(c.callStart, reply.RequestID)
		}
		c.metrics.decInFlight()
		if done, ok := c.callDone[reply.RequestID]; ok {
			delete(c.callDone, reply.RequestID)
			close(done)
		}
	}
	c.callMu.Unlock()

	if !ok {
		c.log.Warn().Uint64("request_id", reply.RequestID).Msg("unmatched call reply, dropping")
		return stopErr
	}

	select {
	case sink <- chunkResult{chunk: chunk, err: err}:
	default:
		c.log.Warn().Uint64("request_id", reply.RequestID).Msg("reply sink full, dropping chunk")
	}
	if reply.ReplyType == gsbproto.ReplyFull {
		close(sink)
	}
	return stopErr
}

// stop terminates the connection: it closes the transport, fails
// every outstanding waiter with Cancelled, and notifies the handler
// exactly once.
func (c *Connection) stop(err error) {
	c.closeOnce.Do(func() {
		c.stopErr = err
		close(c.closed)
		_ = c.transport.Close()

		c.registerQ.failAll(cancelled())
		c.unregisterQ.failAll(cancelled())
		c.subscribeQ.failAll(cancelled())
		c.unsubQ.failAll(cancelled())
		c.broadcastQ.failAll(cancelled())

		c.callMu.Lock()
		sinks := c.callReply
		c.callReply = make(map[uint64]chan chunkResult)
		c.callStart = make(map[uint64]time.Time)
		c.callDone = make(map[uint64]chan struct{})
		c.callMu.Unlock()
		for _, sink := range sinks {
			select {
			case sink <- chunkResult{err: cancelled()}:
			default:
			}
			close(sink)
		}

		c.handler.OnDisconnect()
		c.log.Warn().Err(err).Msg("broker connection stopped")
	})
}

// doSimpleCommand implements the shared "enqueue waiter, write frame"
// pattern for Bind/Unbind/Subscribe/Unsubscribe/Broadcast.
func (c *Connection) doSimpleCommand(ctx context.Context, tag gsbproto.Tag, msg any, q *replyQueue) error {
	select {
	case <-c.closed:
		return cancelled()
	default:
	}

	ch := make(chan error, 1)

	c.writeMu.Lock()
	err := c.transport.WriteFrame(tag, msg)
	if err == nil {
		q.push(ch)
	}
	c.writeMu.Unlock()

	if err != nil {
		return newErr(KindFailure, "no connection")
	}
	c.metrics.recordFrameWritten()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return cancelled()
	case <-c.closed:
		return cancelled()
	}
}

func (c *Connection) bind(ctx context.Context, addr string) error {
	return c.doSimpleCommand(ctx, gsbproto.TagRegisterRequest, gsbproto.RegisterRequest{ServiceID: addr}, &c.registerQ)
}

func (c *Connection) unbind(ctx context.Context, addr string) error {
	return c.doSimpleCommand(ctx, gsbproto.TagUnregisterRequest, gsbproto.UnregisterRequest{ServiceID: addr}, &c.unregisterQ)
}

func (c *Connection) subscribe(ctx context.Context, topic string) error {
	return c.doSimpleCommand(ctx, gsbproto.TagSubscribeRequest, gsbproto.SubscribeRequest{Topic: topic}, &c.subscribeQ)
}

func (c *Connection) unsubscribe(ctx context.Context, topic string) error {
	return c.doSimpleCommand(ctx, gsbproto.TagUnsubscribeRequest, gsbproto.UnsubscribeRequest{Topic: topic}, &c.unsubQ)
}

func (c *Connection) broadcast(ctx context.Context, caller, topic string, data []byte) error {
	return c.doSimpleCommand(ctx, gsbproto.TagBroadcastRequest, gsbproto.BroadcastRequest{Caller: caller, Topic: topic, Data: data}, &c.broadcastQ)
}

// notifyBind/notifyUnbind satisfy the remote interface; these are
// best-effort and never fail the bind/unbind call that triggered them.
func (c *Connection) notifyBind(addr string) {
	go func() {
		if err := c.bind(context.Background(), addr); err != nil {
			c.log.Debug().Err(err).Str("addr", addr).Msg("bind notification failed")
		}
	}()
}

func (c *Connection) notifyUnbind(addr string) {
	go func() {
		if err := c.unbind(context.Background(), addr); err != nil {
			c.log.Debug().Err(err).Str("addr", addr).Msg("unbind notification failed")
		}
	}()
}

// forwardBytes implements the remote interface's unary call path: a
// single request_id, an optional reply sink, await exactly one Full
// chunk.
func (c *Connection) forwardBytes(ctx context.Context, caller, addr string, body []byte, noReply bool) ([]byte, error) {
	requestID := genRequestID()

	if noReply {
		c.writeMu.Lock()
		err := c.transport.WriteFrame(gsbproto.TagCallRequest, gsbproto.CallRequest{
			RequestID: requestID, Caller: caller, Address: addr, Data: body, NoReply: true,
		})
		c.writeMu.Unlock()
		if err != nil {
			return nil, newErr(KindFailure, "no connection")
		}
		c.metrics.recordFrameWritten()
		return nil, nil
	}

	sink := make(chan chunkResult, unaryChunkBuffer)
	c.callMu.Lock()
	c.callReply[requestID] = sink
	c.callStart[requestID] = time.Now()
	c.callMu.Unlock()
	c.metrics.incInFlight()

	c.writeMu.Lock()
	err := c.transport.WriteFrame(gsbproto.TagCallRequest, gsbproto.CallRequest{
		RequestID: requestID, Caller: caller, Address: addr, Data: body,
	})
	c.writeMu.Unlock()
	if err != nil {
		c.callMu.Lock()
		delete(c.callReply, requestID)
		delete(c.callStart, requestID)
		c.callMu.Unlock()
		c.metrics.decInFlight()
		return nil, newErr(KindFailure, "no connection")
	}
	c.metrics.recordFrameWritten()

	select {
	case cr, ok := <-sink:
		if !ok {
			return nil, gsbFailure("unexpected EOS")
		}
		if cr.err != nil {
			return nil, cr.err
		}
		if cr.chunk.Part {
			return nil, gsbFailure("streaming response")
		}
		return cr.chunk.Data, nil
	case <-ctx.Done():
		c.callMu.Lock()
		delete(c.callReply, requestID)
		delete(c.callStart, requestID)
		c.callMu.Unlock()
		c.metrics.decInFlight()
		return nil, cancelled()
	case <-c.closed:
		return nil, cancelled()
	}
}

// streamForwardBytes implements the remote interface's streaming call
// path: the caller receives the raw chunk stream directly.
func (c *Connection) streamForwardBytes(ctx context.Context, caller, addr string, body []byte) <-chan chunkResult {
	requestID := genRequestID()
	sink := make(chan chunkResult, streamChunkBuffer)
	done := make(chan struct{})

	c.callMu.Lock()
	c.callReply[requestID] = sink
	c.callStart[requestID] = time.Now()
	c.callDone[requestID] = done
	c.callMu.Unlock()
	c.metrics.incInFlight()

	c.writeMu.Lock()
	err := c.transport.WriteFrame(gsbproto.TagCallRequest, gsbproto.CallRequest{
		RequestID: requestID, Caller: caller, Address: addr, Data: body,
	})
	c.writeMu.Unlock()

	if err != nil {
		c.callMu.Lock()
		delete(c.callReply, requestID)
		delete(c.callStart, requestID)
		delete(c.callDone, requestID)
		c.callMu.Unlock()
		c.metrics.decInFlight()

		out := make(chan chunkResult, 1)
		out <- chunkResult{err: newErr(KindFailure, "no connection")}
		close(out)
		return out
	}
	c.metrics.recordFrameWritten()

	// Retires on whichever comes first: the caller giving up (ctx),
	// the connection shutting down (closed), or handleCallReply
	// signaling normal completion (done) — without this last case the
	// goroutine would block until ctx cancellation even for calls that
	// already finished, one leaked goroutine per stream for the life
	// of the connection.
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		case <-c.closed:
		}
		c.callMu.Lock()
		delete(c.callReply, requestID)
		delete(c.callDone, requestID)
		c.callMu.Unlock()
	}()

	return sink
}
