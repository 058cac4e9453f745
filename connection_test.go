package gsb

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/howard-nolan/gsb/gsbproto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connAdapter struct{ c net.Conn }

func (a connAdapter) ReadFrame() (gsbproto.Frame, error) {
	return gsbproto.ReadFrame(a.c)
}

func (a connAdapter) WriteFrame(tag gsbproto.Tag, msg any) error {
	return gsbproto.WriteFrame(a.c, tag, msg)
}

func (a connAdapter) Close() error { return a.c.Close() }

func newTestClientInfo(t *testing.T) ClientInfo {
	t.Helper()
	ci, err := NewClientInfo("test-client", "1.2.3")
	require.NoError(t, err)
	return ci
}

func dialPipe(t *testing.T) (client, server connAdapter) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return connAdapter{c}, connAdapter{s}
}

// readHello reads the client's opening Hello frame, returning ok=false
// if anything went wrong (caller just gives up quietly; assertions
// belong on the test goroutine, not here).
func readHello(server connAdapter) (gsbproto.Hello, bool) {
	f, err := server.ReadFrame()
	if err != nil || f.Tag != gsbproto.TagHello {
		return gsbproto.Hello{}, false
	}
	var hello gsbproto.Hello
	if f.Decode(&hello) != nil {
		return gsbproto.Hello{}, false
	}
	return hello, true
}

func replyHello(server connAdapter) bool {
	return server.WriteFrame(gsbproto.TagHello, gsbproto.Hello{Name: "broker"}) == nil
}

func TestConnectHandshakeSendsHello(t *testing.T) {
	client, server := dialPipe(t)

	helloCh := make(chan gsbproto.Hello, 1)
	go func() {
		if hello, ok := readHello(server); ok {
			helloCh <- hello
		}
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, conn.Connected())

	select {
	case hello := <-helloCh:
		assert.Equal(t, "test-client", hello.Name)
		assert.Equal(t, "1.2.3", hello.Version)
	case <-time.After(time.Second):
		t.Fatal("server never received Hello")
	}
}

func TestBindResolvesWaiterOnOk(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		f, err := server.ReadFrame()
		if err != nil || f.Tag != gsbproto.TagRegisterRequest {
			return
		}
		_ = server.WriteFrame(gsbproto.TagRegisterReply, gsbproto.RegisterReply{Code: gsbproto.CodeOk})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	err = conn.bind(context.Background(), "/svc")
	assert.NoError(t, err)
	assert.True(t, conn.Connected())
}

func TestBindConflictReturnsAlreadyRegistered(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		if _, err := server.ReadFrame(); err != nil {
			return
		}
		_ = server.WriteFrame(gsbproto.TagRegisterReply, gsbproto.RegisterReply{Code: gsbproto.CodeConflict})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	err = conn.bind(context.Background(), "/svc")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindAlreadyRegistered, gerr.Kind)
}

func TestUnknownReplyCodeStopsConnectionAndFailsWaiter(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		if _, err := server.ReadFrame(); err != nil {
			return
		}
		_ = server.WriteFrame(gsbproto.TagRegisterReply, gsbproto.RegisterReply{Code: 123})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	err = conn.bind(context.Background(), "/svc")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindProtocol, gerr.Kind)
	var codeErr gsbproto.ErrUnknownCode
	require.ErrorAs(t, err, &codeErr)
	assert.Equal(t, "register", codeErr.Family)
	assert.Equal(t, 123, codeErr.Code)

	require.Eventually(t, func() bool { return !conn.Connected() }, time.Second, 5*time.Millisecond)
}

func TestUnmatchedReplyStopsConnectionWithCancelledWaiters(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		_ = server.WriteFrame(gsbproto.TagRegisterReply, gsbproto.RegisterReply{Code: gsbproto.CodeOk})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !conn.Connected() }, time.Second, 5*time.Millisecond)

	err = conn.bind(context.Background(), "/svc")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindCancelled, gerr.Kind)
}

func TestUnknownFrameTagStopsConnection(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		_ = server.WriteFrame(gsbproto.Tag(99), struct{}{})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !conn.Connected() }, time.Second, 5*time.Millisecond)

	err = conn.bind(context.Background(), "/svc")
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindCancelled, gerr.Kind, "connection should already be stopped by the time bind runs")

	var tagErr gsbproto.ErrUnknownTag
	require.ErrorAs(t, conn.stopErr, &tagErr)
	assert.Equal(t, gsbproto.Tag(99), tagErr.Tag)
}

func TestPingRepliesWithPong(t *testing.T) {
	client, server := dialPipe(t)
	pongCh := make(chan gsbproto.Tag, 1)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		if server.WriteFrame(gsbproto.TagPing, gsbproto.Ping{}) != nil {
			return
		}
		f, err := server.ReadFrame()
		if err != nil {
			return
		}
		pongCh <- f.Tag
	}()

	_, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	select {
	case tag := <-pongCh:
		assert.Equal(t, gsbproto.TagPong, tag)
	case <-time.After(time.Second):
		t.Fatal("never received pong")
	}
}

func TestForwardBytesUnaryRoundTrip(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		f, err := server.ReadFrame()
		if err != nil || f.Tag != gsbproto.TagCallRequest {
			return
		}
		var req gsbproto.CallRequest
		if f.Decode(&req) != nil {
			return
		}
		_ = server.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
			RequestID: req.RequestID,
			Code:      gsbproto.CodeOk,
			ReplyType: gsbproto.ReplyFull,
			Data:      []byte("reply-data"),
		})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	out, err := conn.forwardBytes(context.Background(), "caller", "/svc/echo", []byte("req-data"), false)
	require.NoError(t, err)
	assert.Equal(t, "reply-data", string(out))
}

func TestForwardBytesPartialOnUnaryIsFailure(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		f, err := server.ReadFrame()
		if err != nil {
			return
		}
		var req gsbproto.CallRequest
		if f.Decode(&req) != nil {
			return
		}
		_ = server.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
			RequestID: req.RequestID,
			Code:      gsbproto.CodeOk,
			ReplyType: gsbproto.ReplyPartial,
			Data:      []byte("chunk"),
		})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = conn.forwardBytes(context.Background(), "caller", "/svc/echo", []byte("req-data"), false)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, KindFailure, gerr.Kind)
}

func TestStreamForwardBytesWatcherExitsOnNormalCompletion(t *testing.T) {
	client, server := dialPipe(t)
	go func() {
		if _, ok := readHello(server); !ok || !replyHello(server) {
			return
		}
		f, err := server.ReadFrame()
		if err != nil || f.Tag != gsbproto.TagCallRequest {
			return
		}
		var req gsbproto.CallRequest
		if f.Decode(&req) != nil {
			return
		}
		_ = server.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
			RequestID: req.RequestID, Code: gsbproto.CodeOk, ReplyType: gsbproto.ReplyPartial, Data: []byte("one"),
		})
		_ = server.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
			RequestID: req.RequestID, Code: gsbproto.CodeOk, ReplyType: gsbproto.ReplyPartial, Data: []byte("two"),
		})
		_ = server.WriteFrame(gsbproto.TagCallReply, gsbproto.CallReply{
			RequestID: req.RequestID, Code: gsbproto.CodeOk, ReplyType: gsbproto.ReplyFull, Data: nil,
		})
	}()

	conn, err := Connect(context.Background(), client, newTestClientInfo(t), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	runtime.Gosched()
	baseline := runtime.NumGoroutine()

	// context.Background() is never cancelled, so the only way the
	// watcher goroutine this call spawns can retire is the done signal
	// handleCallReply fires on the terminal chunk.
	chunks := conn.streamForwardBytes(context.Background(), "caller", "/svc/stream", []byte("req"))
	var got []string
	for cr := range chunks {
		require.NoError(t, cr.err)
		if cr.chunk.IsEOS() {
			break
		}
		got = append(got, string(cr.chunk.Data))
	}
	assert.Equal(t, []string{"one", "two"}, got)

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 5*time.Millisecond, "watcher goroutine should exit once the stream completes normally")
}

func TestInboundCallRequestDispatchesToLocalRouterAndRepliesFull(t *testing.T) {
	client, server := dialPipe(t)
	router := NewRouter()
	router.BindRaw("/svc/echo", func(_ context.Context, call RawCall) ([]byte, error) {
		return append([]byte("echo:"), call.Body...), nil
	})

	go func() {
		if _, ok := readHello(server); !ok {
			return
		}
		_ = server.WriteFrame(gsbproto.TagCallRequest, gsbproto.CallRequest{
			RequestID: 7,
			Caller:    "peer",
			Address:   "/svc/echo",
			Data:      []byte("hi"),
		})
	}()

	_, err := Connect(context.Background(), client, newTestClientInfo(t), &LocalRouterHandler{Router: router}, nil, zerolog.Nop())
	require.NoError(t, err)

	f, err := server.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, gsbproto.TagCallReply, f.Tag)
	var reply gsbproto.CallReply
	require.NoError(t, f.Decode(&reply))
	assert.Equal(t, uint64(7), reply.RequestID)
	assert.Equal(t, gsbproto.ReplyFull, reply.ReplyType)
	assert.Equal(t, "echo:hi", string(reply.Data))
}
