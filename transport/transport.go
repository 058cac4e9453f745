// Package transport wraps a net.Conn with the gsbproto frame codec
// behind a minimal ReadFrame/WriteFrame surface. The broker connection
// in package gsb depends only on the small frameConn interface it
// declares itself — *Transport satisfies it, but so can an in-memory
// pipe in tests.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/howard-nolan/gsb/gsbproto"
	"github.com/rs/zerolog"
)

// Kind selects the concrete backend a Transport dials.
type Kind int

const (
	KindTCP Kind = iota
	KindUnix
)

func (k Kind) String() string {
	if k == KindUnix {
		return "unix"
	}
	return "tcp"
}

// Transport is a framed, bidirectional connection to a broker. Reads
// and writes are each safe for use by one goroutine at a time; callers
// needing concurrent writes must serialize them externally (Connection
// does this with its own write mutex).
type Transport struct {
	conn net.Conn
	log  zerolog.Logger

	closeOnce sync.Once
}

// Dial opens a Transport of the given kind. For KindTCP, addr is a
// host:port pair; for KindUnix, addr is a filesystem socket path (only
// supported where dialUnix is implemented; see unix.go/windows.go).
func Dial(ctx context.Context, kind Kind, addr string, log zerolog.Logger) (*Transport, error) {
	var conn net.Conn
	var err error

	switch kind {
	case KindUnix:
		conn, err = dialUnix(ctx, addr)
	default:
		conn, err = dialTCP(ctx, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s %s: %w", kind, addr, err)
	}

	return &Transport{
		conn: conn,
		log:  log.With().Str("component", "transport").Str("network", kind.String()).Str("addr", addr).Logger(),
	}, nil
}

// ReadFrame blocks until one frame arrives or the connection fails.
func (t *Transport) ReadFrame() (gsbproto.Frame, error) {
	return gsbproto.ReadFrame(t.conn)
}

// WriteFrame encodes and writes one frame. It does not itself
// serialize concurrent callers; Connection's write mutex does that.
func (t *Transport) WriteFrame(tag gsbproto.Tag, msg any) error {
	return gsbproto.WriteFrame(t.conn, tag, msg)
}

// SetDeadline forwards to the underlying connection's SetDeadline.
func (t *Transport) SetDeadline(d time.Time) error {
	return t.conn.SetDeadline(d)
}

// Close closes the underlying connection. Safe to call more than
// once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
