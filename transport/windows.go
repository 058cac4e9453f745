//go:build windows

package transport

import (
	"context"
	"fmt"
	"net"
)

func dialUnix(_ context.Context, path string) (net.Conn, error) {
	return nil, fmt.Errorf("transport: unix-domain sockets not supported on this platform (path %q)", path)
}
