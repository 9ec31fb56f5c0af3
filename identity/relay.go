package identity

import (
	"context"
	"net"
	"time"
)

// RelayChecker reports whether a local anonymizing relay is accepting connections.
type RelayChecker func(ctx context.Context, addr string) bool

// DialRelay treats the relay as available when a TCP dial succeeds within one second.
func DialRelay(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func relayAddress(addr string) string {
	return "socks5://" + addr
}
