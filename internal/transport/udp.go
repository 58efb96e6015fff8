// Package transport sends single UDP datagrams to game servers and waits for
// their replies under a hard per-attempt deadline. It carries no retry logic
// and does not interpret payloads.
package transport

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// ErrTimeout indicates no datagram arrived before the deadline.
var ErrTimeout = errors.New("request timed out")

// ErrRefused indicates the host answered with ICMP port-unreachable, which
// a connected UDP socket surfaces as a connection-refused read error.
var ErrRefused = errors.New("connection refused")

// UDP performs one-shot datagram exchanges. Each call opens a fresh
// connected socket on an ephemeral local port, so concurrent callers cannot
// receive each other's responses. The zero value is not usable; call New.
type UDP struct {
	bufferSize int
}

// New creates a UDP transport reading responses into buffers of the given
// size. Query responses fit comfortably in a typical MTU.
func New(bufferSize uint16) *UDP {
	if bufferSize == 0 {
		bufferSize = 1400
	}
	return &UDP{bufferSize: int(bufferSize)}
}

// dial resolves addr and opens a connected UDP socket for it.
func dial(addr string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}

	return net.DialUDP("udp4", nil, raddr)
}

// classify maps expected network failures onto the transport's sentinel
// errors. Anything else is returned as-is.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrRefused
	}

	return err
}

// RoundTrip sends payload to addr and waits for exactly one response
// datagram, for at most timeout. Cancelling ctx aborts a pending read.
func (u *UDP) RoundTrip(ctx context.Context, addr string, payload []byte, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dial(addr)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, classify(err)
	}

	buf := make([]byte, u.bufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classify(err)
	}

	return buf[:n], nil
}

// Collect sends payload to addr and gathers every response datagram that
// arrives: the first within firstTimeout, each subsequent one within idle of
// the previous. An idle gap ends the collection; it is how a multi-datagram
// RCON reply signals completion, since the wire format carries no trailer.
// No datagram at all yields ErrTimeout.
func (u *UDP) Collect(ctx context.Context, addr string, payload []byte, firstTimeout, idle time.Duration) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dial(addr)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(firstTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, classify(err)
	}

	var datagrams [][]byte
	for {
		buf := make([]byte, u.bufferSize)
		n, err := conn.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			err = classify(err)
			if errors.Is(err, ErrTimeout) && len(datagrams) > 0 {
				return datagrams, nil
			}
			return nil, err
		}

		datagrams = append(datagrams, buf[:n])
		if err := conn.SetDeadline(time.Now().Add(idle)); err != nil {
			return nil, err
		}
	}
}
