// SPDX-License-Identifier: GPL-3.0-or-later
//
// Shared net.Conn-backed Pipe plumbing for the ipc and tcp transports.
// Dial assembly reuses this package's Func composition (ObserveConnFunc,
// CancelWatchFunc, and, for tcp's IP-endpoint addressing, ConnectFunc).

package spio

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"
)

// noDeadline clears a previously set read/write deadline.
var noDeadline time.Time

// netPipe adapts a [net.Conn] to [Pipe] using the length-prefixed framing
// from message.go.
type netPipe struct {
	conn   net.Conn
	reader *bufio.Reader
	wmu    sync.Mutex
	rmu    sync.Mutex
}

var _ Pipe = (*netPipe)(nil)

func newNetPipe(conn net.Conn) *netPipe {
	return &netPipe{conn: conn, reader: bufio.NewReader(conn)}
}

func (p *netPipe) Send(ctx context.Context, m *Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
	} else {
		_ = p.conn.SetWriteDeadline(noDeadline)
	}
	_, err := p.conn.Write(wireEncode(m))
	if err != nil {
		return translateNetError(err)
	}
	return nil
}

func (p *netPipe) Recv(ctx context.Context) (*Message, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetReadDeadline(dl)
	} else {
		_ = p.conn.SetReadDeadline(noDeadline)
	}
	m, err := wireDecode(p.reader)
	if err != nil {
		return nil, translateNetError(err)
	}
	return m, nil
}

func (p *netPipe) Close() error {
	return p.conn.Close()
}

// translateNetError maps a net.Conn I/O failure into this module's
// result-code taxonomy.
func translateNetError(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimedOut
	}
	if err == net.ErrClosed {
		return ErrClosed
	}
	return NewError(CodeSystemError, "")
}

// netPipeListener adapts a [net.Listener] to [PipeListener].
type netPipeListener struct {
	ln net.Listener
}

var _ PipeListener = (*netPipeListener)(nil)

func (l *netPipeListener) Accept(ctx context.Context) (Pipe, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, translateNetError(r.err)
		}
		return newNetPipe(r.conn), nil
	case <-ctx.Done():
		return nil, ErrCanceled
	}
}

func (l *netPipeListener) Close() error {
	return l.ln.Close()
}
