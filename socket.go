// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Socket is the thin facade exposed to applications: open, close, listen,
// dial, send, recv, set/get option, protocol, peer. Each operation
// resolves the address through the transport registry, then delegates
// protocol logic to the attached [pattern].
type Socket struct {
	mu            sync.Mutex
	registry      *TransportRegistry
	logger        SLogger
	errClassifier ErrClassifier
	pattern       pattern
	closed        bool
	listener      PipeListener
}

// OpenREQ returns a new REQ socket using cfg (nil selects [NewConfig]'s
// defaults).
func OpenREQ(cfg *Config) *Socket {
	return newSocket(newREQPattern(cfg), cfg)
}

// OpenREP returns a new REP socket using cfg (nil selects [NewConfig]'s
// defaults).
func OpenREP(cfg *Config) *Socket {
	return newSocket(newREPPattern(cfg), cfg)
}

func newSocket(p pattern, cfg *Config) *Socket {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Socket{
		registry:      globalRegistry,
		logger:        globalRegistry.Logger(),
		errClassifier: cfg.ErrClassifier,
		pattern:       p,
	}
}

func (s *Socket) span(name string) *SpanLogContext {
	return &SpanLogContext{
		ErrClassifier: s.errClassifier,
		Logger:        s.logger,
		Name:          name,
		SpanID:        NewSpanID(),
		TimeNow:       time.Now,
	}
}

// Protocol returns the socket's own pattern identity.
func (s *Socket) Protocol() Protocol { return s.pattern.protocol() }

// Peer returns the pattern identity the socket expects to connect to.
func (s *Socket) Peer() Protocol { return s.pattern.peer() }

// Dial resolves addr through the transport registry and establishes one
// outbound pipe, attaching it to the socket's pattern.
func (s *Socket) Dial(ctx context.Context, addr string) error {
	lc := s.span("socketDial")
	t0 := time.Now()
	lc.Start(t0, slog.String("addr", addr))
	err := s.dial(ctx, addr)
	lc.Done(t0, err, slog.String("addr", addr))
	return err
}

func (s *Socket) dial(ctx context.Context, addr string) error {
	desc, ok := s.registry.Find(addr)
	if !ok {
		return ErrAddressInvalid
	}
	if desc.Dial == nil {
		return ErrNotSupported
	}
	p, err := desc.Dial(ctx, addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		_ = p.Close()
		return ErrClosed
	}

	s.pattern.addPipe(p)
	return nil
}

// Listen resolves addr through the transport registry, binds a listener,
// and spawns a background goroutine that accepts inbound pipes for the
// lifetime of the socket.
func (s *Socket) Listen(ctx context.Context, addr string) error {
	lc := s.span("socketListen")
	t0 := time.Now()
	lc.Start(t0, slog.String("addr", addr))
	err := s.listen(ctx, addr)
	lc.Done(t0, err, slog.String("addr", addr))
	return err
}

func (s *Socket) listen(ctx context.Context, addr string) error {
	desc, ok := s.registry.Find(addr)
	if !ok {
		return ErrAddressInvalid
	}
	if desc.Listen == nil {
		return ErrNotSupported
	}
	ln, err := desc.Listen(ctx, addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ln)
	return nil
}

func (s *Socket) acceptLoop(ln PipeListener) {
	for {
		p, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			_ = p.Close()
			return
		}
		s.pattern.addPipe(p)
	}
}

// Send hands payload to the socket's pattern, completing aio once the
// pattern-level send transition finishes.
func (s *Socket) Send(ctx context.Context, payload []byte, aio *AIO) {
	s.pattern.send(ctx, payload, aio)
}

// Recv asks the socket's pattern for the next correlated message,
// completing aio when one arrives, ctx is done, or the socket closes.
func (s *Socket) Recv(ctx context.Context, aio *AIO) {
	s.pattern.recv(ctx, aio)
}

// SendSync is a blocking convenience wrapper around [*Socket.Send] for
// callers that do not want to drive an AIO themselves.
func (s *Socket) SendSync(ctx context.Context, payload []byte) error {
	done := make(chan struct{})
	var rerr error
	aio := NewAIO(ctx, func(a *AIO) {
		rerr = a.Result()
		close(done)
	})
	s.Send(ctx, payload, aio)
	<-done
	return rerr
}

// RecvSync is a blocking convenience wrapper around [*Socket.Recv] for
// callers that do not want to drive an AIO themselves.
func (s *Socket) RecvSync(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	var rerr error
	var payload []byte
	aio := NewAIO(ctx, func(a *AIO) {
		rerr = a.Result()
		if rerr == nil {
			payload, _ = a.Output().([]byte)
		}
		close(done)
	})
	s.Recv(ctx, aio)
	<-done
	return payload, rerr
}

// CheckOption validates option/value against every registered transport
// through the registry's fan-out.
func (s *Socket) CheckOption(option string, value any) error {
	return s.registry.CheckOption(option, value)
}

// SetOption validates option/value against every registered transport
// (via [*Socket.CheckOption]) and, if accepted (or unrecognized by any
// transport), forwards it to the socket's pattern.
func (s *Socket) SetOption(option string, value any) error {
	if err := s.registry.CheckOption(option, value); err != nil && !isCode(err, CodeNotSupported) {
		return err
	}
	return s.pattern.setOption(option, value)
}

// GetOption reads a pattern-level option. Transport-level options have
// no stored value to read back, so this only ever consults the pattern.
func (s *Socket) GetOption(option string) (any, error) {
	return s.pattern.getOption(option)
}

// Close tears down the socket's listener (if any) and pattern state,
// closing every attached pipe.
func (s *Socket) Close() error {
	lc := s.span("socketClose")
	t0 := time.Now()
	lc.Start(t0)
	err := s.closeImpl()
	lc.Done(t0, err)
	return err
}

func (s *Socket) closeImpl() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	s.pattern.close()
	return nil
}
