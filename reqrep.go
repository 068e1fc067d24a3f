// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Protocol identifies a socket's messaging pattern and its required peer.
type Protocol int

const (
	ProtocolREQ Protocol = 48
	ProtocolREP Protocol = 49
)

// pattern is the per-socket state machine a [Socket] delegates its
// send/recv/protocol/peer operations to.
type pattern interface {
	protocol() Protocol
	peer() Protocol
	addPipe(p Pipe)
	removePipe(p Pipe)
	send(ctx context.Context, payload []byte, aio *AIO)
	recv(ctx context.Context, aio *AIO)
	setOption(option string, value any) error
	getOption(option string) (any, error)
	close()
}

// startPipeReader drains p in a loop, handing every decoded message to
// onMsg, until p errors or closes, then calls onClosed once.
func startPipeReader(p Pipe, onMsg func(Pipe, *Message), onClosed func(Pipe)) {
	go func() {
		for {
			m, err := p.Recv(context.Background())
			if err != nil {
				onClosed(p)
				return
			}
			onMsg(p, m)
		}
	}()
}

// --- REQ ---------------------------------------------------------------

type reqLifecycleState int

const (
	reqIdle reqLifecycleState = iota
	reqWaiting
)

// reqPending is the REQ socket's single in-flight request record. A
// reply that arrives before recv is called is buffered in replyPayload
// rather than dropped, since send/recv are driven by independent calls
// and the reply can race ahead of the application's next recv.
type reqPending struct {
	id           uint32
	msg          *Message
	pipe         Pipe
	recvAIO      *AIO
	resendAt     *time.Timer
	haveReply    bool
	replyPayload []byte
}

// reqPattern implements the REQ half of request/reply: one in-flight
// request at a time, resend-on-timeout, and "last send wins"
// supersession.
type reqPattern struct {
	mu         sync.Mutex
	cfg        *Config
	logger     SLogger
	state      reqLifecycleState
	nextID     uint32
	current    *reqPending
	pipes      []Pipe
	closed     bool
	sendBufCap int
	resendTime time.Duration
}

var _ pattern = (*reqPattern)(nil)

func newREQPattern(cfg *Config) *reqPattern {
	if cfg == nil {
		cfg = NewConfig()
	}
	cap := cfg.SendBufSize
	if cap <= 0 {
		cap = 1
	}
	resendTime := cfg.ResendTime
	if resendTime <= 0 {
		resendTime = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &reqPattern{cfg: cfg, logger: logger, sendBufCap: cap, resendTime: resendTime}
}

// setOption recognizes "RESENDTIME" (a positive [time.Duration]) and
// "SNDBUF" (a positive int); any other option fails with
// [ErrNotSupported].
func (r *reqPattern) setOption(option string, value any) error {
	switch option {
	case "RESENDTIME":
		d, ok := value.(time.Duration)
		if !ok || d <= 0 {
			return ErrInvalidArgs
		}
		r.mu.Lock()
		r.resendTime = d
		r.mu.Unlock()
		return nil
	case "SNDBUF":
		n, ok := value.(int)
		if !ok || n <= 0 {
			return ErrInvalidArgs
		}
		r.mu.Lock()
		r.sendBufCap = n
		r.mu.Unlock()
		return nil
	default:
		return ErrNotSupported
	}
}

// getOption reads back the value most recently accepted by setOption
// (or the dial-time default from [Config]).
func (r *reqPattern) getOption(option string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch option {
	case "RESENDTIME":
		return r.resendTime, nil
	case "SNDBUF":
		return r.sendBufCap, nil
	default:
		return nil, ErrNotSupported
	}
}

func (r *reqPattern) protocol() Protocol { return ProtocolREQ }
func (r *reqPattern) peer() Protocol     { return ProtocolREP }

func (r *reqPattern) addPipe(p Pipe) {
	r.mu.Lock()
	r.pipes = append(r.pipes, p)
	r.mu.Unlock()
	startPipeReader(p, r.onPipeMessage, r.onPipeClosed)
}

func (r *reqPattern) removePipe(p Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.pipes {
		if q == p {
			r.pipes = append(r.pipes[:i], r.pipes[i+1:]...)
			break
		}
	}
}

func (r *reqPattern) currentPipeLocked() Pipe {
	if len(r.pipes) == 0 {
		return nil
	}
	return r.pipes[len(r.pipes)-1]
}

// send prepends a fresh request ID, abandons any in-flight request
// ("last send wins"), and transmits to the currently attached pipe.
func (r *reqPattern) send(ctx context.Context, payload []byte, aio *AIO) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}

	r.abandonCurrentLocked()

	pipe := r.currentPipeLocked()
	if pipe == nil {
		r.mu.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}

	r.nextID++
	id := r.nextID
	msg := PrependRequestID(NewMessage(payload), id)

	pending := &reqPending{id: id, msg: msg, pipe: pipe}
	r.current = pending
	r.state = reqWaiting
	r.armResendLocked(pending)
	r.mu.Unlock()

	if err := aio.Start(func(a *AIO) { a.Finish(ErrCanceled, 0) }, nil); err != nil {
		aio.Finish(err, 0)
		return
	}
	err := pipe.Send(ctx, msg)
	r.logger.Debug("reqSend", slog.Uint64("requestID", uint64(id)), slog.Any("err", err))
	aio.Finish(err, 0)
}

// armResendLocked starts the periodic resend timer for pending. Must be
// called with r.mu held.
func (r *reqPattern) armResendLocked(pending *reqPending) {
	period := r.resendTime
	if period <= 0 {
		period = time.Minute
	}
	pending.resendAt = time.AfterFunc(period, func() { r.onResend(pending) })
}

func (r *reqPattern) onResend(pending *reqPending) {
	r.mu.Lock()
	if r.current != pending || r.state != reqWaiting {
		r.mu.Unlock()
		return
	}
	pipe := pending.pipe
	r.armResendLocked(pending)
	r.mu.Unlock()

	r.logger.Info("reqResend", slog.Uint64("requestID", uint64(pending.id)))
	if pipe != nil {
		_ = pipe.Send(context.Background(), pending.msg)
	}
}

// abandonCurrentLocked discards the in-flight request and stops its
// resend timer and pending recv AIO without completing it further — its
// eventual reply, if any, is silently discarded on arrival. Must be
// called with r.mu held.
func (r *reqPattern) abandonCurrentLocked() {
	if r.current == nil {
		return
	}
	if r.current.resendAt != nil {
		r.current.resendAt.Stop()
	}
	r.current = nil
	r.state = reqIdle
}

// recv waits for the reply correlated to the current in-flight request.
// Called with no prior send, it fails with [ErrStateError].
func (r *reqPattern) recv(ctx context.Context, aio *AIO) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}
	if r.current == nil || r.state != reqWaiting {
		r.mu.Unlock()
		aio.Finish(ErrStateError, 0)
		return
	}
	if r.current.haveReply {
		payload := r.current.replyPayload
		r.current = nil
		r.state = reqIdle
		r.mu.Unlock()
		aio.SetOutput(payload)
		aio.Finish(nil, len(payload))
		return
	}
	r.current.recvAIO = aio
	r.mu.Unlock()

	cancelHook := func(a *AIO) {
		r.mu.Lock()
		if r.current != nil && r.current.recvAIO == a {
			r.current.recvAIO = nil
		}
		r.mu.Unlock()
		a.Finish(ErrCanceled, 0)
	}
	if err := aio.Start(cancelHook, nil); err != nil {
		aio.Finish(err, 0)
	}
}

// onPipeMessage delivers an incoming reply to the waiting recv AIO if
// its header matches the current in-flight request ID; otherwise the
// message is discarded (a superseded or duplicated reply). If no recv
// is waiting yet, the reply is buffered on the pending request so the
// next recv call delivers it immediately.
func (r *reqPattern) onPipeMessage(_ Pipe, m *Message) {
	id, ok := RequestID(m)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.current == nil || r.current.id != id || r.state != reqWaiting {
		r.mu.Unlock()
		r.logger.Debug("reqRecvStale", slog.Uint64("requestID", uint64(id)))
		return
	}
	pending := r.current
	if pending.resendAt != nil {
		pending.resendAt.Stop()
	}
	aio := pending.recvAIO
	if aio == nil {
		pending.haveReply = true
		pending.replyPayload = m.Payload()
		r.mu.Unlock()
		return
	}
	r.current = nil
	r.state = reqIdle
	r.mu.Unlock()

	aio.SetOutput(m.Payload())
	aio.Finish(nil, len(m.Payload()))
}

func (r *reqPattern) onPipeClosed(p Pipe) {
	r.removePipe(p)
}

func (r *reqPattern) close() {
	r.logger.Info("reqClose")
	r.mu.Lock()
	r.closed = true
	var pendingAIO *AIO
	if r.current != nil {
		pendingAIO = r.current.recvAIO
	}
	r.abandonCurrentLocked()
	pipes := r.pipes
	r.pipes = nil
	r.mu.Unlock()
	if pendingAIO != nil {
		pendingAIO.Finish(ErrClosed, 0)
	}
	for _, p := range pipes {
		_ = p.Close()
	}
}

// --- REP ---------------------------------------------------------------

type repLifecycleState int

const (
	repRecvReady repLifecycleState = iota
	repHaveRequest
)

// repBuffered is a request that arrived before the application called
// recv; queued in FIFO order and drained by subsequent recv calls.
type repBuffered struct {
	pipe Pipe
	msg  *Message
}

// repPattern implements the REP half of request/reply: caches the
// backtrace of the last received request so the application's next send
// can be routed back to the originating peer. Requests that arrive
// while no recv is pending are queued rather than dropped, since
// inbound pipe delivery races ahead of the application's send/recv
// calls.
type repPattern struct {
	mu         sync.Mutex
	logger     SLogger
	state      repLifecycleState
	backtrace  []byte
	originPipe Pipe
	pendingAIO *AIO
	queue      []*repBuffered
	pipes      []Pipe
	closed     bool
}

var _ pattern = (*repPattern)(nil)

func newREPPattern(cfg *Config) *repPattern {
	if cfg == nil {
		cfg = NewConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &repPattern{logger: logger}
}

// setOption always fails: REP has no pattern-level options of its own.
func (r *repPattern) setOption(option string, value any) error {
	return ErrNotSupported
}

// getOption always fails: REP has no pattern-level options of its own.
func (r *repPattern) getOption(option string) (any, error) {
	return nil, ErrNotSupported
}

func (r *repPattern) protocol() Protocol { return ProtocolREP }
func (r *repPattern) peer() Protocol     { return ProtocolREQ }

func (r *repPattern) addPipe(p Pipe) {
	r.mu.Lock()
	r.pipes = append(r.pipes, p)
	r.mu.Unlock()
	startPipeReader(p, r.onPipeMessage, r.onPipeClosed)
}

func (r *repPattern) removePipe(p Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.pipes {
		if q == p {
			r.pipes = append(r.pipes[:i], r.pipes[i+1:]...)
			break
		}
	}
	if r.originPipe == p {
		r.originPipe = nil
	}
}

// recv delivers the next request's payload to the application. If
// called while a previous request's reply is still owed (haveRequest),
// the cached backtrace is discarded — the application chose not to
// reply — and the socket reverts to awaiting a fresh request.
func (r *repPattern) recv(ctx context.Context, aio *AIO) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}
	if r.state == repHaveRequest {
		r.backtrace = nil
		r.originPipe = nil
		r.state = repRecvReady
	}
	if len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.backtrace = next.msg.Header()
		r.originPipe = next.pipe
		r.state = repHaveRequest
		r.mu.Unlock()
		aio.SetOutput(next.msg.Payload())
		aio.Finish(nil, len(next.msg.Payload()))
		return
	}
	r.pendingAIO = aio
	r.mu.Unlock()

	cancelHook := func(a *AIO) {
		r.mu.Lock()
		if r.pendingAIO == a {
			r.pendingAIO = nil
		}
		r.mu.Unlock()
		a.Finish(ErrCanceled, 0)
	}
	if err := aio.Start(cancelHook, nil); err != nil {
		aio.Finish(err, 0)
	}
}

// send replies to the request most recently delivered by recv. It fails
// with [ErrStateError] unless called immediately after a successful
// recv.
func (r *repPattern) send(ctx context.Context, payload []byte, aio *AIO) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}
	if r.state != repHaveRequest {
		r.mu.Unlock()
		aio.Finish(ErrStateError, 0)
		return
	}
	pipe := r.originPipe
	header := r.backtrace
	r.backtrace = nil
	r.originPipe = nil
	r.state = repRecvReady
	r.mu.Unlock()

	if pipe == nil {
		aio.Finish(ErrStateError, 0)
		return
	}

	msg := NewMessage(payload).WithHeader(header)
	if err := aio.Start(func(a *AIO) { a.Finish(ErrCanceled, 0) }, nil); err != nil {
		aio.Finish(err, 0)
		return
	}
	err := pipe.Send(ctx, msg)
	r.logger.Debug("repSend", slog.Any("err", err))
	aio.Finish(err, 0)
}

// onPipeMessage delivers an incoming request straight to a waiting recv
// AIO, or queues it if no recv is pending yet — recv delivery and pipe
// reads run on independent goroutines, so a request can arrive before
// the application calls recv.
func (r *repPattern) onPipeMessage(p Pipe, m *Message) {
	r.mu.Lock()
	aio := r.pendingAIO
	if aio == nil {
		r.queue = append(r.queue, &repBuffered{pipe: p, msg: m})
		r.mu.Unlock()
		return
	}
	r.pendingAIO = nil
	r.backtrace = m.Header()
	r.originPipe = p
	r.state = repHaveRequest
	r.mu.Unlock()

	aio.SetOutput(m.Payload())
	aio.Finish(nil, len(m.Payload()))
}

func (r *repPattern) onPipeClosed(p Pipe) {
	r.removePipe(p)
}

func (r *repPattern) close() {
	r.logger.Info("repClose")
	r.mu.Lock()
	r.closed = true
	pendingAIO := r.pendingAIO
	r.pendingAIO = nil
	pipes := r.pipes
	r.pipes = nil
	r.mu.Unlock()
	if pendingAIO != nil {
		pendingAIO.Finish(ErrClosed, 0)
	}
	for _, p := range pipes {
		_ = p.Close()
	}
}
