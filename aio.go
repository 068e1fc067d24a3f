// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"sync"
	"sync/atomic"
)

// aioState is the AIO's lifecycle state.
type aioState int32

const (
	aioIdle aioState = iota
	aioActive
	aioCancelled
	aioFinished
	aioStopped
)

// CancelHook is invoked by [*AIO.Cancel] once the AIO transitions out of
// active. The hook is responsible for arranging a subsequent call to
// [*AIO.Finish] — cancellation is cooperative, never synchronous with
// respect to the in-flight work itself.
type CancelHook func(aio *AIO)

// Callback is invoked exactly once, after [*AIO.Finish], carrying the
// final result. It runs on whatever goroutine called Finish — a
// task-queue worker, a pipe reader, a context's AfterFunc goroutine, or,
// for an operation that completes at once (a REQ/REP send, a recv whose
// message is already buffered), the goroutine that started it — and must
// not block.
type Callback func(aio *AIO)

// AIO is the asynchronous operation handle shared by every blocking or
// long-running primitive in this module: resolve, dial, listen, send,
// recv.
//
// An AIO is single-use: once it reaches [aioFinished] a new operation
// requires a new AIO.
type AIO struct {
	mu       sync.Mutex
	state    aioState
	callback Callback
	cancel   CancelHook
	result   *Error
	count    int
	deadline bool
	output   any

	// providerData is the provider-opaque pointer. Whoever transitions
	// the AIO out of active (Cancel's hook or Finish) must be the sole
	// releaser — stored atomically so a racing Cancel/Finish pair can
	// never double-release.
	providerData atomic.Pointer[any]

	stopCtx func()
}

// NewAIO returns an idle [*AIO] that invokes cb on completion.
//
// If ctx carries a deadline, the AIO inherits it: once the deadline
// elapses the AIO finishes with [ErrTimedOut]. If ctx is cancelled
// before the deadline, the AIO finishes with [ErrCanceled]. Both are
// wired via [context.AfterFunc], the same idiom [*CancelWatchFunc] uses
// to bind a connection's lifetime to a context.
func NewAIO(ctx context.Context, cb Callback) *AIO {
	aio := &AIO{callback: cb}
	if ctx != nil {
		_, hasDeadline := ctx.Deadline()
		aio.deadline = hasDeadline
		stop := context.AfterFunc(ctx, func() {
			if hasDeadline && ctx.Err() == context.DeadlineExceeded {
				aio.finishLocked(ErrTimedOut, 0, true)
				return
			}
			aio.Cancel()
		})
		aio.stopCtx = func() { stop() }
	}
	return aio
}

// Start transitions the AIO idle→active, installing the provider's
// cancel hook and opaque data pointer. It fails with [ErrCanceled] if
// the AIO was already cancelled, [ErrClosed] if it was stopped, or
// [ErrTimedOut] if its deadline already elapsed.
func (aio *AIO) Start(hook CancelHook, data any) error {
	aio.mu.Lock()
	defer aio.mu.Unlock()

	switch aio.state {
	case aioIdle:
		aio.state = aioActive
		aio.cancel = hook
		aio.providerData.Store(&data)
		return nil
	case aioCancelled:
		return ErrCanceled
	case aioStopped:
		return ErrClosed
	case aioFinished:
		if aio.result != nil && aio.result.Code == CodeTimedOut {
			return ErrTimedOut
		}
		return ErrCanceled
	default:
		return ErrStateError
	}
}

// Cancel cooperatively cancels an active AIO. If the AIO is active, the
// registered cancel hook is invoked synchronously; the hook must arrange
// a subsequent [*AIO.Finish] call with [ErrCanceled]. Cancelling an AIO
// that is not active is a no-op.
func (aio *AIO) Cancel() {
	aio.mu.Lock()
	if aio.state != aioActive {
		aio.mu.Unlock()
		return
	}
	aio.state = aioCancelled
	hook := aio.cancel
	aio.mu.Unlock()

	if hook != nil {
		hook(aio)
	}
}

// Stop behaves like [*AIO.Cancel] but additionally marks the AIO so that
// any subsequent [*AIO.Start] fails with [ErrClosed]. Used when tearing
// down a socket or subsystem.
func (aio *AIO) Stop() {
	aio.mu.Lock()
	wasActive := aio.state == aioActive
	hook := aio.cancel
	aio.state = aioStopped
	aio.mu.Unlock()

	if wasActive && hook != nil {
		hook(aio)
	}
	if aio.stopCtx != nil {
		aio.stopCtx()
	}
}

// Finish transitions active→finished, clears the cancel hook and
// provider data, then invokes the user callback exactly once. Finish is
// a no-op if the AIO is already finished.
func (aio *AIO) Finish(result error, count int) {
	aio.finishLocked(result, count, false)
}

func (aio *AIO) finishLocked(result error, count int, fromDeadline bool) {
	aio.mu.Lock()
	if aio.state == aioFinished {
		aio.mu.Unlock()
		return
	}
	if fromDeadline && aio.state != aioActive && aio.state != aioIdle {
		aio.mu.Unlock()
		return
	}
	aio.state = aioFinished
	aio.cancel = nil
	aio.providerData.Store(nil)
	aio.count = count
	if result != nil {
		var asErr *Error
		if e, ok := result.(*Error); ok {
			asErr = e
		} else {
			asErr = NewError(CodeSystemError, "")
		}
		aio.result = asErr
	} else {
		aio.result = nil
	}
	cb := aio.callback
	aio.mu.Unlock()

	if aio.stopCtx != nil {
		aio.stopCtx()
	}
	if cb != nil {
		cb(aio)
	}
}

// ProviderData returns the provider-opaque data pointer set by [*AIO.Start],
// or nil if the AIO is not active.
func (aio *AIO) ProviderData() any {
	p := aio.providerData.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Result returns the AIO's result code, or nil on success. Valid once
// the AIO has finished.
func (aio *AIO) Result() error {
	aio.mu.Lock()
	defer aio.mu.Unlock()
	if aio.result == nil {
		return nil
	}
	return aio.result
}

// Count returns the AIO's result count (bytes/addresses/…), valid once
// the AIO has finished.
func (aio *AIO) Count() int {
	aio.mu.Lock()
	defer aio.mu.Unlock()
	return aio.count
}

// SetOutput stores the AIO's output buffer (e.g. a resolver's address
// list, or a recv's payload). Providers call this before [*AIO.Finish].
func (aio *AIO) SetOutput(v any) {
	aio.mu.Lock()
	aio.output = v
	aio.mu.Unlock()
}

// Output returns the AIO's output buffer set via [*AIO.SetOutput].
func (aio *AIO) Output() any {
	aio.mu.Lock()
	defer aio.mu.Unlock()
	return aio.output
}

// snapshotState returns the AIO's current lifecycle state, chiefly for tests.
func (aio *AIO) snapshotState() aioState {
	aio.mu.Lock()
	defer aio.mu.Unlock()
	return aio.state
}
