// SPDX-License-Identifier: GPL-3.0-or-later

// Package spio is a pluggable-transport, pattern-oriented messaging
// runtime: applications open a [Socket] bound to a messaging pattern
// (REQ, REP), dial or listen on a URL-addressed transport, and send or
// receive framed messages without ever touching the underlying
// connection.
//
// # Core Abstraction
//
// An asynchronous operation — resolve, dial, listen, send, recv — is
// represented uniformly by an [AIO]: idle until [*AIO.Start], active
// until cancelled or [*AIO.Finish] completes it exactly once.
// Cancellation is cooperative, driven by a [CancelHook] the provider
// installs at Start time, the same way [CancelWatchFunc] binds a
// connection's lifetime to a context elsewhere in this package.
// [*Socket.SendSync] and [*Socket.RecvSync] wrap this in a blocking
// call for callers that do not want to drive an AIO themselves.
//
// # Transports
//
// [TransportRegistry] dispatches addresses by URL scheme to a
// [TransportDescriptor]'s Dial/Listen pair. The built-in transports are:
//
//   - inproc — in-memory pipe hand-off between goroutines, no wire
//     encoding ("inproc://<tag>")
//   - ipc — Unix domain sockets ("ipc:///path/to/socket")
//   - tcp — TCP with the package's own [ConnectFunc]/[ObserveConnFunc]/
//     [CancelWatchFunc] dial pipeline ("tcp://host:port")
//   - tls+tcp — dials TCP and then performs a client-side TLS handshake
//     via [TLSHandshakeFunc]; its listener accepts plain TCP connections
//     without a TLS handshake ("tls+tcp://host:port")
//
// Addresses that name a host (rather than a literal address) are
// resolved asynchronously by a [Resolver], a small bounded worker pool
// that wraps either the OS stub resolver or a DNS-exchange backend
// ([DNSOverUDPConn], [DNSOverTCPConn], [DNSOverTLSConn],
// [DNSOverHTTPSConn]).
//
// # Patterns
//
// [OpenREQ] and [OpenREP] construct sockets implementing the
// request/reply pattern: a REQ socket has at most one in-flight
// request, resent periodically until a correlated reply arrives, with
// "last send wins" supersession if the application issues a new
// request before the previous one completes. A REP socket caches the
// backtrace of the request most recently delivered by recv so its next
// send routes back to the originating peer; calling recv again before
// replying discards that backtrace instead of failing.
//
// # Observability
//
// Every subsystem accepts an [SLogger] (compatible with [log/slog]);
// the default is a no-op logger that discards all output. Error
// classification is configurable via [ErrClassifier]; [DefaultErrClassifier]
// labels errors using a POSIX-style taxonomy (e.g. "ETIMEDOUT").
// [*Socket.Dial]/[*Socket.Listen]/[*Socket.Close] and
// [*Resolver.ResolveTCP] each tag their start/done log events with a
// fresh [NewSpanID] (a UUIDv7) so the two events for one operation can
// be correlated in logs even when several run concurrently.
//
// # Timeout and Context Philosophy
//
// Every blocking call takes a [context.Context] and never modifies it;
// the caller controls timeouts via [context.WithTimeout],
// [context.WithDeadline], or [signal.NotifyContext]. [CancelWatchFunc]
// binds a dialed connection's lifetime to its context so that
// in-progress I/O fails promptly once the context is done, rather than
// blocking indefinitely.
//
// # Design Boundaries
//
// This package provides transports, patterns, and the AIO primitive
// that ties them together. The following are out of scope and should
// be implemented by higher-level packages:
//
//   - Additional messaging patterns (PUB/SUB, PIPELINE, PAIR)
//   - Message framing above the payload/backtrace split (e.g. envelopes,
//     multi-part messages)
//   - Retry and backoff policy beyond REQ's fixed resend timer
//   - Connection pooling across multiple sockets
package spio
