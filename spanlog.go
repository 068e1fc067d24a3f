// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"log/slog"
	"time"
)

// SpanLogContext logs the start/done pair of a non-DNS span (a socket
// dial, listen, close, or resolver lookup) the same way
// [DNSExchangeLogContext] logs a DNS exchange: one Info-level event when
// the span starts, one when it ends, correlated by SpanID.
type SpanLogContext struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the SLogger to use.
	Logger SLogger

	// Name identifies the kind of span (e.g. "socketDial", "resolve").
	// The emitted event names are Name+"Start" and Name+"Done".
	Name string

	// SpanID correlates a span's Start and Done events, and distinguishes
	// it from concurrent spans of the same Name. See [NewSpanID].
	SpanID string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// Start logs the span's beginning at Info level.
func (lc *SpanLogContext) Start(t0 time.Time, args ...any) {
	lc.Logger.Info(lc.Name+"Start", append([]any{
		slog.String("spanID", lc.SpanID),
		slog.Time("t", t0),
	}, args...)...)
}

// Done logs the span's completion at Info level, attaching the
// classified error label when err is non-nil.
func (lc *SpanLogContext) Done(t0 time.Time, err error, args ...any) {
	base := []any{
		slog.String("spanID", lc.SpanID),
		slog.Any("err", err),
		slog.String("errClass", lc.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", lc.TimeNow()),
	}
	lc.Logger.Info(lc.Name+"Done", append(base, args...)...)
}
