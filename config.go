// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"net"
	"sync"
	"time"
)

// Config holds common configuration threaded through transport dial
// pipelines and the resolver.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// ResolverWorkers bounds the resolver's worker-pool concurrency.
	//
	// Set by [NewConfig] to 4; zero or negative selects the default.
	ResolverWorkers int

	// ResolverBackend performs the actual DNS lookup for hostnames that
	// are not literal IP addresses.
	//
	// Set by [NewConfig] to nil, which selects the OS stub resolver.
	ResolverBackend ResolverBackend

	// ResendTime bounds how long a REQ socket waits for a reply before
	// resending the outstanding request.
	//
	// Set by [NewConfig] to 1 minute. Readable/writable at runtime
	// through [*Socket.GetOption]/[*Socket.SetOption]'s "RESENDTIME".
	ResendTime time.Duration

	// SendBufSize is the REQ pattern's outbound queue capacity option
	// ("SNDBUF"), readable/writable through [*Socket.GetOption]/
	// [*Socket.SetOption]. A REQ socket has at most one in-flight request
	// by construction — a second send supersedes the first rather than
	// queuing — so the option is tracked but never actually bounds a
	// queue; see DESIGN.md.
	//
	// Set by [NewConfig] to 1.
	SendBufSize int

	// Logger receives lifecycle/protocol events from components that are
	// only handed a [*Config] rather than an explicit logger parameter,
	// such as the resolver built by [*Config.resolverFor] for a
	// caller-supplied [ResolverBackend]. Built-in transports are wired
	// with the logger passed explicitly to [Init] instead.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	resolverOnce sync.Once
	resolver     *Resolver
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:          &net.Dialer{},
		ErrClassifier:   DefaultErrClassifier,
		TimeNow:         time.Now,
		ResolverWorkers: resolverWorkers,
		ResendTime:      time.Minute,
		SendBufSize:     1,
		Logger:          DefaultSLogger(),
	}
}

// resolverFor lazily builds (and caches) the [*Resolver] backing this
// config's [ResolverBackend], so every dial through the same *Config
// reuses one worker pool instead of spinning up a fresh one per call.
func (cfg *Config) resolverFor() *Resolver {
	cfg.resolverOnce.Do(func() {
		r := NewResolver(cfg.ResolverWorkers, cfg.ResolverBackend)
		r.Logger = cfg.Logger
		r.ErrClassifier = cfg.ErrClassifier
		cfg.resolver = r
	})
	return cfg.resolver
}
