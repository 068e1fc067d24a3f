// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"strings"
	"sync"
)

// transportVersion is the compile-time protocol version every registered
// [TransportDescriptor] must match; registering a mismatched version
// fails with [ErrNotSupported].
const transportVersion = 1

// maxSchemePrefixLen bounds the precomputed "<scheme>://" prefix at 16
// bytes.
const maxSchemePrefixLen = 16

// Dialer factory producing a pipe bound to the given address.
type pipeDialer func(ctx context.Context, addr string) (Pipe, error)

// Listener factory producing a pipe acceptor bound to the given address.
type pipeListener func(ctx context.Context, addr string) (PipeListener, error)

// PipeListener accepts inbound pipes for a listening transport.
type PipeListener interface {
	Accept(ctx context.Context) (Pipe, error)
	Close() error
}

// CheckOptionFunc validates a socket option for a transport. It returns
// [ErrNotSupported] if the transport does not recognize the option.
type CheckOptionFunc func(option string, value any) error

// TransportDescriptor is an immutable record describing one URL-scheme
// transport. Once registered, it lives until subsystem teardown.
type TransportDescriptor struct {
	// Scheme is the URL scheme, e.g. "tcp" (no "://").
	Scheme string

	// Version must equal transportVersion or Register fails.
	Version int

	// Init runs once, under the registry lock, when the descriptor is
	// registered. A non-nil error aborts registration.
	Init func() error

	// Fini runs once, at subsystem teardown.
	Fini func()

	// CheckOption is optional; nil means the transport recognizes no
	// options.
	CheckOption CheckOptionFunc

	// Dial and Listen build pipes for this scheme.
	Dial   pipeDialer
	Listen pipeListener
}

// transportEntry wraps a [TransportDescriptor] with its precomputed URL
// prefix.
type transportEntry struct {
	desc   TransportDescriptor
	prefix string
}

// TransportRegistry is a process-wide ordered collection of registered
// transports, keyed by URL scheme with thread-safe lookup by address
// prefix.
type TransportRegistry struct {
	mu      sync.Mutex
	entries []*transportEntry
	inited  bool
	cfg     *Config
	logger  SLogger
}

// globalRegistry is the process-wide registry instance. Kept as a
// package-level value (not lazily constructed) so [Init]/[Fini] remain
// explicit, testable operations rather than hidden lazy initialization.
//
// cfg/logger are the dependencies the built-in tcp/tls+tcp transports
// thread through their dial pipelines; [Init] lets a caller replace them
// before the first socket is opened.
var globalRegistry = &TransportRegistry{cfg: NewConfig(), logger: DefaultSLogger()}

// Register adds desc to the registry. It fails with [ErrNotSupported] if
// desc.Version does not match the library's compile-time constant, with
// [ErrAlreadyExists] if another transport with the same scheme is
// already registered, and with [ErrOutOfMemory] if desc.Scheme is empty. On
// success desc.Init is invoked while holding the registry lock, so a
// transport's initializer must not call back into the registry.
//
// Register is re-entrant-safe: if called before the subsystem has been
// initialized, it initializes the subsystem first, guarded by a flag set
// before the built-in transports are registered so that a built-in's own
// Init (which may itself trigger Init) short-circuits instead of
// recursing.
func (r *TransportRegistry) Register(desc TransportDescriptor) error {
	if desc.Scheme == "" {
		return NewError(CodeOutOfMemory, "register")
	}
	if !r.inited {
		_ = r.sysInit()
	}

	if desc.Version != transportVersion {
		return NewError(CodeNotSupported, "register")
	}

	prefix := desc.Scheme + "://"
	if len(prefix) > maxSchemePrefixLen {
		return NewError(CodeInvalidArgument, "register")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.desc.Scheme == desc.Scheme {
			return NewError(CodeAlreadyExists, "register")
		}
	}

	if desc.Init != nil {
		if err := desc.Init(); err != nil {
			return err
		}
	}

	r.entries = append(r.entries, &transportEntry{desc: desc, prefix: prefix})
	return nil
}

// Find returns the first registered transport whose URL prefix is a
// prefix of addr, in registration order: first match wins, so ties are
// broken by registration order. The second return value is false if
// nothing matched.
func (r *TransportRegistry) Find(addr string) (TransportDescriptor, bool) {
	r.mu.Lock()
	inited := r.inited
	r.mu.Unlock()
	if !inited {
		_ = r.sysInit()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if strings.HasPrefix(addr, e.prefix) {
			return e.desc, true
		}
	}
	return TransportDescriptor{}, false
}

// CheckOption polls every registered transport's CheckOption. It returns
// [ErrNotSupported] if none recognize the option; otherwise it returns
// the first non-nil, non-[ErrNotSupported] error encountered (error wins
// over success), or nil if every transport that recognized the option
// accepted it.
func (r *TransportRegistry) CheckOption(option string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rv := error(ErrNotSupported)
	for _, e := range r.entries {
		if e.desc.CheckOption == nil {
			continue
		}
		x := e.desc.CheckOption(option, value)
		if x == nil {
			rv = nil
			continue
		}
		if isCode(x, CodeNotSupported) {
			continue
		}
		rv = x
		if !isCode(x, CodeOK) {
			break
		}
	}
	if isCode(rv, CodeNotSupported) {
		return ErrNotSupported
	}
	return rv
}

// sysInit initializes the registry lock and list, then registers the
// built-in transports (inproc, ipc, tcp, tls+tcp) in that order. Callers
// never need to invoke this directly — [*TransportRegistry.Register] and
// the package-level [Init] both call it re-entrantly.
func (r *TransportRegistry) sysInit() error {
	r.mu.Lock()
	if r.inited {
		r.mu.Unlock()
		return nil
	}
	r.inited = true
	cfg, logger := r.cfg, r.logger
	r.mu.Unlock()

	for _, desc := range builtinTransports(cfg, logger) {
		if err := r.Register(desc); err != nil {
			r.sysFini()
			return err
		}
	}
	return nil
}

// sysFini tears down every registered transport and releases the
// registry. Safe to call without a prior successful init.
func (r *TransportRegistry) sysFini() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.inited = false
	r.mu.Unlock()

	for _, e := range entries {
		if e.desc.Fini != nil {
			e.desc.Fini()
		}
	}
}

// Logger returns the logger the registry's built-in transports were
// configured with, for callers (like [newSocket]) that need the same
// logger without threading it through [Init] a second time.
func (r *TransportRegistry) Logger() SLogger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

func isCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}
