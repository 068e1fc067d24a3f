// SPDX-License-Identifier: GPL-3.0-or-later
//
// The pluggable DNS-exchange backend wires up the DNSOver{UDP,TCP,TLS,HTTPS}Conn
// stack as an alternative to the OS stub resolver.

package spio

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// resolverWorkers is the default worker-pool concurrency.
const resolverWorkers = 4

// ResolverBackend resolves a (host, service) pair into socket addresses.
// The default is [newOSResolverBackend]; [newDNSResolverBackend] performs
// the lookup itself against an explicitly configured nameserver.
type ResolverBackend interface {
	Lookup(ctx context.Context, host, service string, family Family) ([]SocketAddress, error)
}

// osResolverBackend wraps [*net.Resolver], deferring to the OS stub
// resolver.
type osResolverBackend struct {
	resolver *net.Resolver
}

func newOSResolverBackend() *osResolverBackend {
	return &osResolverBackend{resolver: net.DefaultResolver}
}

func (b *osResolverBackend) Lookup(ctx context.Context, host, service string, family Family) ([]SocketAddress, error) {
	network := "ip"
	switch family {
	case FamilyINET:
		network = "ip4"
	case FamilyINET6:
		network = "ip6"
	}

	ipaddrs, err := b.resolver.LookupIPAddr(ctx, stripNetwork(network, host))
	if err != nil {
		return nil, translateResolveError(err)
	}

	port, err := resolvePort(service)
	if err != nil {
		return nil, ErrAddressInvalid
	}

	var out []SocketAddress
	for _, ia := range ipaddrs {
		addr, ok := netipFromIPAddr(ia)
		if !ok {
			continue
		}
		ap := addrPortWithPort(addr, port)
		if addr.Is4() || addr.Is4In6() {
			out = append(out, NewINETAddress(ap))
		} else {
			out = append(out, NewINET6Address(ap))
		}
	}
	if len(out) == 0 {
		return nil, ErrAddressInvalid
	}
	return out, nil
}

// dnsResolverBackend issues the A/AAAA lookup directly against a
// configured nameserver using this package's DNS-exchange primitives,
// instead of the OS stub resolver.
type dnsResolverBackend struct {
	exchange func(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
	close    func() error
}

// newDNSResolverBackend builds a backend that exchanges queries over an
// already-established DNS transport connection (one of
// [*DNSOverUDPConn], [*DNSOverTCPConn], [*DNSOverTLSConn],
// [*DNSOverHTTPSConn]).
func newDNSResolverBackend(conn interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
	Close() error
}) *dnsResolverBackend {
	return &dnsResolverBackend{exchange: conn.Exchange, close: conn.Close}
}

// NewDNSResolverBackend returns a [ResolverBackend] that resolves
// through conn instead of the OS stub resolver. Assign the result to
// [Config.ResolverBackend] before passing cfg to [Init] to have the tcp
// transport's dial-time lookups go through conn.
func NewDNSResolverBackend(conn interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
	Close() error
}) ResolverBackend {
	return newDNSResolverBackend(conn)
}

// DialDNSResolverBackend dials nameserver over UDP and wraps the
// resulting connection as a [ResolverBackend], using the same
// endpoint/connect/observe/cancel-watch/DNS-wrap pipeline composition
// the package's DNS-over-UDP example demonstrates. The returned close
// function releases the underlying connection once the backend is no
// longer needed.
func DialDNSResolverBackend(ctx context.Context, cfg *Config, logger SLogger, nameserver netip.AddrPort) (ResolverBackend, func() error, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = DefaultSLogger()
	}
	pipeline := Compose5(
		NewEndpointFunc(nameserver),
		NewConnectFunc(cfg, "udp", logger),
		NewObserveConnFunc(cfg, logger),
		NewCancelWatchFunc(),
		NewDNSOverUDPConnFunc(cfg, logger),
	)
	conn, err := pipeline.Call(ctx, Unit{})
	if err != nil {
		return nil, nil, err
	}
	return NewDNSResolverBackend(conn), conn.Close, nil
}

// DialDNSResolverBackendOverTCP is [DialDNSResolverBackend]'s
// DNS-over-TCP counterpart, for nameservers that require (or are
// configured to prefer) a stream transport.
func DialDNSResolverBackendOverTCP(ctx context.Context, cfg *Config, logger SLogger, nameserver netip.AddrPort) (ResolverBackend, func() error, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = DefaultSLogger()
	}
	pipeline := Compose5(
		NewEndpointFunc(nameserver),
		NewConnectFunc(cfg, "tcp", logger),
		NewObserveConnFunc(cfg, logger),
		NewCancelWatchFunc(),
		NewDNSOverTCPConnFunc(cfg, logger),
	)
	conn, err := pipeline.Call(ctx, Unit{})
	if err != nil {
		return nil, nil, err
	}
	return NewDNSResolverBackend(conn), conn.Close, nil
}

// DialDNSResolverBackendOverTLS is [DialDNSResolverBackend]'s
// DNS-over-TLS counterpart. serverName is used both to configure the TLS
// handshake and as the dialed endpoint's certificate verification name.
func DialDNSResolverBackendOverTLS(ctx context.Context, cfg *Config, logger SLogger, nameserver netip.AddrPort, serverName string) (ResolverBackend, func() error, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = DefaultSLogger()
	}
	dial := Compose4(
		NewEndpointFunc(nameserver),
		NewConnectFunc(cfg, "tcp", logger),
		NewObserveConnFunc(cfg, logger),
		NewCancelWatchFunc(),
	)
	conn, err := dial.Call(ctx, Unit{})
	if err != nil {
		return nil, nil, err
	}
	handshake := NewTLSHandshakeFunc(cfg, &tls.Config{ServerName: serverName}, logger)
	tconn, err := handshake.Call(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	wrap := NewDNSOverTLSConnFunc(cfg, logger)
	dnsConn, err := wrap.Call(ctx, tconn)
	if err != nil {
		tconn.Close()
		return nil, nil, err
	}
	return NewDNSResolverBackend(dnsConn), dnsConn.Close, nil
}

func (b *dnsResolverBackend) Lookup(ctx context.Context, host, service string, family Family) ([]SocketAddress, error) {
	port, err := resolvePort(service)
	if err != nil {
		return nil, ErrAddressInvalid
	}

	var out []SocketAddress
	if family != FamilyINET6 {
		if addrs, err := b.lookupType(ctx, host, port, dns.TypeA, false); err == nil {
			out = append(out, addrs...)
		}
	}
	if family != FamilyINET {
		if addrs, err := b.lookupType(ctx, host, port, dns.TypeAAAA, true); err == nil {
			out = append(out, addrs...)
		}
	}
	if len(out) == 0 {
		return nil, ErrAddressInvalid
	}
	return out, nil
}

func (b *dnsResolverBackend) lookupType(ctx context.Context, host string, port uint16, qtype uint16, v6 bool) ([]SocketAddress, error) {
	query := dnscodec.NewQuery(host, qtype)
	resp, err := b.exchange(ctx, query)
	if err != nil {
		return nil, err
	}
	var raw []string
	if v6 {
		raw, err = resp.RecordsAAAA()
	} else {
		raw, err = resp.RecordsA()
	}
	if err != nil {
		return nil, err
	}
	var out []SocketAddress
	for _, s := range raw {
		addr, err := parseIP(s)
		if err != nil {
			continue
		}
		ap := addrPortWithPort(addr, port)
		if v6 {
			out = append(out, NewINET6Address(ap))
		} else {
			out = append(out, NewINETAddress(ap))
		}
	}
	return out, nil
}

// resolveItem is the transient per-call record bound to a pending
// resolution. host/service are borrowed from the caller and must
// outlive the operation.
type resolveItem struct {
	mu        sync.Mutex
	discarded bool
	entry     *taskEntry
}

// Resolver asynchronously resolves (host, service) pairs through a
// bounded worker pool, completing through an [*AIO].
type Resolver struct {
	tq      *taskQueue
	backend ResolverBackend

	// Logger receives "resolveStart"/"resolveDone" span events around
	// each backend lookup. Set by [NewResolver] to [DefaultSLogger].
	Logger SLogger

	// ErrClassifier classifies errors for structured logging.
	// Set by [NewResolver] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier
}

// NewResolver returns a [*Resolver] backed by workers concurrent
// goroutines (0 selects the default of 4) and backend (nil selects the
// OS stub resolver).
func NewResolver(workers int, backend ResolverBackend) *Resolver {
	if workers <= 0 {
		workers = resolverWorkers
	}
	if backend == nil {
		backend = newOSResolverBackend()
	}
	return &Resolver{
		tq:            newTaskQueue(workers),
		backend:       backend,
		Logger:        DefaultSLogger(),
		ErrClassifier: DefaultErrClassifier,
	}
}

// ResolveTCP asynchronously resolves host/service to a list of
// [SocketAddress] values for the given family, completing aio.
// family may be FamilyINET, FamilyINET6, or FamilyUnspec to match either;
// passive is accepted but not passed to the backend, so neither the OS
// nor the DNS backend returns different addresses for a passive lookup.
func (r *Resolver) ResolveTCP(ctx context.Context, host, service string, family Family, passive bool, aio *AIO) {
	// Idempotent reuse: drop any previously-set output before starting
	// a new resolution on the same AIO.
	aio.SetOutput(nil)

	item := &resolveItem{}

	cancelHook := func(a *AIO) {
		item.mu.Lock()
		entry := item.entry
		item.discarded = true
		item.mu.Unlock()
		if entry != nil {
			r.tq.cancel(entry)
		}
		a.Finish(ErrCanceled, 0)
	}

	if err := aio.Start(cancelHook, item); err != nil {
		aio.Finish(err, 0)
		return
	}

	lc := &SpanLogContext{
		ErrClassifier: r.ErrClassifier,
		Logger:        r.Logger,
		Name:          "resolve",
		SpanID:        NewSpanID(),
		TimeNow:       time.Now,
	}

	entry, err := r.tq.dispatch(func() {
		item.mu.Lock()
		discarded := item.discarded
		item.mu.Unlock()
		if discarded {
			return
		}

		t0 := time.Now()
		lc.Start(t0, slog.String("host", host), slog.String("service", service))
		addrs, err := r.backend.Lookup(ctx, host, service, family)
		lc.Done(t0, err, slog.Int("count", len(addrs)))

		item.mu.Lock()
		discarded = item.discarded
		item.mu.Unlock()
		if discarded {
			return
		}

		if err != nil {
			aio.Finish(err, 0)
			return
		}
		aio.SetOutput(addrs)
		aio.Finish(nil, len(addrs))
	})
	if err != nil {
		aio.Finish(err, 0)
		return
	}
	item.mu.Lock()
	item.entry = entry
	item.mu.Unlock()
}

// Close stops the resolver's worker pool.
func (r *Resolver) Close() {
	r.tq.close()
}

// globalResolver is the process-wide resolver used by the tcp transport
// to turn hostnames into dialable addresses.
var globalResolver = NewResolver(resolverWorkers, nil)

// resolveBlocking is a synchronous convenience wrapper around
// [*Resolver.ResolveTCP] for callers (like the tcp transport's dial
// path) that need one address right away rather than driving an AIO
// themselves.
func resolveBlocking(ctx context.Context, cfg *Config, host, service string, family Family, passive bool) ([]SocketAddress, error) {
	done := make(chan struct{})
	var addrs []SocketAddress
	var rerr error

	aio := NewAIO(ctx, func(a *AIO) {
		rerr = a.Result()
		if rerr == nil {
			if out, ok := a.Output().([]SocketAddress); ok {
				addrs = out
			}
		}
		close(done)
	})

	resolver := globalResolver
	if cfg != nil && cfg.ResolverBackend != nil {
		resolver = cfg.resolverFor()
	}
	resolver.ResolveTCP(ctx, host, service, family, passive, aio)

	select {
	case <-done:
		return addrs, rerr
	case <-ctx.Done():
		aio.Cancel()
		<-done
		return addrs, rerr
	}
}

func resolvePort(service string) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(service); err == nil {
		if n < 0 || n > 65535 {
			return 0, ErrAddressInvalid
		}
		return uint16(n), nil
	}
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return 0, err
	}
	return uint16(port), nil
}

func stripNetwork(_ string, host string) string {
	return host
}

// netipFromIPAddr converts a [net.IPAddr] (as returned by
// [*net.Resolver.LookupIPAddr]) to a [netip.Addr].
func netipFromIPAddr(ia net.IPAddr) (netip.Addr, bool) {
	return netip.AddrFromSlice(ia.IP)
}

// addrPortWithPort pairs addr with port, unmapping 4-in-6 addresses so
// [netip.Addr.Is4] reports correctly for dual-stack resolver results.
func addrPortWithPort(addr netip.Addr, port uint16) netip.AddrPort {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	return netip.AddrPortFrom(addr, port)
}

// parseIP parses a dotted-quad or textual IPv6 address as returned by a
// DNS A/AAAA record.
func parseIP(s string) (netip.Addr, error) {
	return netip.ParseAddr(s)
}

func translateResolveError(err error) error {
	if err == nil {
		return nil
	}
	if dnsErr, ok := err.(*net.DNSError); ok {
		if dnsErr.IsNotFound {
			return ErrAddressInvalid
		}
		if dnsErr.IsTimeout {
			return ErrTimedOut
		}
	}
	return ErrAddressInvalid
}
