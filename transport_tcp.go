// SPDX-License-Identifier: GPL-3.0-or-later
//
// Dial pipeline built from this package's own Func composition:
// ConnectFunc, ObserveConnFunc, and CancelWatchFunc, assembled the same
// way its DNS dial pipelines are.

package spio

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"strings"

	"golang.org/x/net/netutil"
)

// maxTCPConnections bounds a single tcp:// listener's concurrently
// accepted connections, giving the golang.org/x/net module a second,
// non-DNS use in this module (otherwise only its http2 package is used,
// by [HTTPConn] for DNS over HTTPS).
const maxTCPConnections = 256

// resolveHostPort turns "host:port" into a dialable [netip.AddrPort],
// resolving host through the package resolver when it is not already a
// literal IP address.
func resolveHostPort(ctx context.Context, cfg *Config, hostport string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return ap, nil
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, ErrAddressInvalid
	}
	addrs, err := resolveBlocking(ctx, cfg, host, portStr, FamilyUnspec, false)
	if err != nil {
		return netip.AddrPort{}, err
	}
	for _, a := range addrs {
		if a.Family() == FamilyINET || a.Family() == FamilyINET6 {
			return a.AddrPort(), nil
		}
	}
	return netip.AddrPort{}, ErrAddressInvalid
}

// tcpDialPipeline builds a [Func] that resolves, dials, observes, and
// context-binds a tcp connection.
func tcpDialPipeline(cfg *Config, logger SLogger) Func[string, net.Conn] {
	connect := NewConnectFunc(cfg, "tcp", logger)
	observe := NewObserveConnFunc(cfg, logger)
	watch := NewCancelWatchFunc()

	return FuncAdapter[string, net.Conn](func(ctx context.Context, hostport string) (net.Conn, error) {
		ap, err := resolveHostPort(ctx, cfg, hostport)
		if err != nil {
			return nil, err
		}
		// Lift the resolved endpoint into a Unit-input pipeline stage so
		// connect composes the same way the DNS dial pipelines do.
		dial := Compose2(NewEndpointFunc(ap), connect)
		conn, err := dial.Call(ctx, Unit{})
		if err != nil {
			return nil, translateNetError(err)
		}
		observed, err := observe.Call(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, translateNetError(err)
		}
		watched, err := watch.Call(ctx, observed)
		if err != nil {
			observed.Close()
			return nil, translateNetError(err)
		}
		return watched, nil
	})
}

func tcpDial(cfg *Config, logger SLogger) pipeDialer {
	pipeline := tcpDialPipeline(cfg, logger)
	return func(ctx context.Context, addr string) (Pipe, error) {
		rest := strings.TrimPrefix(addr, "tcp://")
		conn, err := pipeline.Call(ctx, rest)
		if err != nil {
			return nil, err
		}
		return newNetPipe(conn), nil
	}
}

func tcpListen(ctx context.Context, addr string) (PipeListener, error) {
	rest := strings.TrimPrefix(addr, "tcp://")
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", rest)
	if err != nil {
		return nil, translateNetError(err)
	}
	limited := netutil.LimitListener(ln, maxTCPConnections)
	return &netPipeListener{ln: limited}, nil
}

func tcpTransport(cfg *Config, logger SLogger) TransportDescriptor {
	return TransportDescriptor{
		Scheme:  "tcp",
		Version: transportVersion,
		Dial:    tcpDial(cfg, logger),
		Listen:  tcpListen,
	}
}

// tlsTCPDial dials plain TCP, then layers [*TLSHandshakeFunc] on top —
// a composite "tls+tcp://" scheme, demonstrating why registry lookup is
// prefix-based rather than a flat scheme-to-entry map.
func tlsTCPDial(cfg *Config, logger SLogger) pipeDialer {
	base := tcpDialPipeline(cfg, logger)
	return func(ctx context.Context, addr string) (Pipe, error) {
		rest := strings.TrimPrefix(addr, "tls+tcp://")
		host, _, err := net.SplitHostPort(rest)
		if err != nil {
			host = rest
		}
		conn, err := base.Call(ctx, rest)
		if err != nil {
			return nil, err
		}
		handshake := NewTLSHandshakeFunc(cfg, &tls.Config{ServerName: host}, logger)
		tconn, err := handshake.Call(ctx, conn)
		if err != nil {
			return nil, translateNetError(err)
		}
		return newNetPipe(tconn), nil
	}
}

func tlsTCPListen(ctx context.Context, addr string) (PipeListener, error) {
	rest := strings.TrimPrefix(addr, "tls+tcp://")
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", rest)
	if err != nil {
		return nil, translateNetError(err)
	}
	return &netPipeListener{ln: netutil.LimitListener(ln, maxTCPConnections)}, nil
}

func tlsTCPTransport(cfg *Config, logger SLogger) TransportDescriptor {
	return TransportDescriptor{
		Scheme:  "tls+tcp",
		Version: transportVersion,
		Dial:    tlsTCPDial(cfg, logger),
		Listen:  tlsTCPListen,
	}
}

// builtinTransports returns the transports registered at subsystem init:
// inproc, ipc, tcp, then the composite tls+tcp scheme.
func builtinTransports(cfg *Config, logger SLogger) []TransportDescriptor {
	return []TransportDescriptor{
		inprocTransport(),
		ipcTransport(cfg, logger),
		tcpTransport(cfg, logger),
		tlsTCPTransport(cfg, logger),
	}
}
