// SPDX-License-Identifier: GPL-3.0-or-later
//
// The ipc transport addresses peers by filesystem path, carried as the
// "ipc://" scheme's remainder. Unlike tcp, its addressing is not an
// [netip.AddrPort], so its dial pipeline cannot reuse [*ConnectFunc] (which
// is fundamentally IP-endpoint-addressed); it composes [*ObserveConnFunc]
// and [*CancelWatchFunc] directly around a path dial instead.

package spio

import (
	"context"
	"net"
	"strings"
)

func ipcPath(addr string) string {
	return strings.TrimPrefix(addr, "ipc://")
}

// ipcDialPipeline builds a [Func] that dials a unix socket path, then
// observes and context-binds the resulting connection the same way
// [tcpDialPipeline] does for its own dial step.
func ipcDialPipeline(cfg *Config, logger SLogger) Func[string, net.Conn] {
	observe := NewObserveConnFunc(cfg, logger)
	watch := NewCancelWatchFunc()

	return FuncAdapter[string, net.Conn](func(ctx context.Context, path string) (net.Conn, error) {
		conn, err := cfg.Dialer.DialContext(ctx, "unix", path)
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

func ipcDial(cfg *Config, logger SLogger) pipeDialer {
	pipeline := ipcDialPipeline(cfg, logger)
	return func(ctx context.Context, addr string) (Pipe, error) {
		conn, err := pipeline.Call(ctx, ipcPath(addr))
		if err != nil {
			return nil, err
		}
		return newNetPipe(conn), nil
	}
}

func ipcListen(ctx context.Context, addr string) (PipeListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", ipcPath(addr))
	if err != nil {
		return nil, translateNetError(err)
	}
	return &netPipeListener{ln: ln}, nil
}

func ipcTransport(cfg *Config, logger SLogger) TransportDescriptor {
	return TransportDescriptor{
		Scheme:  "ipc",
		Version: transportVersion,
		Dial:    ipcDial(cfg, logger),
		Listen:  ipcListen,
	}
}
