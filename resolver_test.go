// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolverBackend struct {
	addrs []SocketAddress
	err   error
	delay time.Duration
	calls int
}

func (f *fakeResolverBackend) Lookup(ctx context.Context, host, service string, family Family) ([]SocketAddress, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ErrCanceled
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs, nil
}

func TestResolverResolveTCPSuccess(t *testing.T) {
	backend := &fakeResolverBackend{
		addrs: []SocketAddress{NewINETAddress(netip.MustParseAddrPort("93.184.216.34:443"))},
	}
	r := NewResolver(2, backend)
	defer r.Close()

	done := make(chan struct{})
	var gotErr error
	var gotAddrs []SocketAddress
	aio := NewAIO(context.Background(), func(a *AIO) {
		gotErr = a.Result()
		gotAddrs, _ = a.Output().([]SocketAddress)
		close(done)
	})

	r.ResolveTCP(context.Background(), "example.com", "443", FamilyINET, false, aio)
	<-done

	require.NoError(t, gotErr)
	require.Len(t, gotAddrs, 1)
	assert.Equal(t, FamilyINET, gotAddrs[0].Family())
	assert.Equal(t, 1, aio.Count())
}

func TestResolverResolveTCPNotFound(t *testing.T) {
	backend := &fakeResolverBackend{err: ErrAddressInvalid}
	r := NewResolver(1, backend)
	defer r.Close()

	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(context.Background(), func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})

	r.ResolveTCP(context.Background(), "nowhere.invalid", "80", FamilyUnspec, false, aio)
	<-done

	assert.ErrorIs(t, gotErr, ErrAddressInvalid)
}

func TestResolverResolveTCPCancelBeforeDispatch(t *testing.T) {
	backend := &fakeResolverBackend{delay: 50 * time.Millisecond}
	r := NewResolver(1, backend)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(ctx, func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})

	cancel()
	r.ResolveTCP(ctx, "example.com", "80", FamilyUnspec, false, aio)
	<-done

	assert.ErrorIs(t, gotErr, ErrCanceled)
}

func TestResolverResolveTCPCancelDuringDispatch(t *testing.T) {
	backend := &fakeResolverBackend{delay: 200 * time.Millisecond}
	r := NewResolver(1, backend)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(ctx, func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})

	r.ResolveTCP(ctx, "example.com", "80", FamilyUnspec, false, aio)
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.ErrorIs(t, gotErr, ErrCanceled)
}

func TestResolverResolveTCPDeadline(t *testing.T) {
	backend := &fakeResolverBackend{delay: 200 * time.Millisecond}
	r := NewResolver(1, backend)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(ctx, func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})

	r.ResolveTCP(ctx, "example.com", "80", FamilyUnspec, false, aio)
	<-done

	assert.ErrorIs(t, gotErr, ErrTimedOut)
}

func TestResolvePortNumeric(t *testing.T) {
	port, err := resolvePort("8080")
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), port)
}

func TestResolvePortEmpty(t *testing.T) {
	port, err := resolvePort("")
	require.NoError(t, err)
	assert.Equal(t, uint16(0), port)
}

func TestResolvePortOutOfRange(t *testing.T) {
	_, err := resolvePort("99999")
	assert.ErrorIs(t, err, ErrAddressInvalid)
}

func TestResolveHostPortLiteralAddress(t *testing.T) {
	ap, err := resolveHostPort(context.Background(), NewConfig(), "127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", ap.String())
}
