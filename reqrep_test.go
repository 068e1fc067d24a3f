// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inprocTestAddr(t *testing.T) string {
	return fmt.Sprintf("inproc://%s", t.Name())
}

// S1 — matched pair over inproc.
func TestReqRepMatchedPairOverInproc(t *testing.T) {
	require.NoError(t, Init(nil, nil))
	addr := inprocTestAddr(t)

	rep := OpenREP(nil)
	defer rep.Close()
	require.NoError(t, rep.Listen(context.Background(), addr))

	req := OpenREQ(nil)
	defer req.Close()
	require.NoError(t, req.Dial(context.Background(), addr))

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, req.SendSync(context.Background(), []byte("ping\x00")))

	payload, err := rep.RecvSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("ping\x00"), payload)

	require.NoError(t, rep.SendSync(context.Background(), []byte("pong\x00")))

	reply, err := req.RecvSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("pong\x00"), reply)
}

// S2 — REQ state violation: recv with no preceding send.
func TestReqRecvWithoutSendFails(t *testing.T) {
	req := newREQPattern(nil)
	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(context.Background(), func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})
	req.recv(context.Background(), aio)
	<-done
	assert.ErrorIs(t, gotErr, ErrStateError)
}

// S3 — REP state violation: send with no preceding recv.
func TestRepSendWithoutRecvFails(t *testing.T) {
	rep := newREPPattern(nil)
	done := make(chan struct{})
	var gotErr error
	aio := NewAIO(context.Background(), func(a *AIO) {
		gotErr = a.Result()
		close(done)
	})
	rep.send(context.Background(), nil, aio)
	<-done
	assert.ErrorIs(t, gotErr, ErrStateError)
}

// S4 — request supersession: REQ's second send abandons the first;
// only the second request's reply is ever delivered to recv.
func TestReqRequestSupersession(t *testing.T) {
	require.NoError(t, Init(nil, nil))
	addr := inprocTestAddr(t)
	cfg := NewConfig()
	cfg.ResendTime = 100 * time.Millisecond
	cfg.SendBufSize = 16

	rep := OpenREP(nil)
	defer rep.Close()
	require.NoError(t, rep.Listen(context.Background(), addr))

	req := OpenREQ(cfg)
	defer req.Close()
	require.NoError(t, req.Dial(context.Background(), addr))

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, req.SendSync(context.Background(), []byte("abc\x00")))
	require.NoError(t, req.SendSync(context.Background(), []byte("def\x00")))

	cmd, err := rep.RecvSync(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.SendSync(context.Background(), cmd))

	cmd, err = rep.RecvSync(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.SendSync(context.Background(), cmd))

	reply, err := req.RecvSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("def\x00"), reply)
}

// S5 — protocol identity.
func TestProtocolIdentity(t *testing.T) {
	req := OpenREQ(nil)
	defer req.Close()
	rep := OpenREP(nil)
	defer rep.Close()

	assert.Equal(t, ProtocolREQ, req.Protocol())
	assert.Equal(t, ProtocolREP, req.Peer())
	assert.Equal(t, ProtocolREP, rep.Protocol())
	assert.Equal(t, ProtocolREQ, rep.Peer())
}

func TestReqGetSetOptionResendTime(t *testing.T) {
	req := OpenREQ(nil)
	defer req.Close()

	v, err := req.GetOption("RESENDTIME")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, v)

	require.NoError(t, req.SetOption("RESENDTIME", 5*time.Second))
	v, err = req.GetOption("RESENDTIME")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v)

	err = req.SetOption("RESENDTIME", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestReqGetSetOptionSendBuf(t *testing.T) {
	req := OpenREQ(nil)
	defer req.Close()

	v, err := req.GetOption("SNDBUF")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, req.SetOption("SNDBUF", 8))
	v, err = req.GetOption("SNDBUF")
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestReqSetOptionUnrecognizedFails(t *testing.T) {
	req := OpenREQ(nil)
	defer req.Close()
	assert.ErrorIs(t, req.SetOption("no-such-option", nil), ErrNotSupported)
}

func TestRepHasNoPatternOptions(t *testing.T) {
	rep := OpenREP(nil)
	defer rep.Close()
	assert.ErrorIs(t, rep.SetOption("RESENDTIME", time.Second), ErrNotSupported)
	_, err := rep.GetOption("RESENDTIME")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestRepRecvDiscardsUnansweredBacktrace(t *testing.T) {
	require.NoError(t, Init(nil, nil))
	addr := inprocTestAddr(t)

	rep := OpenREP(nil)
	defer rep.Close()
	require.NoError(t, rep.Listen(context.Background(), addr))

	req := OpenREQ(nil)
	defer req.Close()
	require.NoError(t, req.Dial(context.Background(), addr))

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, req.SendSync(context.Background(), []byte("one")))
	_, err := rep.RecvSync(context.Background())
	require.NoError(t, err)

	// Application never replies; calling recv again discards the
	// cached backtrace instead of failing.
	require.NoError(t, req.SendSync(context.Background(), []byte("two")))
	payload, err := rep.RecvSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), payload)
}
