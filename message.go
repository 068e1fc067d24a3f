// SPDX-License-Identifier: GPL-3.0-or-later

package spio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// backtraceMarker is the top bit that distinguishes a request-ID header
// from ordinary payload bytes.
const backtraceMarker = uint32(1) << 31

// Message is a framed message exchanged between pattern and transport: an
// opaque routing header ("backtrace", possibly empty) plus a payload.
type Message struct {
	header  []byte
	payload []byte
}

// NewMessage wraps payload with no header.
func NewMessage(payload []byte) *Message {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Message{payload: buf}
}

// Payload returns the message's payload bytes (excluding any header).
func (m *Message) Payload() []byte { return m.payload }

// Header returns the message's routing header bytes, or nil if none.
func (m *Message) Header() []byte { return m.header }

// WithHeader returns a copy of m with header replaced.
func (m *Message) WithHeader(header []byte) *Message {
	return &Message{header: append([]byte(nil), header...), payload: m.payload}
}

// PrependRequestID returns a copy of m with a big-endian 32-bit request
// ID (top bit set) prepended as its header.
func PrependRequestID(m *Message, id uint32) *Message {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, id|backtraceMarker)
	return &Message{header: hdr, payload: m.payload}
}

// RequestID extracts the leading 32-bit request ID from m's header. ok is
// false if the header is shorter than 4 bytes.
func RequestID(m *Message) (id uint32, ok bool) {
	if len(m.header) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(m.header[:4]) &^ backtraceMarker, true
}

// wireEncode serializes a message as [4-byte header length][header][4-byte
// payload length][payload] for transport over a length-prefixed pipe.
func wireEncode(m *Message) []byte {
	buf := make([]byte, 0, 8+len(m.header)+len(m.payload))
	var lenbuf [4]byte
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(m.header)))
	buf = append(buf, lenbuf[:]...)
	buf = append(buf, m.header...)
	binary.BigEndian.PutUint32(lenbuf[:], uint32(len(m.payload)))
	buf = append(buf, lenbuf[:]...)
	buf = append(buf, m.payload...)
	return buf
}

// wireDecode reads one length-prefixed message from r.
func wireDecode(r io.Reader) (*Message, error) {
	hdrLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	header, err := readExactly(r, int(hdrLen))
	if err != nil {
		return nil, err
	}
	payloadLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	payload, err := readExactly(r, int(payloadLen))
	if err != nil {
		return nil, err
	}
	return &Message{header: header, payload: payload}, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readExactly(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || n > 64<<20 {
		return nil, fmt.Errorf("spio: implausible frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Pipe is an established bidirectional connection between two sockets of
// compatible patterns. All built-in transports produce Pipes; the
// pattern layer only ever talks to this interface.
type Pipe interface {
	// Send writes one framed message. It must not be called
	// concurrently with another Send on the same Pipe.
	Send(ctx context.Context, m *Message) error

	// Recv reads one framed message, blocking until one arrives, ctx is
	// done, or the pipe is closed.
	Recv(ctx context.Context) (*Message, error)

	// Close closes the underlying connection.
	Close() error
}
