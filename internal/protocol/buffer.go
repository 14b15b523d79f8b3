// Package protocol implements the RESP-style wire framing of spec §4.9
// and the async buffered I/O of spec §4.10.
//
// Grounded directly on original_source/agilulf_protocol/src/message.rs,
// reply.rs, request.rs, tcp_buffer.rs and async_buffer.rs — the literal
// ancestor of this wire format, translated from Rust's Stream/Sink traits
// to Go io.Reader/io.Writer-shaped buffers.
package protocol

import (
	"errors"
	"io"
)

// BufSize is the fixed backing array size for both the read and write
// buffers (spec §4.10: "an exact 8 KiB fixed backing array").
const BufSize = 8192

// ReadBuffer is a manually managed buffered reader exposing the two
// framing primitives the codec needs, kept as two distinct methods rather
// than one general "read until" helper because the wire format mixes
// line-delimited heads with fixed-length bulk payloads (spec §12,
// mirroring async_buffer.rs's fill_buf/read_line/read_exact split).
type ReadBuffer struct {
	r   io.Reader
	buf [BufSize]byte
	pos int
	end int
}

// NewReadBuffer wraps r with an 8 KiB read buffer.
func NewReadBuffer(r io.Reader) *ReadBuffer {
	return &ReadBuffer{r: r}
}

// fillBuf ensures at least one unread byte is available. A zero-length read
// that fails with io.EOF means the peer closed the connection, whether at a
// frame boundary or mid-frame (spec §4.9 decoder behavior: "a zero-length read signals
// connection-closed"), which is reported as *ConnectionClosedError rather
// than a bare io.EOF so callers can tell a clean disconnect apart from
// every other I/O error kind (spec §7).
func (b *ReadBuffer) fillBuf() error {
	if b.pos < b.end {
		return nil
	}
	n, err := b.r.Read(b.buf[:])
	if n == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			return &ConnectionClosedError{}
		}
		return err
	}
	b.pos = 0
	b.end = n
	return nil
}

// ReadLine reads bytes up to and including a terminating "\n", returning
// the line with any trailing "\r\n" or "\n" stripped. The "\r" is stripped
// by inspecting the accumulated line after the "\n" is found, rather than
// peeking at the byte before it within the current chunk, so a "\r\n" split
// exactly across two underlying reads (the "\r" landing in one fillBuf, the
// "\n" landing in the next) is still recognized and stripped correctly
// (spec §4.10: "the \n must be preceded by \r either in the same chunk or
// across chunks").
func (b *ReadBuffer) ReadLine() ([]byte, error) {
	var line []byte
	for {
		if err := b.fillBuf(); err != nil {
			return nil, err
		}
		for i := b.pos; i < b.end; i++ {
			if b.buf[i] == '\n' {
				line = append(line, b.buf[b.pos:i]...)
				b.pos = i + 1
				if n := len(line); n > 0 && line[n-1] == '\r' {
					line = line[:n-1]
				}
				return line, nil
			}
		}
		line = append(line, b.buf[b.pos:b.end]...)
		b.pos = b.end
	}
}

// ReadExact reads exactly n bytes.
func (b *ReadBuffer) ReadExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := b.fillBuf(); err != nil {
			return nil, err
		}
		take := n - len(out)
		if avail := b.end - b.pos; avail < take {
			take = avail
		}
		out = append(out, b.buf[b.pos:b.pos+take]...)
		b.pos += take
	}
	return out, nil
}

// WriteBuffer is a manually managed buffered writer over a fixed 8 KiB
// backing array.
type WriteBuffer struct {
	w   io.Writer
	buf [BufSize]byte
	n   int
}

// NewWriteBuffer wraps w with an 8 KiB write buffer.
func NewWriteBuffer(w io.Writer) *WriteBuffer {
	return &WriteBuffer{w: w}
}

// Write buffers p, flushing to the underlying writer as the backing array
// fills.
func (b *WriteBuffer) Write(p []byte) error {
	for len(p) > 0 {
		room := BufSize - b.n
		if room == 0 {
			if err := b.Flush(); err != nil {
				return err
			}
			room = BufSize
		}
		take := len(p)
		if take > room {
			take = room
		}
		copy(b.buf[b.n:], p[:take])
		b.n += take
		p = p[take:]
	}
	return nil
}

// Flush writes any buffered bytes to the underlying writer.
func (b *WriteBuffer) Flush() error {
	if b.n == 0 {
		return nil
	}
	_, err := b.w.Write(b.buf[:b.n])
	b.n = 0
	return err
}
