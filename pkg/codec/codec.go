// Copyright 2025 Albatross Validators
//
// Framed Update Codec
// Length-prefixed reader/writer for LevelUpdate frames over any io.Reader/io.Writer.
//
// Package codec implements the framed wire format aggregation peers speak
// over a point-to-point byte stream: a fixed 4-byte big-endian length header
// followed by that many bytes of LevelUpdate payload.
//
// Grounded on the Handel network layer's own message framing (a poll-based
// Head -> Data(header) -> Head reader state machine); this port blocks
// synchronously on io.Reader.Read instead of polling a future, and honors
// context cancellation by racing the read against the connection's
// SetReadDeadline when the underlying connection supports it.
package codec

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/albatross-validator/handel/pkg/handel"
)

// HeaderSize is the fixed length, in bytes, of the big-endian u32 payload
// length prefix.
const HeaderSize = 4

// ErrUnexpectedEnd is returned when the underlying stream ends mid-header or
// mid-payload — a clean EOF with no bytes read at all is reported as
// io.EOF instead, signalling an orderly end of stream.
var ErrUnexpectedEnd = errors.New("codec: unexpected end of stream")

// readerState mirrors the Head/Data states of the framing state machine.
type readerState int

const (
	stateHead readerState = iota
	stateData
)

// Reader decodes a sequence of LevelUpdate frames from an io.Reader. It is
// not safe for concurrent use.
type Reader struct {
	r        io.Reader
	universe int
	state    readerState
	pending  uint32 // payload length once a header has been read
}

// NewReader builds a Reader. universe is the fixed validator-set size N
// needed to decode Identity bitsets inside each frame. A net.Conn is read
// directly, unbuffered, so that its read deadline can cancel a pending read;
// any other io.Reader is wrapped in a bufio.Reader.
func NewReader(r io.Reader, universe int) *Reader {
	if _, ok := r.(net.Conn); !ok {
		r = bufio.NewReader(r)
	}
	return &Reader{r: r, universe: universe, state: stateHead}
}

// ReadUpdate blocks until one full frame has been read and decoded, ctx is
// cancelled, or the stream ends. It returns io.EOF only for a clean
// end-of-stream observed exactly at a frame boundary; any other
// interruption is ErrUnexpectedEnd or a wrapped decode error.
func (rd *Reader) ReadUpdate(ctx context.Context) (*handel.LevelUpdate, error) {
	if rd.state == stateHead {
		header := make([]byte, HeaderSize)
		n, err := readFull(ctx, rd.r, header)
		if err != nil {
			if n == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: reading header: %v", ErrUnexpectedEnd, err)
		}
		rd.pending = binary.BigEndian.Uint32(header)
		rd.state = stateData
	}

	payload := make([]byte, rd.pending)
	if _, err := readFull(ctx, rd.r, payload); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrUnexpectedEnd, err)
	}
	rd.state = stateHead

	update := &handel.LevelUpdate{}
	if err := update.UnmarshalBinary(payload, rd.universe); err != nil {
		// Decode failure resyncs on the next header; the state machine is
		// already back in stateHead.
		return nil, fmt.Errorf("codec: decode level update: %w", err)
	}
	return update, nil
}

// readFull reads exactly len(buf) bytes, honoring ctx cancellation by
// racing the blocking read against ctx.Done() on connections that support
// SetReadDeadline.
func readFull(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	if conn, ok := r.(net.Conn); ok {
		if deadline, hasDeadline := ctx.Deadline(); hasDeadline {
			_ = conn.SetReadDeadline(deadline)
		} else if done := ctx.Done(); done != nil {
			_ = conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-done:
					_ = conn.SetReadDeadline(time.Now())
				case <-stop:
				}
			}()
		}
	}
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
	}
	return n, err
}

// Writer encodes LevelUpdate frames to an io.Writer. It is not safe for
// concurrent use.
type Writer struct {
	w io.Writer
}

// NewWriter builds a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteUpdate encodes and writes one LevelUpdate frame.
func (wr *Writer) WriteUpdate(update *handel.LevelUpdate) error {
	payload, err := update.MarshalBinary()
	if err != nil {
		return fmt.Errorf("codec: encode level update: %w", err)
	}
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := wr.w.Write(header); err != nil {
		return fmt.Errorf("codec: write header: %w", err)
	}
	if _, err := wr.w.Write(payload); err != nil {
		return fmt.Errorf("codec: write payload: %w", err)
	}
	return nil
}

// PeerConn bundles one TCP-or-similar connection's framed Reader and Writer,
// so pkg/handel's ConnNetwork can attach a real socket as a peer without
// importing this package (it only needs the Reader/Writer method shapes,
// which this satisfies structurally).
type PeerConn struct {
	*Reader
	*Writer
}

// NewPeerConn wraps a connection with a framed reader and writer pair for
// one peer, using universe to size decoded Identity bitsets.
func NewPeerConn(conn net.Conn, universe int) *PeerConn {
	return &PeerConn{
		Reader: NewReader(conn, universe),
		Writer: NewWriter(conn),
	}
}
