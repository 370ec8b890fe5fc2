// File: knapp/wire/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds one frame body; a full io-base arena must fit.
const MaxFrameSize = 96 << 20

// HeaderSize is the length prefix size.
const HeaderSize = 4

var (
	// ErrFrameTooLarge means the stream is no longer in sync.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	// ErrMalformed means one frame body failed to decode; the stream is
	// still usable.
	ErrMalformed = fmt.Errorf("malformed frame: %w", api.ErrInvalidArgument)
)

// WriteFrame encodes v and writes it as one length-prefixed frame.
func WriteFrame(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[HeaderSize:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Conn frames a stream connection. Send is safe for concurrent use; Recv
// must be called from one goroutine.
type Conn struct {
	nc  net.Conn
	r   *bufio.Reader
	wmu sync.Mutex
}

// NewConn wraps nc.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReaderSize(nc, 64<<10)}
}

// Send writes one frame.
func (c *Conn) Send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.nc, v)
}

// Recv reads one frame.
func (c *Conn) Recv(v any) error { return ReadFrame(c.r, v) }

// SetDeadline bounds the next Send and Recv; the zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error { return c.nc.SetDeadline(t) }

// LocalAddr returns the local endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the peer endpoint.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }
