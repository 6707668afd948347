package muxtcp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"voxelwire.io/internal/protocol"
)

// FrameConn carries length-prefixed frames (uint32 big endian) over a stream.
// It implements session.Conn.
type FrameConn struct {
	conn net.Conn
	r    *bufio.Reader

	wmu sync.Mutex
}

func NewFrameConn(conn net.Conn) *FrameConn {
	return &FrameConn{conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}
}

func (c *FrameConn) ReadFrame() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > protocol.MaxFrameSize {
		return nil, fmt.Errorf("muxtcp: frame of %d bytes: %w", n, protocol.ErrFrameTooLarge)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *FrameConn) WriteFrame(b []byte) error {
	if len(b) > protocol.MaxFrameSize {
		return protocol.ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

func (c *FrameConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *FrameConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *FrameConn) RemoteAddr() string                 { return c.conn.RemoteAddr().String() }
func (c *FrameConn) Close() error                       { return c.conn.Close() }
