package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
)

// SizeHeaderLen is the length-prefix every frame on every stream carries:
// a little-endian u32 payload size, per the wire protocol in §6.
const SizeHeaderLen = 4

// ErrStreamClosed is returned by ReadFrame when the peer sends a
// payload_size of 0, the protocol's clean end-of-stream signal.
var ErrStreamClosed = errors.New("wire: stream closed by peer")

// MaxFrameSize bounds a single frame's declared payload size, guarding
// against a corrupt or hostile size header forcing an unbounded allocation.
const MaxFrameSize = 1 << 30 // 1GiB

// Message is a logical unit written to a session: a pre-computed
// total_payload_size header followed by up to a handful of BufferViews
// (header+body for multi-GPU control, or a single payload for sensor
// streams). WriteTo issues one scatter-gather Write so the header and every
// view go out without an intermediate copy.
type Message struct {
	sizeHdr [SizeHeaderLen]byte
	views   []*buf.View
}

// NewMessage computes the total payload size across views and takes over
// the caller's reference to each of them: Message.Release releases every
// view, so callers Retain a view first if they keep using it.
func NewMessage(views ...*buf.View) *Message {
	var total int
	for _, v := range views {
		total += v.Size()
	}
	m := &Message{views: views}
	binary.LittleEndian.PutUint32(m.sizeHdr[:], uint32(total))
	return m
}

// PayloadSize returns the message's declared total_payload_size.
func (m *Message) PayloadSize() uint32 { return binary.LittleEndian.Uint32(m.sizeHdr[:]) }

// WriteTo performs one gather-write of the size header followed by every
// view's bytes. Prefers *net.TCPConn's net.Buffers (writev) path; falls
// back to sequential writes for any other io.Writer.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	if conn, ok := w.(net.Conn); ok {
		bufs := m.gatherBuffers()
		return bufs.WriteTo(conn)
	}
	return m.writeSequential(w)
}

func (m *Message) gatherBuffers() net.Buffers {
	bufs := make(net.Buffers, 0, len(m.views)+1)
	bufs = append(bufs, m.sizeHdr[:])
	for _, v := range m.views {
		bufs = append(bufs, v.Bytes())
	}
	return bufs
}

func (m *Message) writeSequential(w io.Writer) (int64, error) {
	var total int64
	n, err := w.Write(m.sizeHdr[:])
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, v := range m.views {
		n, err := w.Write(v.Bytes())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Release releases every view the Message holds.
func (m *Message) Release() {
	for _, v := range m.views {
		v.Release()
	}
}

// ReadFrame reads one length-prefixed frame from r into a Buffer popped
// from pool, per the read loop in §4.3: read the 4-byte size, treat 0 as a
// clean stream close, then read exactly size bytes. A body that ends before
// size bytes arrive is a protocol error.
func ReadFrame(r io.Reader, pool *buf.Pool) (*buf.Buffer, error) {
	var hdr [SizeHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size == 0 {
		return nil, ErrStreamClosed
	}
	if size > MaxFrameSize {
		return nil, cos.NewErrProtocol("declared frame size %d exceeds max %d", size, MaxFrameSize)
	}
	b := pool.Pop(int(size))
	b.Reset(int(size))
	if n, err := io.ReadFull(r, b.Data()); err != nil {
		b.Release()
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, cos.NewErrProtocol("declared frame size %d, got %d bytes before end of stream", size, n)
		}
		return nil, err
	}
	return b, nil
}

// WriteFrame writes a single length-prefixed frame carrying payload as its
// entire body; a convenience wrapper over Message for single-view sends.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [SizeHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
