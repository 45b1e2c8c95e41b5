package wire_test

import (
	"bytes"
	"testing"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/wire"
)

func TestFramingRoundTrip(t *testing.T) {
	pool := buf.NewPool()
	payload := []byte("hello")

	var out bytes.Buffer
	if err := wire.WriteFrame(&out, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	want := []byte{0x05, 0x00, 0x00, 0x00, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(out.Bytes(), want) {
		t.Fatalf("got % x, want % x", out.Bytes(), want)
	}

	b, err := wire.ReadFrame(&out, pool)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	defer b.Release()
	if !bytes.Equal(b.Data(), payload) {
		t.Fatalf("got %q, want %q", b.Data(), payload)
	}
}

func TestReadFrameZeroSizeIsCleanClose(t *testing.T) {
	pool := buf.NewPool()
	var in bytes.Buffer
	in.Write([]byte{0, 0, 0, 0})
	_, err := wire.ReadFrame(&in, pool)
	if err != wire.ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestReadFrameShortBodyIsProtocolError(t *testing.T) {
	pool := buf.NewPool()
	var in bytes.Buffer
	in.Write([]byte{10, 0, 0, 0}) // declares 10 bytes
	in.Write([]byte("123456789"))  // only 9 bytes, then EOF
	_, err := wire.ReadFrame(&in, pool)
	if !cos.IsErrProtocol(err) {
		t.Fatalf("expected a protocol error, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok := wire.Token{
		Protocol:      wire.ProtocolTCP,
		StreamID:      42,
		Port:          2000,
		AddressFamily: wire.AddressFamilyIPv4,
	}
	copy(tok.Address[:], []byte{127, 0, 0, 1})

	b := tok.Bytes()
	if len(b) != wire.TokenSize {
		t.Fatalf("expected %d bytes, got %d", wire.TokenSize, len(b))
	}
	got := wire.DecodeToken(b)
	if got != tok {
		t.Fatalf("got %+v, want %+v", got, tok)
	}
}

func TestCommandHeaderRoundTrip(t *testing.T) {
	h := wire.CommandHeader{ID: wire.CmdGetToken, Size: 4}
	got := wire.DecodeCommandHeader(h.Bytes())
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestMessageGatherWrite(t *testing.T) {
	pool := buf.NewPool()
	b1 := pool.Pop(8)
	b1.Reset(8)
	copy(b1.Data(), wire.CommandHeader{ID: wire.CmdYouAlive, Size: 0}.Bytes())
	v1 := b1.View()

	msg := wire.NewMessage(v1)
	defer msg.Release()

	var out bytes.Buffer
	if _, err := msg.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if out.Len() != wire.SizeHeaderLen+8 {
		t.Fatalf("expected %d bytes written, got %d", wire.SizeHeaderLen+8, out.Len())
	}
}
