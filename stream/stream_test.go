package stream_test

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/stream"
)

func dial(t *testing.T, addr string, streamID uint32) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], streamID)
	if _, err := conn.Write(hdr[:]); err != nil {
		t.Fatalf("write stream_id: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	return payload
}

func TestMakeStreamSubscribeAndSend(t *testing.T) {
	srv := stream.NewServer(stream.DefaultRegistry(), buf.NewPool())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	st, tok, err := srv.MakeStream("ground_truth.episode_state")
	if err != nil {
		t.Fatalf("MakeStream: %v", err)
	}
	if tok.StreamID != st.ID {
		t.Fatalf("token stream_id mismatch: %d != %d", tok.StreamID, st.ID)
	}

	conn := dial(t, srv.Addr(), st.ID)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for st.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscriber to attach")
		}
		time.Sleep(time.Millisecond)
	}

	pool := buf.NewPool()
	b := pool.Pop(5)
	b.Reset(5)
	copy(b.Data(), "hello")
	st.Send(b)

	got := readFrame(t, conn)
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestSendFanOutToMultipleSubscribers(t *testing.T) {
	srv := stream.NewServer(stream.DefaultRegistry(), buf.NewPool())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	st, _, err := srv.MakeStream("camera.rgb")
	if err != nil {
		t.Fatalf("MakeStream: %v", err)
	}

	const n = 3
	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = dial(t, srv.Addr(), st.ID)
		defer conns[i].Close()
	}

	deadline := time.Now().Add(time.Second)
	for st.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers, have %d", n, st.SubscriberCount())
		}
		time.Sleep(time.Millisecond)
	}

	pool := buf.NewPool()
	b := pool.Pop(3)
	b.Reset(3)
	copy(b.Data(), "abc")
	st.Send(b)

	for _, c := range conns {
		got := readFrame(t, c)
		if string(got) != "abc" {
			t.Fatalf("expected %q, got %q", "abc", got)
		}
	}
}

func TestUnknownStreamIDIsRejected(t *testing.T) {
	srv := stream.NewServer(stream.DefaultRegistry(), buf.NewPool())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv.Addr(), 999999)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed for unknown stream_id")
	}
}

func TestEnableDisableForROS(t *testing.T) {
	srv := stream.NewServer(stream.DefaultRegistry(), buf.NewPool())
	st, _, err := srv.MakeStream("camera.rgb")
	if err != nil {
		t.Fatalf("MakeStream: %v", err)
	}
	if st.IsEnabledForROS() {
		t.Fatal("expected stream to start disabled for ROS")
	}
	st.EnableForROS()
	if !st.IsEnabledForROS() {
		t.Fatal("expected stream to be enabled for ROS")
	}
	st.DisableForROS()
	if st.IsEnabledForROS() {
		t.Fatal("expected stream to be disabled for ROS")
	}
}

func TestCloseStreamClosesSubscribers(t *testing.T) {
	srv := stream.NewServer(stream.DefaultRegistry(), buf.NewPool())
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	st, _, err := srv.MakeStream("camera.rgb")
	if err != nil {
		t.Fatalf("MakeStream: %v", err)
	}
	conn := dial(t, srv.Addr(), st.ID)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for st.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscriber to attach")
		}
		time.Sleep(time.Millisecond)
	}

	srv.CloseStream(st.ID)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	b := make([]byte, 1)
	if _, err := conn.Read(b); err != io.EOF {
		if _, ok := err.(net.Error); !ok {
			t.Fatalf("expected connection close, got %v", err)
		}
	}
}
