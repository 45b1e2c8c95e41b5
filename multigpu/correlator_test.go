package multigpu

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/session"
)

func fakeSession(t *testing.T) (*session.Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sw := session.NewSweeper(time.Minute)
	t.Cleanup(sw.Stop)
	sess := session.New(server, buf.NewPool(), discardHandler{}, sw)
	return sess, client
}

type discardHandler struct{}

func (discardHandler) OnMessage(*session.Session, *buf.Buffer) error { return nil }
func (discardHandler) OnClosed(*session.Session, error)              {}

func TestCorrelatorFulfillDeliversResponse(t *testing.T) {
	c := NewCorrelator()
	sess, _ := fakeSession(t)

	ch, err := c.Register(sess)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := buf.NewPool().Pop(4)
	if !c.Fulfill(sess, Response{Payload: want}) {
		t.Fatal("expected Fulfill to find the pending request")
	}

	select {
	case resp := <-ch:
		if resp.Payload != want {
			t.Fatal("payload mismatch")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestCorrelatorRejectsDoubleRegister(t *testing.T) {
	c := NewCorrelator()
	sess, _ := fakeSession(t)

	if _, err := c.Register(sess); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := c.Register(sess); err == nil {
		t.Fatal("expected second Register on the same session to be rejected")
	}
}

func TestCorrelatorFulfillWithNoPendingRequestReturnsFalse(t *testing.T) {
	c := NewCorrelator()
	sess, _ := fakeSession(t)
	if c.Fulfill(sess, Response{}) {
		t.Fatal("expected Fulfill with no pending request to report unmatched")
	}
}

func TestCorrelatorCancelDeliversError(t *testing.T) {
	c := NewCorrelator()
	sess, _ := fakeSession(t)

	ch, err := c.Register(sess)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	wantErr := errors.New("secondary gone")
	c.Cancel(sess, wantErr)

	select {
	case resp := <-ch:
		if resp.Err != wantErr {
			t.Fatalf("expected %v, got %v", wantErr, resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}
