package multigpu

import (
	"testing"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/wire"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeRenderNode answers the commands this test exercises the way a real
// secondary's render callback would, minus any actual GPU work.
func fakeRenderNode(t *testing.T, tok wire.Token) ReplyFunc {
	enabled := false
	return func(cmd wire.Command, payload []byte) []byte {
		switch cmd {
		case wire.CmdGetToken:
			return tok.Bytes()
		case wire.CmdEnableROS:
			enabled = true
			return []byte{1}
		case wire.CmdDisableROS:
			enabled = false
			return []byte{1}
		case wire.CmdIsEnabledROS:
			if enabled {
				return []byte{1}
			}
			return []byte{0}
		case wire.CmdYouAlive:
			return []byte{1}
		default:
			return nil
		}
	}
}

func newConnectedPair(t *testing.T) (*Primary, *Secondary, wire.Token) {
	t.Helper()
	pool := buf.NewPool()
	dir, err := NewDirectory()
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	t.Cleanup(func() { dir.Close() })

	p := NewPrimary(pool, dir)
	if err := p.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	tok := wire.Token{Protocol: wire.ProtocolTCP, StreamID: 123, Port: 4000, AddressFamily: wire.AddressFamilyIPv4}
	sec := NewSecondary(p.Addr(), pool, fakeRenderNode(t, tok))
	go sec.Run()
	t.Cleanup(sec.Stop)

	waitFor(t, 2*time.Second, func() bool { return p.ConnectedSecondaries() == 1 })
	return p, sec, tok
}

func TestGetTokenRoundTrip(t *testing.T) {
	p, _, wantTok := newConnectedPair(t)

	got, err := p.GetToken(7)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got != wantTok {
		t.Fatalf("token mismatch: got %+v, want %+v", got, wantTok)
	}

	// Second call must be served from the directory, not a second round trip;
	// a secondary that only ever answers once would otherwise reveal this.
	got2, err := p.GetToken(7)
	if err != nil {
		t.Fatalf("second GetToken: %v", err)
	}
	if got2 != wantTok {
		t.Fatalf("cached token mismatch: got %+v, want %+v", got2, wantTok)
	}
}

func TestConcurrentGetTokenForSameSensorIsDeduped(t *testing.T) {
	p, _, wantTok := newConnectedPair(t)

	const n = 8
	results := make(chan wire.Token, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			tok, err := p.GetToken(55)
			results <- tok
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("GetToken: %v", err)
		}
		if tok := <-results; tok != wantTok {
			t.Fatalf("token mismatch: got %+v, want %+v", tok, wantTok)
		}
	}
}

func TestEnableDisableAndIsEnabledForROSRoundTrip(t *testing.T) {
	p, _, _ := newConnectedPair(t)

	if _, err := p.GetToken(9); err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if p.IsEnabledForROS(9) {
		t.Fatal("expected sensor to start disabled")
	}
	if err := p.EnableForROS(9); err != nil {
		t.Fatalf("EnableForROS: %v", err)
	}
	if !p.IsEnabledForROS(9) {
		t.Fatal("expected sensor to be enabled after EnableForROS")
	}
	if err := p.DisableForROS(9); err != nil {
		t.Fatalf("DisableForROS: %v", err)
	}
	if p.IsEnabledForROS(9) {
		t.Fatal("expected sensor to be disabled after DisableForROS")
	}
}

func TestIsEnabledForROSOnUnregisteredSensorIsFalse(t *testing.T) {
	p, _, _ := newConnectedPair(t)
	if p.IsEnabledForROS(424242) {
		t.Fatal("expected an unregistered sensor to report not-enabled, not an error")
	}
}

func TestYouAlive(t *testing.T) {
	p, _, _ := newConnectedPair(t)
	if err := p.YouAlive(); err != nil {
		t.Fatalf("YouAlive: %v", err)
	}
}

func TestSendFrameDataBroadcastsWithoutBlocking(t *testing.T) {
	p, _, _ := newConnectedPair(t)
	p.SendFrameData([]byte("frame-bytes"))
	p.SendLoadMap("Town01")
}
