package multigpu

import (
	"math/rand"
	"net"
	"time"

	perrors "github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/session"
	"github.com/carla-simulator/streamcore/wire"
)

// reconnectBase is the secondary's base reconnect delay after a dropped or
// refused connection.
const reconnectBase = time.Second

// reconnectJitterFrac bounds the random fraction of reconnectBase added on
// top of it, so many secondaries reconnecting to the same primary at once
// don't retry in lockstep.
const reconnectJitterFrac = 0.25

// ReplyFunc answers one command from the primary, returning the raw reply
// payload to send back. Commands that expect no reply (SEND_FRAME,
// LOAD_MAP) still invoke the callback; its return value is ignored for
// those.
type ReplyFunc func(cmd wire.Command, payload []byte) []byte

// Secondary is the multi-GPU command plane's render-node side (C9): a
// reconnecting TCP client that answers commands from the primary but never
// initiates a request of its own.
type Secondary struct {
	addr    string
	pool    *buf.Pool
	sweeper *session.Sweeper
	reply   ReplyFunc

	pacer  *rate.Limiter
	stopCh chan struct{}
}

// NewSecondary constructs a Secondary that will dial addr and answer every
// incoming command via reply.
func NewSecondary(addr string, pool *buf.Pool, reply ReplyFunc) *Secondary {
	return &Secondary{
		addr:    addr,
		pool:    pool,
		sweeper: session.NewSweeper(time.Second),
		reply:   reply,
		pacer:   rate.NewLimiter(rate.Every(reconnectBase), 1),
		stopCh:  make(chan struct{}),
	}
}

// Run dials addr and serves commands until the connection drops, then
// reconnects after a jittered backoff, until Stop is called. Blocks until
// Stop; call it from its own goroutine.
func (s *Secondary) Run() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.connectOnce(); err != nil {
			nlog.Warningf("multigpu: secondary connection to %s failed: %v", s.addr, err)
		}
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.jitteredBackoff()):
		}
	}
}

// jitteredBackoff paces reconnects via a token-bucket limiter refilling at
// reconnectBase's cadence, plus up to reconnectJitterFrac extra so a fleet
// of secondaries doesn't retry in lockstep after a shared primary restart.
func (s *Secondary) jitteredBackoff() time.Duration {
	delay := s.pacer.Reserve().Delay()
	if delay <= 0 {
		delay = reconnectBase
	}
	jitter := time.Duration(rand.Float64() * reconnectJitterFrac * float64(reconnectBase))
	return delay + jitter
}

func (s *Secondary) connectOnce() error {
	conn, err := net.DialTimeout("tcp", s.addr, 5*time.Second)
	if err != nil {
		return perrors.Wrapf(err, "dial primary at %s", s.addr)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	nlog.Infof("multigpu: secondary connected to primary at %s", s.addr)

	done := make(chan error, 1)
	h := &secondaryHandler{secondary: s, done: done}
	sess := session.New(conn, s.pool, h, s.sweeper, session.Synchronous())
	sess.Start()
	return <-done
}

// Stop ends Run's reconnect loop and stops the sweeper.
func (s *Secondary) Stop() {
	close(s.stopCh)
	s.sweeper.Stop()
}

// secondaryHandler is the session.Handler for the primary connection, on
// the secondary's side: every inbound payload is a CommandHeader-prefixed
// request to answer.
type secondaryHandler struct {
	secondary *Secondary
	done      chan error
}

func (h *secondaryHandler) OnMessage(s *session.Session, b *buf.Buffer) error {
	defer b.Release()
	data := b.Data()
	if len(data) < wire.CommandHeaderSize {
		return cos.NewErrProtocol("multigpu command shorter than header: %d bytes", len(data))
	}
	hdr := wire.DecodeCommandHeader(data[:wire.CommandHeaderSize])
	end := wire.CommandHeaderSize + int(hdr.Size)
	if end > len(data) {
		return cos.NewErrProtocol("multigpu command %s declares %d bytes, got %d", hdr.ID, hdr.Size, len(data)-wire.CommandHeaderSize)
	}
	payload := data[wire.CommandHeaderSize:end]

	reply := h.secondary.reply(hdr.ID, payload)
	if !hdr.ID.ExpectsReply() {
		return nil
	}
	return s.Write(wire.NewMessage(buf.ViewOf(reply)))
}

func (h *secondaryHandler) OnClosed(_ *session.Session, err error) {
	h.done <- err
}
