package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/ids"
	"github.com/carla-simulator/streamcore/metrics"
	"github.com/carla-simulator/streamcore/pool"
	"github.com/carla-simulator/streamcore/wire"
)

// ErrDeadlineExceeded is the close reason a Sweeper attaches to a session
// that made no read/write progress within its timeout.
var ErrDeadlineExceeded = errors.New("session: deadline exceeded with no activity")

// DefaultTimeout is the per-session idle deadline absent an override, per
// §5 "Session deadline default 10 s".
const DefaultTimeout = 10 * time.Second

// Handler receives payloads read off a Session and is notified exactly
// once when the session closes. OnMessage takes ownership of b and must
// Release it once done.
type Handler interface {
	OnMessage(s *Session, b *buf.Buffer) error
	OnClosed(s *Session, err error)
}

// Session is the generic TCP session state machine (C4): length-prefixed
// framing, a per-session deadline timer, and the one-in-flight-write
// invariant, reused by the sensor stream server and by both sides of the
// multi-GPU control plane.
type Session struct {
	ID      string
	conn    net.Conn
	pool    *buf.Pool
	strand  *pool.Strand
	handler Handler
	sweeper *Sweeper

	timeout  time.Duration
	deadline time.Time
	heapIdx  int

	state  State
	opened bool

	mu      sync.Mutex
	writing bool
	queue   []*wire.Message
	sync_   bool // true: enqueue in order (never drop); false: lossy (replace queued)

	closeOnce sync.Once
	closeErr  error
}

// Option configures a new Session.
type Option func(*Session)

// Synchronous makes the session's write queue FIFO with no drop, used for
// streams that must not lose frames (ground-truth sensors, multi-GPU
// control messages). Without this option the session is lossy: a newer
// message replaces the one still waiting in the queue.
func Synchronous() Option { return func(s *Session) { s.sync_ = true } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option { return func(s *Session) { s.timeout = d } }

// New wraps conn in a Session in the Connecting state. Call Start once the
// session is ready to begin its read loop (i.e. once it has transitioned
// to Open per the caller's handshake, e.g. after reading a stream_id).
func New(conn net.Conn, p *buf.Pool, h Handler, sw *Sweeper, opts ...Option) *Session {
	s := &Session{
		ID:      ids.GenSessionID(),
		conn:    conn,
		pool:    p,
		handler: h,
		sweeper: sw,
		timeout: DefaultTimeout,
		state:   Connecting,
		heapIdx: -1,
	}
	for _, o := range opts {
		o(s)
	}
	s.strand = pool.NewStrand(64)
	return s
}

// Start transitions the session to Open, registers it with the Sweeper,
// and begins its read loop. The read loop runs on its own goroutine,
// independent of the write strand, satisfying "exactly one read in flight
// and at most one write in flight" without one blocking the other.
func (s *Session) Start() {
	s.state = Open
	s.opened = true
	if s.sweeper != nil {
		s.sweeper.add(s, s.timeout)
	}
	metrics.SessionsOpen.Inc()
	go s.readLoop()
}

func (s *Session) State() State { return s.state }

// Write enqueues msg for transmission. If no write is currently in flight
// it is sent immediately; otherwise it joins the application-level queue,
// respecting this session's drop policy: Synchronous sessions enqueue in
// order, lossy sessions replace the one pending, not-yet-sent message.
func (s *Session) Write(msg *wire.Message) error {
	if s.State() != Open {
		msg.Release()
		return cos.NewErrNotReady("session %s", s.ID)
	}

	s.mu.Lock()
	if s.writing {
		if s.sync_ {
			s.queue = append(s.queue, msg)
		} else {
			if len(s.queue) > 0 {
				s.queue[0].Release()
				metrics.QueueDrops.Inc()
			}
			s.queue = s.queue[:0]
			s.queue = append(s.queue, msg)
		}
		s.mu.Unlock()
		return nil
	}
	s.writing = true
	s.mu.Unlock()

	s.strand.Post(func() { s.sendOne(msg) })
	return nil
}

func (s *Session) sendOne(msg *wire.Message) {
	defer msg.Release()
	_, err := msg.WriteTo(s.conn)
	if err != nil {
		s.closeReason(err)
		return
	}
	if s.sweeper != nil {
		s.sweeper.Touch(s)
	}

	s.mu.Lock()
	var next *wire.Message
	if len(s.queue) > 0 {
		next = s.queue[0]
		s.queue = s.queue[1:]
	} else {
		s.writing = false
	}
	s.mu.Unlock()

	if next != nil {
		s.strand.Post(func() { s.sendOne(next) })
	}
}

func (s *Session) readLoop() {
	for {
		b, err := wire.ReadFrame(s.conn, s.pool)
		if err != nil {
			if err == wire.ErrStreamClosed {
				s.closeReason(nil)
			} else {
				s.closeReason(err)
			}
			return
		}
		if s.sweeper != nil {
			s.sweeper.Touch(s)
		}
		if err := s.handler.OnMessage(s, b); err != nil {
			s.closeReason(err)
			return
		}
	}
}

// Close idempotently transitions the session through Closing to Closed,
// releasing its resources and invoking the handler's OnClosed exactly
// once.
func (s *Session) Close() { s.closeReason(nil) }

func (s *Session) closeReason(err error) {
	s.closeOnce.Do(func() {
		s.state = Closing
		s.closeErr = err
		if s.sweeper != nil {
			s.sweeper.remove(s)
		}
		_ = s.conn.Close()

		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, m := range pending {
			m.Release()
		}

		s.state = Closed
		if s.opened {
			metrics.SessionsOpen.Dec()
		}
		nlog.Infof("session %s closed: %v", s.ID, err)
		s.handler.OnClosed(s, err)

		// strand.Close drains any in-flight task before returning; run it
		// off this goroutine so a close triggered from within a strand
		// task (e.g. a write error in sendOne) cannot deadlock on itself.
		go s.strand.Close()
	})
}
