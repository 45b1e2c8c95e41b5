package multigpu

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"time"

	perrors "github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/metrics"
	"github.com/carla-simulator/streamcore/session"
	"github.com/carla-simulator/streamcore/wire"
)

// ErrRequestTimeout is returned by a unicast command that got no reply
// within Primary's request timeout.
var ErrRequestTimeout = perrors.New("multigpu: request timed out waiting for secondary reply")

// defaultRequestTimeout bounds how long a unicast command waits for its
// correlated reply before giving up.
const defaultRequestTimeout = 5 * time.Second

// Primary is the multi-GPU command plane's primary side (C8). It listens
// for secondary render nodes, broadcasts SEND_FRAME/LOAD_MAP to all of
// them, and issues unicast-with-response commands -- GET_TOKEN, ENABLE_ROS,
// DISABLE_ROS, IS_ENABLED_ROS, YOU_ALIVE -- to one secondary, matching
// replies back via a Correlator. GET_TOKEN and YOU_ALIVE go to the next
// secondary in round-robin order; the ROS commands go to the secondary
// that owns the sensor.
type Primary struct {
	listener net.Listener
	pool     *buf.Pool
	sweeper  *session.Sweeper
	corr     *Correlator
	dir      *Directory
	tokenSF  singleflight.Group

	requestTimeout time.Duration

	mu          sync.Mutex
	secondaries []*session.Session
	byID        map[string]*session.Session
	next        uint32
}

// NewPrimary constructs a Primary backed by dir for sensor ownership
// tracking.
func NewPrimary(pool *buf.Pool, dir *Directory) *Primary {
	return &Primary{
		pool:           pool,
		sweeper:        session.NewSweeper(time.Second),
		corr:           NewCorrelator(),
		dir:            dir,
		requestTimeout: defaultRequestTimeout,
		byID:           make(map[string]*session.Session, 8),
	}
}

// Listen opens addr and begins accepting secondary connections.
func (p *Primary) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	p.listener = l
	go p.acceptLoop()
	return nil
}

// Addr returns the primary's bound address, empty until Listen succeeds.
func (p *Primary) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Primary) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		h := &primaryHandler{primary: p}
		sess := session.New(conn, p.pool, h, p.sweeper, session.Synchronous())

		p.mu.Lock()
		p.secondaries = append(p.secondaries, sess)
		p.byID[sess.ID] = sess
		n := len(p.secondaries)
		p.mu.Unlock()

		metrics.SecondariesConnected.Inc()
		nlog.Infof("multigpu: secondary %s connected, %d total", sess.ID, n)
		sess.Start()
	}
}

func (p *Primary) removeSecondary(sess *session.Session) {
	p.mu.Lock()
	for i, s := range p.secondaries {
		if s == sess {
			p.secondaries = append(p.secondaries[:i], p.secondaries[i+1:]...)
			break
		}
	}
	delete(p.byID, sess.ID)
	p.mu.Unlock()

	metrics.SecondariesConnected.Dec()
	p.corr.Cancel(sess, perrors.Errorf("multigpu: secondary %s disconnected before replying", sess.ID))
	p.dir.InvalidateSecondary(sess.ID)
}

func (p *Primary) secondaryByID(id string) *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID[id]
}

// nextSecondary returns the next connected secondary in round-robin order,
// or nil if none are connected.
func (p *Primary) nextSecondary() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.secondaries) == 0 {
		return nil
	}
	if p.next >= uint32(len(p.secondaries)) {
		p.next = 0
	}
	s := p.secondaries[p.next]
	p.next++
	return s
}

// ConnectedSecondaries reports how many secondaries are currently
// connected.
func (p *Primary) ConnectedSecondaries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.secondaries)
}

// Close stops accepting new secondaries and stops the sweeper. Already
// connected secondaries are left running.
func (p *Primary) Close() error {
	p.sweeper.Stop()
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}

func sendCommand(sess *session.Session, cmd wire.Command, payload []byte) error {
	var hdr [wire.CommandHeaderSize]byte
	wire.CommandHeader{ID: cmd, Size: uint32(len(payload))}.Encode(hdr[:])
	views := make([]*buf.View, 0, 2)
	views = append(views, buf.ViewOf(hdr[:]))
	if len(payload) > 0 {
		views = append(views, buf.ViewOf(payload))
	}
	if err := sess.Write(wire.NewMessage(views...)); err != nil {
		return perrors.Wrapf(err, "send %s to secondary %s", cmd, sess.ID)
	}
	return nil
}

// SendFrameData broadcasts a SEND_FRAME command carrying payload to every
// connected secondary. Fire-and-forget: no reply is expected.
func (p *Primary) SendFrameData(payload []byte) { p.broadcast(wire.CmdSendFrame, payload) }

// SendLoadMap broadcasts a LOAD_MAP command naming mapName.
func (p *Primary) SendLoadMap(mapName string) {
	p.broadcast(wire.CmdLoadMap, append([]byte(mapName), 0))
}

func (p *Primary) broadcast(cmd wire.Command, payload []byte) {
	p.mu.Lock()
	secondaries := make([]*session.Session, len(p.secondaries))
	copy(secondaries, p.secondaries)
	p.mu.Unlock()

	for _, s := range secondaries {
		if err := sendCommand(s, cmd, payload); err != nil {
			nlog.Warningf("multigpu: %v", err)
		}
	}
}

// unicastWithResponse sends cmd to sess and blocks for its correlated
// reply, bounded by p.requestTimeout.
func (p *Primary) unicastWithResponse(sess *session.Session, cmd wire.Command, payload []byte) (*buf.Buffer, error) {
	ch, err := p.corr.Register(sess)
	if err != nil {
		return nil, err
	}
	sent := time.Now()
	if err := sendCommand(sess, cmd, payload); err != nil {
		p.corr.Cancel(sess, err)
		return nil, err
	}
	select {
	case resp := <-ch:
		metrics.CommandRoundTrip.WithLabelValues(cmd.String()).Observe(time.Since(sent).Seconds())
		return resp.Payload, resp.Err
	case <-time.After(p.requestTimeout):
		metrics.CommandTimeouts.WithLabelValues(cmd.String()).Inc()
		p.corr.Cancel(sess, ErrRequestTimeout)
		return nil, ErrRequestTimeout
	}
}

// GetToken resolves sensorID to the Token a client should subscribe with,
// asking the next secondary in round-robin order the first time and
// caching the result in the Directory from then on. Concurrent callers
// racing for the same never-seen sensorID share one in-flight request via
// singleflight, mirroring the router's _tokens cache-then-ask-once idiom.
func (p *Primary) GetToken(sensorID uint32) (wire.Token, error) {
	if tok, ok := p.dir.Lookup(sensorID); ok {
		return tok, nil
	}

	key := strconv.FormatUint(uint64(sensorID), 10)
	v, err, _ := p.tokenSF.Do(key, func() (any, error) {
		if tok, ok := p.dir.Lookup(sensorID); ok {
			return tok, nil
		}
		sess := p.nextSecondary()
		if sess == nil {
			return wire.Token{}, cos.NewErrNotReady("no secondary connected")
		}

		var req [4]byte
		binary.LittleEndian.PutUint32(req[:], sensorID)
		respBuf, err := p.unicastWithResponse(sess, wire.CmdGetToken, req[:])
		if err != nil {
			return wire.Token{}, err
		}
		defer respBuf.Release()

		tok := wire.DecodeToken(respBuf.Data())
		if err := p.dir.Register(sensorID, sess.ID, tok); err != nil {
			return wire.Token{}, err
		}
		return tok, nil
	})
	if err != nil {
		return wire.Token{}, err
	}
	return v.(wire.Token), nil
}

// ownerOrClaim resolves sensorID's owning secondary, calling GetToken once
// to establish ownership if the directory has no entry yet.
func (p *Primary) ownerOrClaim(sensorID uint32) (*session.Session, error) {
	secID, ok := p.dir.OwnerOf(sensorID)
	if !ok {
		if _, err := p.GetToken(sensorID); err != nil {
			return nil, err
		}
		secID, ok = p.dir.OwnerOf(sensorID)
		if !ok {
			return nil, cos.NewErrNotReady("sensor %d not found on any secondary", sensorID)
		}
	}
	sess := p.secondaryByID(secID)
	if sess == nil {
		return nil, cos.NewErrNotReady("secondary owning sensor %d is no longer connected", sensorID)
	}
	return sess, nil
}

// EnableForROS asks the secondary owning sensorID to start publishing it to
// the ROS2 bridge boundary (the bridge itself is out of scope).
func (p *Primary) EnableForROS(sensorID uint32) error {
	sess, err := p.ownerOrClaim(sensorID)
	if err != nil {
		return err
	}
	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], sensorID)
	respBuf, err := p.unicastWithResponse(sess, wire.CmdEnableROS, req[:])
	if err != nil {
		return err
	}
	respBuf.Release()
	return nil
}

// DisableForROS is EnableForROS's inverse.
func (p *Primary) DisableForROS(sensorID uint32) error {
	sess, err := p.ownerOrClaim(sensorID)
	if err != nil {
		return err
	}
	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], sensorID)
	respBuf, err := p.unicastWithResponse(sess, wire.CmdDisableROS, req[:])
	if err != nil {
		return err
	}
	respBuf.Release()
	return nil
}

// IsEnabledForROS reports whether sensorID's ROS bridge is currently
// enabled. A sensor with no owning secondary yields false, not an error --
// preserved verbatim from the behavior of the command this was ported
// from, which takes the same branch for "never registered" and "owning
// secondary gone".
func (p *Primary) IsEnabledForROS(sensorID uint32) bool {
	secID, ok := p.dir.OwnerOf(sensorID)
	if !ok {
		return false
	}
	sess := p.secondaryByID(secID)
	if sess == nil {
		return false
	}
	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], sensorID)
	respBuf, err := p.unicastWithResponse(sess, wire.CmdIsEnabledROS, req[:])
	if err != nil {
		return false
	}
	defer respBuf.Release()
	return len(respBuf.Data()) > 0 && respBuf.Data()[0] != 0
}

// YouAlive pings the next secondary in round-robin order and waits for its
// reply, surfacing a dead or wedged render node as an error rather than a
// timeout deep inside a frame broadcast.
func (p *Primary) YouAlive() error {
	sess := p.nextSecondary()
	if sess == nil {
		return cos.NewErrNotReady("no secondary connected")
	}
	respBuf, err := p.unicastWithResponse(sess, wire.CmdYouAlive, nil)
	if err != nil {
		return err
	}
	respBuf.Release()
	return nil
}

// primaryHandler is the session.Handler for a connected secondary, on the
// primary's side: every inbound payload is a reply to a previously
// unicast, correlated command.
type primaryHandler struct {
	primary *Primary
}

func (h *primaryHandler) OnMessage(s *session.Session, b *buf.Buffer) error {
	if !h.primary.corr.Fulfill(s, Response{Payload: b}) {
		nlog.Infof("multigpu: reply from secondary %s with no pending request, %d bytes", s.ID, b.Size())
		b.Release()
	}
	return nil
}

func (h *primaryHandler) OnClosed(s *session.Session, _ error) {
	h.primary.removeSecondary(s)
}
