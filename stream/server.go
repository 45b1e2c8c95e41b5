package stream

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/compression"
	"github.com/carla-simulator/streamcore/config"
	"github.com/carla-simulator/streamcore/session"
	"github.com/carla-simulator/streamcore/wire"
)

// seenFilterCapacity bounds the approximate recently-active-stream_id set;
// sized generously relative to any realistic number of concurrently live
// sensors, so false positives stay rare without a mutex-held map scan on
// every subscribe.
const seenFilterCapacity = 1 << 16

// Server is the sensor stream server (C5): it listens for subscriber
// connections, reads the 4-byte stream_id each one opens with, and attaches
// it to the matching Stream's fan-out set. Producers (render callbacks)
// call MakeStream once per sensor and Send on the returned Stream for every
// frame.
type Server struct {
	addr     string
	listener net.Listener
	pool     *buf.Pool
	registry *Registry
	sweeper  *session.Sweeper

	mu      sync.RWMutex
	streams map[uint32]*Stream
	nextID  atomic.Uint32

	codec *compression.Codec // nil unless the process config has compression enabled

	seen *cuckoo.Filter // recently-minted stream_ids, for drop-vs-log only
}

// NewServer constructs a Server bound to no listener yet; call Listen to
// start accepting subscriber connections. Whether minted streams compress
// their frames is governed by the process config's CompressionEnabled flag
// (config.Get), read once here at construction.
func NewServer(registry *Registry, pool *buf.Pool) *Server {
	srv := &Server{
		pool:     pool,
		registry: registry,
		sweeper:  session.NewSweeper(time.Second),
		streams:  make(map[uint32]*Stream, 64),
		seen:     cuckoo.NewFilter(seenFilterCapacity),
	}
	if cfg := config.Get(); cfg.CompressionEnabled {
		srv.codec = compression.NewCodec(pool, cfg.CompressionLevel)
	}
	return srv
}

// Listen opens addr and begins accepting subscriber connections in the
// background. Returns once the listener is bound.
func (srv *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv.listener = l
	srv.addr = l.Addr().String()
	go srv.acceptLoop()
	return nil
}

// Addr returns the server's bound address; empty until Listen succeeds.
func (srv *Server) Addr() string { return srv.addr }

func (srv *Server) acceptLoop() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go srv.handleConn(conn)
	}
}

// handleConn reads the subscriber's 4-byte little-endian stream_id and, if
// it names a live Stream, attaches a subscriber Session to it. Any other
// outcome (unknown id, short read) closes the connection.
func (srv *Server) handleConn(conn net.Conn) {
	var hdr [4]byte
	if err := readFull(conn, hdr[:]); err != nil {
		conn.Close()
		return
	}
	streamID := binary.LittleEndian.Uint32(hdr[:])

	srv.mu.RLock()
	st, ok := srv.streams[streamID]
	srv.mu.RUnlock()
	if !ok {
		if srv.seen.Lookup(hdr[:]) {
			nlog.Warningf("subscribe to expired stream_id %d", streamID)
		} else {
			nlog.Warningf("subscribe to unknown stream_id %d", streamID)
		}
		conn.Close()
		return
	}

	var opts []session.Option
	if st.Policy == Synchronous {
		opts = append(opts, session.Synchronous())
	}
	h := &subscriberHandler{stream: st}
	sess := session.New(conn, srv.pool, h, srv.sweeper, opts...)
	st.attach(sess)
	sess.Start()
}

// MakeStream mints a new stream_id for a sensor of type t and returns the
// Stream handle the caller sends frames on plus the Token clients use to
// subscribe.
func (srv *Server) MakeStream(t SensorType) (*Stream, wire.Token, error) {
	entry, ok := srv.registry.Lookup(t)
	if !ok {
		return nil, wire.Token{}, cos.NewErrProtocol("no sensor type registered: %q", t)
	}
	id := srv.nextID.Add(1)

	st := newStream(id, t, entry, srv.codec)
	srv.mu.Lock()
	srv.streams[id] = st
	srv.mu.Unlock()

	var idBytes [4]byte
	binary.LittleEndian.PutUint32(idBytes[:], id)
	srv.seen.InsertUnique(idBytes[:])

	tok, err := srv.tokenFor(id)
	return st, tok, err
}

func (srv *Server) tokenFor(streamID uint32) (wire.Token, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", srv.addr)
	if err != nil {
		return wire.Token{}, err
	}
	tok := wire.Token{Protocol: wire.ProtocolTCP, StreamID: streamID, Port: uint16(tcpAddr.Port)}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(tok.Address[:4], ip4)
		tok.AddressFamily = wire.AddressFamilyIPv4
	} else {
		copy(tok.Address[:], tcpAddr.IP.To16())
		tok.AddressFamily = wire.AddressFamilyIPv6
	}
	return tok, nil
}

// GetStream returns the Stream for streamID, if one is still open.
func (srv *Server) GetStream(streamID uint32) (*Stream, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	st, ok := srv.streams[streamID]
	return st, ok
}

// CloseStream tears down streamID: every attached subscriber session is
// closed and the stream is removed from the server's table.
func (srv *Server) CloseStream(streamID uint32) {
	srv.mu.Lock()
	st, ok := srv.streams[streamID]
	delete(srv.streams, streamID)
	srv.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	sessions := make([]*session.Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		sessions = append(sessions, sess)
	}
	st.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Close stops accepting new subscribers and stops the deadline sweeper.
// Already-open streams and sessions are left running.
func (srv *Server) Close() error {
	srv.sweeper.Stop()
	if srv.listener != nil {
		return srv.listener.Close()
	}
	return nil
}

// subscriberHandler is the session.Handler for sensor-stream subscribers.
// Subscribers never send application frames after the initial stream_id;
// any payload they do send is a protocol violation.
type subscriberHandler struct {
	stream *Stream
}

func (h *subscriberHandler) OnMessage(_ *session.Session, b *buf.Buffer) error {
	b.Release()
	return cos.NewErrProtocol("unexpected payload from sensor stream subscriber")
}

func (h *subscriberHandler) OnClosed(s *session.Session, _ error) {
	h.stream.detach(s)
}

func readFull(conn net.Conn, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := conn.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
