package stream

import (
	"sync"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/nlog"
	"github.com/carla-simulator/streamcore/compression"
	"github.com/carla-simulator/streamcore/metrics"
	"github.com/carla-simulator/streamcore/session"
	"github.com/carla-simulator/streamcore/wire"
)

// Stream is the server-side fan-out point for one sensor: every subscriber
// session attached to it receives the same bytes, via independent Views
// over one underlying Buffer so the send is copy-free regardless of
// subscriber count (C5).
type Stream struct {
	ID       uint32
	Type     SensorType
	Policy   DropPolicy
	SenderID string

	codec *compression.Codec // nil unless both Entry.Compression and the process config enable it

	mu         sync.Mutex
	sessions   map[string]*session.Session
	enabledROS bool
}

func newStream(id uint32, t SensorType, e Entry, codec *compression.Codec) *Stream {
	st := &Stream{
		ID:       id,
		Type:     t,
		Policy:   e.Policy,
		sessions: make(map[string]*session.Session, 4),
	}
	if e.Compression {
		st.codec = codec
	}
	return st
}

// attach registers a freshly opened subscriber session with this stream.
func (s *Stream) attach(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// detach removes a subscriber, called from its OnClosed callback.
func (s *Stream) detach(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
}

// SubscriberCount reports the number of currently attached sessions.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Send fans payload out to every attached subscriber. Each subscriber gets
// its own *wire.Message wrapping a Retain-ed View over the same Buffer, so
// the underlying storage is copied zero times regardless of how many
// subscribers are attached (property 2). The caller's own reference to b is
// consumed; Send always releases it.
func (s *Stream) Send(b *buf.Buffer) {
	if s.codec != nil {
		compressed, err := s.codec.Encode(b)
		b.Release()
		if err != nil {
			nlog.Warningf("stream %d: compression failed, dropping frame: %v", s.ID, err)
			return
		}
		b = compressed
	}

	view := b.View()
	defer view.Release()

	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if len(sessions) > 0 {
		metrics.FramesSent.WithLabelValues(string(s.Type)).Inc()
		metrics.BytesSent.WithLabelValues(string(s.Type)).Add(float64(view.Size() * len(sessions)))
	}

	for _, sess := range sessions {
		msg := wire.NewMessage(view.Retain())
		// Write releases msg itself when it rejects it.
		_ = sess.Write(msg)
	}
}

// EnableForROS marks this stream as publishing to the ROS2 bridge boundary;
// the bridge itself is out of scope (spec.md Non-goals), this is purely the
// flag the multi-GPU control plane's ENABLE_ROS/DISABLE_ROS/IS_ENABLED_ROS
// commands flip and read.
func (s *Stream) EnableForROS() {
	s.mu.Lock()
	s.enabledROS = true
	s.mu.Unlock()
}

func (s *Stream) DisableForROS() {
	s.mu.Lock()
	s.enabledROS = false
	s.mu.Unlock()
}

func (s *Stream) IsEnabledForROS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabledROS
}
