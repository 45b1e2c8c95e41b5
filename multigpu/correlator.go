// Package multigpu implements the multi-GPU command plane (C8-C11): a
// Primary that broadcasts frame/map commands to every connected Secondary
// render node and issues unicast-with-response commands to one node at a
// time, a Correlator that matches a secondary's reply back to the request
// that caused it, and a Directory mapping each sensor to the secondary that
// owns it.
package multigpu

import (
	"sync"

	"github.com/carla-simulator/streamcore/buf"
	"github.com/carla-simulator/streamcore/cmn/cos"
	"github.com/carla-simulator/streamcore/session"
)

// Response is what a Correlator promise settles with.
type Response struct {
	Payload *buf.Buffer
	Err     error
}

// Correlator tracks at most one outstanding request per secondary session,
// the Go analogue of the router's promise map keyed by session rather than
// by a raw C++ session pointer. A reply that arrives with no matching
// promise (the secondary misbehaving, or a reply racing a timeout) is not
// an error here; Fulfill just reports it unmatched and the caller logs it.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan Response
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan Response)}
}

// Register reserves the single outstanding-request slot for sess. A second
// Register call while one is already pending is rejected rather than
// silently replacing the first waiter.
func (c *Correlator) Register(sess *session.Session) (<-chan Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.pending[sess.ID]; busy {
		return nil, cos.NewErrNotReady("session %s already has an outstanding request", sess.ID)
	}
	ch := make(chan Response, 1)
	c.pending[sess.ID] = ch
	return ch, nil
}

// Fulfill delivers resp to sess's outstanding promise and clears its slot.
// Returns false if sess had no outstanding request.
func (c *Correlator) Fulfill(sess *session.Session, resp Response) bool {
	c.mu.Lock()
	ch, ok := c.pending[sess.ID]
	if ok {
		delete(c.pending, sess.ID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Cancel settles sess's outstanding promise, if any, with err. Called when
// the secondary disconnects before replying.
func (c *Correlator) Cancel(sess *session.Session, err error) {
	c.mu.Lock()
	ch, ok := c.pending[sess.ID]
	if ok {
		delete(c.pending, sess.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- Response{Err: err}
	}
}
