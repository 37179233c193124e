package ordersync

import (
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
)

// Snapshot is the complete set of orders matching a query at one point.
// Seq increases with every reload; consumers may drop a lower Seq.
type Snapshot struct {
	Seq    uint64           `json:"seq"`
	Orders []database.Order `json:"orders"`
	At     time.Time        `json:"at"`
}

// Subscription receives full snapshots for one Query. Only the newest
// undelivered snapshot is kept. Updates is closed when the subscription
// ends; Err tells whether it ended by failure.
type Subscription struct {
	query   Query
	updates chan Snapshot
	release func(*Subscription)
	stop    func() bool

	mu        sync.Mutex
	latest    Snapshot
	delivered bool
	err       error
	closed    bool
}

func newSubscription(q Query, release func(*Subscription)) *Subscription {
	return &Subscription{
		query:   q,
		updates: make(chan Snapshot, 1),
		release: release,
	}
}

func (s *Subscription) Query() Query { return s.query }

func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Latest returns the last snapshot handed to the subscriber. After a failure
// it stays frozen at the last good value.
func (s *Subscription) Latest() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.delivered
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	if s.end(nil) {
		s.release(s)
	}
}

// deliver filters full and replaces any undelivered snapshot with it.
func (s *Subscription) deliver(full Snapshot) {
	snap := Snapshot{Seq: full.Seq, Orders: s.query.Apply(full.Orders), At: full.At}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.delivered && snap.Seq < s.latest.Seq) {
		return
	}
	s.latest = snap
	s.delivered = true

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Subscription) fail(err error) {
	if s.end(err) {
		s.release(s)
	}
}

func (s *Subscription) end(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	if s.stop != nil {
		s.stop()
	}
	close(s.updates)
	return true
}
