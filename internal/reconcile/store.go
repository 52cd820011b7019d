// Package reconcile merges transaction status updates from the polling
// loop, the payment webhook and the local countdown into one view per
// transaction.
package reconcile

import (
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/monitoring"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultRetention is how long a transaction nobody subscribes to is kept
// after its last update.
const DefaultRetention = 10 * time.Minute

type Source string

const (
	SourcePoll      Source = "poll"
	SourceWebhook   Source = "webhook"
	SourceCountdown Source = "countdown"
)

type entry struct {
	status  model.TransactionStatus
	known   bool
	touched time.Time
	subs    map[int]chan model.TransactionStatus
}

// Store is safe for concurrent use. Entries without subscribers are dropped
// once they have been idle for the retention period.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	nextSub   int
	clock     clock.Clock
	retention time.Duration
	lastSweep time.Time
	log       *zap.Logger
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

func NewStore(log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		entries:   make(map[string]*entry),
		clock:     clock.New(),
		retention: DefaultRetention,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply merges update into the stored status of transactionID and returns
// the effective status and whether it changed. Confirmed and failed are
// final; expired only gives way to confirmed or failed.
func (s *Store) Apply(transactionID string, update model.TransactionStatus, source Source) (model.TransactionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweep(now)

	e := s.entry(transactionID)
	e.touched = now
	changed := false
	if !e.known || accepts(e.status, update) {
		changed = !e.known || !sameStatus(e.status, update)
		e.status = update
		e.known = true
	}

	monitoring.ConfirmationUpdates.WithLabelValues(string(source), strconv.FormatBool(changed)).Inc()

	if changed {
		s.log.Debug("transaction status changed",
			zap.String("transaction_id", transactionID),
			zap.String("status", string(update.Status)),
			zap.String("source", string(source)),
		)
		for _, ch := range e.subs {
			publish(ch, e.status)
		}
	}

	return e.status, changed
}

func (s *Store) Get(transactionID string) (model.TransactionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[transactionID]
	if !ok || !e.known {
		return model.TransactionStatus{}, false
	}
	return e.status, true
}

// Subscribe returns a channel that carries every effective change of the
// transaction, starting with the current status if one is known. The
// channel holds only the latest value; a slow reader skips intermediate
// ones. cancel closes the channel.
func (s *Store) Subscribe(transactionID string) (<-chan model.TransactionStatus, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.clock.Now())

	e := s.entry(transactionID)
	id := s.nextSub
	s.nextSub++

	ch := make(chan model.TransactionStatus, 1)
	e.subs[id] = ch
	if e.known {
		ch <- e.status
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			cur, ok := s.entries[transactionID]
			if !ok {
				return
			}
			if sub, ok := cur.subs[id]; ok {
				delete(cur.subs, id)
				close(sub)
			}
			if len(cur.subs) == 0 {
				if !cur.known {
					delete(s.entries, transactionID)
					return
				}
				cur.touched = s.clock.Now()
			}
		})
	}
	return ch, cancel
}

// Forget drops the transaction and closes its subscriptions.
func (s *Store) Forget(transactionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[transactionID]
	if !ok {
		return
	}
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	delete(s.entries, transactionID)
}

// sweep drops idle entries without subscribers, at most once per retention
// period.
func (s *Store) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.retention {
		return
	}
	s.lastSweep = now
	for id, e := range s.entries {
		if len(e.subs) == 0 && now.Sub(e.touched) >= s.retention {
			delete(s.entries, id)
		}
	}
}

func (s *Store) entry(transactionID string) *entry {
	e, ok := s.entries[transactionID]
	if !ok {
		e = &entry{subs: make(map[int]chan model.TransactionStatus)}
		s.entries[transactionID] = e
	}
	return e
}

func accepts(current, update model.TransactionStatus) bool {
	switch current.Status {
	case model.StatusConfirmed, model.StatusFailed:
		return false
	case model.StatusExpired:
		return update.Status == model.StatusConfirmed || update.Status == model.StatusFailed
	}
	return update.Status.Valid()
}

func sameStatus(a, b model.TransactionStatus) bool {
	if a.Status != b.Status || a.TransactionHash != b.TransactionHash {
		return false
	}
	if !sameInt(a.Confirmations, b.Confirmations) {
		return false
	}
	if (a.PaidAt == nil) != (b.PaidAt == nil) {
		return false
	}
	return a.PaidAt == nil || *a.PaidAt == *b.PaidAt
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// publish replaces an unread value.
func publish(ch chan model.TransactionStatus, status model.TransactionStatus) {
	select {
	case <-ch:
	default:
	}
	ch <- status
}
