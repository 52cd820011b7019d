// Package checkout drives one crypto payment from session creation to a
// confirmed, failed or expired outcome.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"marketplace-checkout/internal/client"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/monitoring"
	"marketplace-checkout/internal/reconcile"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle            State = "idle"
	StateCreating        State = "creating"
	StateAwaitingPayment State = "awaiting_payment"
	StateConfirmed       State = "confirmed"
	StateFailed          State = "failed"
	StateExpired         State = "expired"
)

var (
	ErrBusy         = errors.New("checkout already has a session")
	ErrNotRetryable = errors.New("checkout can only be retried after a failed or expired payment")
	ErrNoSession    = errors.New("checkout has no payment session")
	ErrClosed       = errors.New("checkout controller is shut down")
)

// SessionStore persists in-flight sessions so a reopened checkout can pick
// them up. repository.SessionRepository satisfies it.
type SessionStore interface {
	Save(ctx context.Context, userID, productID string, session *model.PaymentSession) error
	FindResumable(ctx context.Context, userID, productID string, now time.Time) (*model.PaymentSession, error)
	UpdateStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error
	Status(ctx context.Context, transactionID string) (model.PaymentStatus, error)
}

type Config struct {
	PollInterval      time.Duration
	CountdownInterval time.Duration
	CopiedDuration    time.Duration
}

type Deps struct {
	Client        client.PaymentClient
	Confirmations *reconcile.Store // shared with the webhook path when both run in one process
	Sessions      SessionStore     // optional
	Notifier      Notifier
	Clipboard     Clipboard // optional
	Clock         clock.Clock
	Log           *zap.Logger

	// OnSuccess runs on the controller goroutine after a confirmed
	// payment, before the modal closes.
	OnSuccess func(session *model.PaymentSession)
}

// Snapshot is a copy of the controller state at one point in time.
type Snapshot struct {
	State         State
	Open          bool
	Session       *model.PaymentSession
	Status        *model.TransactionStatus
	TimeRemaining int
	Copied        bool
}

// Controller is safe for concurrent use. All state lives on one goroutine;
// the exported methods hand work to it.
type Controller struct {
	cfg       Config
	client    client.PaymentClient
	store     *reconcile.Store
	sessions  SessionStore
	notifier  Notifier
	clipboard Clipboard
	clock     clock.Clock
	log       *zap.Logger
	onSuccess func(session *model.PaymentSession)

	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	mu       sync.RWMutex
	snapshot Snapshot

	// owned by the loop goroutine
	state         State
	open          bool
	req           *model.PaymentRequest
	baseCtx       context.Context
	session       *model.PaymentSession
	status        *model.TransactionStatus
	remaining     int
	copied        bool
	generation    uint64
	cancelAttempt context.CancelFunc
	attemptCtx    context.Context
	updates       <-chan model.TransactionStatus
	unsubscribe   func()
	timers        *timers
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	if cfg.CopiedDuration <= 0 {
		cfg.CopiedDuration = 2 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(Notification) {})
	}
	if deps.Confirmations == nil {
		deps.Confirmations = reconcile.NewStore(deps.Log)
	}

	c := &Controller{
		cfg:       cfg,
		client:    deps.Client,
		store:     deps.Confirmations,
		sessions:  deps.Sessions,
		notifier:  deps.Notifier,
		clipboard: deps.Clipboard,
		clock:     deps.Clock,
		log:       deps.Log,
		onSuccess: deps.OnSuccess,
		cmds:      make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
		timers:    &timers{clock: deps.Clock},
	}
	c.publish()

	go c.run()
	return c
}

// Open starts a checkout for req. It resumes a stored in-flight session for
// the same user and product when one exists, otherwise it creates a new
// one. Open returns ErrBusy while a session exists or is being created.
func (c *Controller) Open(ctx context.Context, req *model.PaymentRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid payment request: %w", err)
	}
	r := *req

	return c.call(func() error {
		if c.session != nil || c.state == StateCreating {
			return ErrBusy
		}
		c.req = &r
		c.baseCtx = ctx
		c.open = true
		c.startCreation(true)
		return nil
	})
}

// Retry drops the failed or expired session and creates a new one.
func (c *Controller) Retry() error {
	return c.call(func() error {
		if (c.state != StateFailed && c.state != StateExpired) || c.req == nil {
			return ErrNotRetryable
		}
		c.closeModal(c.state)
		c.open = true
		c.startCreation(false)
		return nil
	})
}

// Cancel closes the checkout. A pending session stays resumable.
func (c *Controller) Cancel() error {
	return c.call(func() error {
		c.closeModal(StateIdle)
		return nil
	})
}

// CopyAddress writes the payment address to the clipboard and raises the
// copied flag for the configured duration.
func (c *Controller) CopyAddress() error {
	return c.call(func() error {
		if c.session == nil {
			return ErrNoSession
		}
		if c.clipboard != nil {
			if err := c.clipboard.WriteText(c.session.PaymentAddress); err != nil {
				c.log.Warn("copy payment address", zap.Error(err))
			}
		}
		c.copied = true
		c.timers.startCopied(c.cfg.CopiedDuration)
		return nil
	})
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Shutdown stops every timer and the event loop. Later calls return
// ErrClosed.
func (c *Controller) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Controller) run() {
	defer func() {
		state := c.state
		if state == StateCreating || state == StateAwaitingPayment {
			state = StateIdle
		}
		c.closeModal(state)
		c.publish()
		close(c.done)
	}()

	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.cmds:
			fn()
		case <-c.timers.countdownC():
			c.onCountdown()
		case <-c.timers.pollC():
			c.onPoll()
		case <-c.timers.copiedC():
			c.timers.copied = nil
			c.copied = false
		case st, ok := <-c.updates:
			if !ok {
				c.updates = nil
				continue
			}
			c.onStatus(st)
		}
		c.publish()
	}
}

func (c *Controller) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() {
		err := fn()
		c.publish()
		reply <- err
	}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post hands fn to the loop from a background goroutine.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Controller) startCreation(resume bool) {
	c.generation++
	gen := c.generation

	base := c.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	c.attemptCtx = ctx
	c.cancelAttempt = cancel

	c.setState(StateCreating)

	req := *c.req
	go func() {
		session, err := c.acquireSession(ctx, &req, resume)
		c.post(func() { c.onSessionReady(gen, session, err) })
	}()
}

// acquireSession runs off the loop.
func (c *Controller) acquireSession(ctx context.Context, req *model.PaymentRequest, resume bool) (*model.PaymentSession, error) {
	if resume && c.sessions != nil {
		session, err := c.sessions.FindResumable(ctx, req.UserID, req.ProductID, c.clock.Now())
		if err != nil {
			c.log.Warn("look up resumable session", zap.String("product_id", req.ProductID), zap.Error(err))
		}
		if session != nil {
			c.log.Info("resuming payment session", zap.String("transaction_id", session.TransactionID))
			return session, nil
		}
	}

	session, err := c.client.CreateSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.sessions != nil {
		if err := c.sessions.Save(ctx, req.UserID, req.ProductID, session); err != nil {
			c.log.Warn("save payment session", zap.String("transaction_id", session.TransactionID), zap.Error(err))
		}
	}
	return session, nil
}

func (c *Controller) onSessionReady(gen uint64, session *model.PaymentSession, err error) {
	if gen != c.generation || c.state != StateCreating {
		return
	}

	if err != nil {
		c.log.Error("create payment session", zap.Error(err))
		c.notifier.Notify(notifyCreateFailed)
		c.closeModal(StateIdle)
		return
	}

	c.session = session
	c.status = &model.TransactionStatus{Status: model.StatusPending}
	c.remaining = session.SecondsRemaining(c.clock.Now())
	c.setState(StateAwaitingPayment)

	c.updates, c.unsubscribe = c.store.Subscribe(session.TransactionID)
	c.timers.startSession(c.cfg.CountdownInterval, c.cfg.PollInterval)

	if c.remaining == 0 {
		c.expire()
	}
}

func (c *Controller) onCountdown() {
	if c.state != StateAwaitingPayment || c.session == nil {
		return
	}

	c.remaining = c.session.SecondsRemaining(c.clock.Now())
	if c.remaining == 0 {
		c.expire()
	}
}

// expire goes through the store so a confirmation that won the race is
// honoured instead.
func (c *Controller) expire() {
	if c.status == nil || c.status.Status != model.StatusPending {
		return
	}
	st, _ := c.store.Apply(c.session.TransactionID, model.TransactionStatus{Status: model.StatusExpired}, reconcile.SourceCountdown)
	c.onStatus(st)
}

func (c *Controller) onPoll() {
	if c.state != StateAwaitingPayment || c.session == nil {
		return
	}

	ctx := c.attemptCtx
	txID := c.session.TransactionID
	go func() {
		if c.recordedOutcome(ctx, txID) {
			return
		}
		st, err := c.client.PollStatus(ctx, txID)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("poll payment status", zap.String("transaction_id", txID), zap.Error(err))
			}
			return
		}
		c.store.Apply(txID, *st, reconcile.SourcePoll)
	}()
}

// recordedOutcome applies a confirmation or failure that the webhook
// receiver recorded for txID, possibly from another process. It runs off
// the loop.
func (c *Controller) recordedOutcome(ctx context.Context, txID string) bool {
	if c.sessions == nil {
		return false
	}
	status, err := c.sessions.Status(ctx, txID)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("read recorded payment status", zap.String("transaction_id", txID), zap.Error(err))
		}
		return false
	}
	if status != model.StatusConfirmed && status != model.StatusFailed {
		return false
	}
	c.store.Apply(txID, model.TransactionStatus{Status: status}, reconcile.SourceWebhook)
	return true
}

func (c *Controller) onStatus(st model.TransactionStatus) {
	if c.state != StateAwaitingPayment || c.session == nil {
		return
	}
	c.status = &st

	switch st.Status {
	case model.StatusConfirmed:
		c.finish(StateConfirmed)
		c.notifier.Notify(notifyConfirmed)
		if c.onSuccess != nil {
			c.onSuccess(c.session)
		}
		c.closeModal(StateConfirmed)
	case model.StatusFailed:
		c.finish(StateFailed)
		c.notifier.Notify(notifyFailed)
	case model.StatusExpired:
		c.remaining = 0
		c.finish(StateExpired)
		c.notifier.Notify(notifyExpired)
		c.closeModal(StateExpired)
	}
}

// finish moves to a terminal state and stops the session timers.
func (c *Controller) finish(state State) {
	c.timers.stopSession()
	c.setState(state)

	if c.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.sessions.UpdateStatus(ctx, c.session.TransactionID, model.PaymentStatus(state)); err != nil {
			c.log.Warn("update payment session", zap.String("transaction_id", c.session.TransactionID), zap.Error(err))
		}
	}
}

// closeModal releases everything the current attempt holds and leaves the
// controller in state.
func (c *Controller) closeModal(state State) {
	c.generation++
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
	c.timers.release()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.updates = nil

	c.session = nil
	c.status = nil
	c.remaining = 0
	c.copied = false
	c.open = false
	c.setState(state)
}

func (c *Controller) setState(state State) {
	if c.state == state {
		return
	}
	c.log.Debug("checkout state", zap.String("from", string(c.state)), zap.String("to", string(state)))
	c.state = state
	monitoring.CheckoutTransitions.WithLabelValues(string(state)).Inc()
}

func (c *Controller) publish() {
	s := Snapshot{
		State:         c.state,
		Open:          c.open,
		TimeRemaining: c.remaining,
		Copied:        c.copied,
	}
	if c.session != nil {
		session := *c.session
		s.Session = &session
	}
	if c.status != nil {
		status := *c.status
		s.Status = &status
	}

	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()
}
