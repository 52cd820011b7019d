package checkout

import (
	"context"
	"errors"
	"fmt"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/reconcile"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu         sync.Mutex
	clock      clock.Clock
	expiresIn  time.Duration
	createErr  error
	pollStatus model.PaymentStatus
	pollErr    error
	created    []string
	polls      int
}

func (f *fakeClient) CreateSession(_ context.Context, req *model.PaymentRequest) (*model.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	tx := fmt.Sprintf("tx-%d", len(f.created)+1)
	f.created = append(f.created, tx)
	return &model.PaymentSession{
		PaymentAddress: "addr-" + tx,
		Amount:         req.Amount,
		Currency:       req.Currency,
		ExpirationTime: f.clock.Now().Add(f.expiresIn).UnixMilli(),
		TransactionID:  tx,
	}, nil
}

func (f *fakeClient) PollStatus(_ context.Context, transactionID string) (*model.TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	status := f.pollStatus
	if status == "" {
		status = model.StatusPending
	}
	return &model.TransactionStatus{Status: status}, nil
}

func (f *fakeClient) setPollStatus(s model.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollStatus = s
}

func (f *fakeClient) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeClient) createdIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
	paid  []string
	copy  []string
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) WriteText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copy = append(r.copy, text)
	return nil
}

func (r *recorder) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NotificationKind
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recorder) successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paid...)
}

// memorySessions mirrors repository.SessionRepository.
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*model.PaymentSession
	keys     map[string]string
	status   map[string]model.PaymentStatus
}

func newMemorySessions() *memorySessions {
	return &memorySessions{
		sessions: map[string]*model.PaymentSession{},
		keys:     map[string]string{},
		status:   map[string]model.PaymentStatus{},
	}
}

func (m *memorySessions) Save(_ context.Context, userID, productID string, s *model.PaymentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TransactionID] = s
	m.keys[s.TransactionID] = userID + "/" + productID
	m.status[s.TransactionID] = model.StatusPending
	return nil
}

func (m *memorySessions) FindResumable(_ context.Context, userID, productID string, now time.Time) (*model.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tx, s := range m.sessions {
		if m.keys[tx] == userID+"/"+productID && m.status[tx] == model.StatusPending && s.ExpirationTime > now.UnixMilli() {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memorySessions) UpdateStatus(_ context.Context, tx string, status model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[tx] = status
	return nil
}

func (m *memorySessions) Status(_ context.Context, tx string) (model.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[tx], nil
}

type harness struct {
	ctrl     *Controller
	clock    *clock.Mock
	client   *fakeClient
	rec      *recorder
	store    *reconcile.Store
	sessions *memorySessions
}

func newHarness(t *testing.T, expiresIn time.Duration, withSessions bool) *harness {
	t.Helper()
	mock := clock.NewMock()
	h := &harness{
		clock:  mock,
		client: &fakeClient{clock: mock, expiresIn: expiresIn},
		rec:    &recorder{},
		store:  reconcile.NewStore(nil),
	}
	deps := Deps{
		Client:        h.client,
		Confirmations: h.store,
		Notifier:      h.rec,
		Clipboard:     h.rec,
		Clock:         mock,
		OnSuccess: func(s *model.PaymentSession) {
			h.rec.mu.Lock()
			h.rec.paid = append(h.rec.paid, s.TransactionID)
			h.rec.mu.Unlock()
		},
	}
	if withSessions {
		h.sessions = newMemorySessions()
		deps.Sessions = h.sessions
	}
	h.ctrl = New(Config{}, deps)
	t.Cleanup(h.ctrl.Shutdown)
	return h
}

func request() *model.PaymentRequest {
	return &model.PaymentRequest{
		Amount:      decimal.RequireFromString("25"),
		Currency:    "USDT",
		ProductID:   "course-1",
		ProductType: model.ProductTypeCourse,
		UserID:      "user-1",
	}
}

func (h *harness) waitFor(t *testing.T, cond func(s Snapshot) bool) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.ctrl.Snapshot()) }, 2*time.Second, 2*time.Millisecond)
	return h.ctrl.Snapshot()
}

func (h *harness) waitState(t *testing.T, state State) Snapshot {
	t.Helper()
	return h.waitFor(t, func(s Snapshot) bool { return s.State == state })
}

func (h *harness) openAndWait(t *testing.T) Snapshot {
	t.Helper()
	require.NoError(t, h.ctrl.Open(context.Background(), request()))
	return h.waitState(t, StateAwaitingPayment)
}

func TestOpen_CreatesSession(t *testing.T) {
	h := newHarness(t, 10*time.Minute, false)

	snap := h.openAndWait(t)
	assert.True(t, snap.Open)
	assert.Equal(t, 600, snap.TimeRemaining)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "tx-1", snap.Session.TransactionID)
	assert.Equal(t, model.StatusPending, snap.Status.Status)

	assert.ErrorIs(t, h.ctrl.Open(context.Background(), request()), ErrBusy)
	assert.Equal(t, []string{"tx-1"}, h.client.createdIDs())
}

func TestOpen_InvalidRequest(t *testing.T) {
	h := newHarness(t, time.Minute, false)
	req := request()
	req.UserID = ""
	assert.Error(t, h.ctrl.Open(context.Background(), req))
	assert.Equal(t, StateIdle, h.ctrl.Snapshot().State)
}

func TestOpen_CreationFailureClosesWithOneNotification(t *testing.T) {
	h := newHarness(t, time.Minute, false)
	h.client.createErr = errors.New("payment api unavailable")

	require.NoError(t, h.ctrl.Open(context.Background(), request()))
	snap := h.waitFor(t, func(s Snapshot) bool { return s.State == StateIdle && !s.Open })
	assert.Nil(t, snap.Session)
	require.Eventually(t, func() bool { return len(h.rec.kinds()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []NotificationKind{NotifyError}, h.rec.kinds())

	h.clock.Add(time.Minute)
	assert.Zero(t, h.client.pollCount())
	assert.Len(t, h.client.createdIDs(), 0)
}

func TestCountdown_ExpiresAfterFiveSeconds(t *testing.T) {
	h := newHarness(t, 5*time.Second, false)
	h.openAndWait(t)

	for want := 4; want >= 1; want-- {
		h.clock.Add(time.Second)
		snap := h.waitFor(t, func(s Snapshot) bool { return s.TimeRemaining == want })
		assert.Equal(t, StateAwaitingPayment, snap.State)
	}

	h.clock.Add(time.Second)
	snap := h.waitState(t, StateExpired)
	assert.False(t, snap.Open)
	assert.Zero(t, snap.TimeRemaining)
	assert.Equal(t, []NotificationKind{NotifyWarning}, h.rec.kinds())

	st, ok := h.store.Get("tx-1")
	require.True(t, ok)
	assert.Equal(t, model.StatusExpired, st.Status)
}

func TestCountdown_NoExpiryAfterConfirmation(t *testing.T) {
	h := newHarness(t, 5*time.Second, false)
	h.openAndWait(t)

	h.clock.Add(2 * time.Second)
	h.store.Apply("tx-1", model.TransactionStatus{Status: model.StatusConfirmed}, reconcile.SourceWebhook)
	h.waitState(t, StateConfirmed)

	h.clock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateConfirmed, h.ctrl.Snapshot().State)
	assert.Equal(t, []NotificationKind{NotifySuccess}, h.rec.kinds())
	assert.Equal(t, []string{"tx-1"}, h.rec.successes())
}

func TestPoll_StopsAfterConfirmation(t *testing.T) {
	h := newHarness(t, time.Hour, false)
	h.openAndWait(t)

	h.clock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return h.client.pollCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, StateAwaitingPayment, h.ctrl.Snapshot().State)

	h.client.setPollStatus(model.StatusConfirmed)
	h.clock.Add(30 * time.Second)
	snap := h.waitState(t, StateConfirmed)
	assert.False(t, snap.Open)

	for i := 0; i < 10; i++ {
		h.clock.Add(30 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.client.pollCount())
	assert.Equal(t, []NotificationKind{NotifySuccess}, h.rec.kinds())
}

func TestPoll_ErrorIsOnlyLogged(t *testing.T) {
	h := newHarness(t, time.Hour, false)
	h.client.pollErr = errors.New("timeout")
	h.openAndWait(t)

	h.clock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return h.client.pollCount() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, StateAwaitingPayment, h.ctrl.Snapshot().State)
	assert.Empty(t, h.rec.kinds())
}

func TestPoll_PicksUpConfirmationRecordedByWebhook(t *testing.T) {
	h := newHarness(t, time.Hour, true)
	h.openAndWait(t)

	// the webhook receiver runs in another process and only shares the database
	require.NoError(t, h.sessions.UpdateStatus(context.Background(), "tx-1", model.StatusConfirmed))

	h.clock.Add(30 * time.Second)
	snap := h.waitState(t, StateConfirmed)
	assert.False(t, snap.Open)
	assert.Zero(t, h.client.pollCount(), "recorded outcome skips the API call")
	assert.Equal(t, []NotificationKind{NotifySuccess}, h.rec.kinds())
	assert.Equal(t, []string{"tx-1"}, h.rec.successes())
}

func TestFailed_KeepsModalOpenAndRetryCreatesNewSession(t *testing.T) {
	h := newHarness(t, time.Hour, true)
	first := h.openAndWait(t)

	h.client.setPollStatus(model.StatusFailed)
	h.clock.Add(30 * time.Second)
	snap := h.waitState(t, StateFailed)
	assert.True(t, snap.Open)
	assert.Equal(t, first.Session.TransactionID, snap.Session.TransactionID)
	assert.Equal(t, []NotificationKind{NotifyError}, h.rec.kinds())

	polls := h.client.pollCount()
	h.clock.Add(2 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, polls, h.client.pollCount(), "timers stop on failure")

	h.client.setPollStatus(model.StatusPending)
	require.NoError(t, h.ctrl.Retry())
	snap = h.waitState(t, StateAwaitingPayment)

	assert.Equal(t, []string{"tx-1", "tx-2"}, h.client.createdIDs())
	assert.Equal(t, "tx-2", snap.Session.TransactionID)
	assert.Equal(t, model.StatusPending, snap.Status.Status)
	assert.Equal(t, 3600, snap.TimeRemaining)
}

func TestRetry_OnlyFromFailedOrExpired(t *testing.T) {
	h := newHarness(t, time.Hour, false)
	assert.ErrorIs(t, h.ctrl.Retry(), ErrNotRetryable)

	h.openAndWait(t)
	assert.ErrorIs(t, h.ctrl.Retry(), ErrNotRetryable)
}

func TestRetry_AfterExpiry(t *testing.T) {
	h := newHarness(t, 2*time.Second, false)
	h.openAndWait(t)

	h.clock.Add(time.Second)
	h.waitFor(t, func(s Snapshot) bool { return s.TimeRemaining == 1 })
	h.clock.Add(time.Second)
	h.waitState(t, StateExpired)

	require.NoError(t, h.ctrl.Retry())
	snap := h.waitState(t, StateAwaitingPayment)
	assert.Equal(t, "tx-2", snap.Session.TransactionID)
	assert.Equal(t, 2, snap.TimeRemaining)
}

func TestReopenAfterSuccess_CreatesFreshSession(t *testing.T) {
	h := newHarness(t, time.Hour, true)
	h.openAndWait(t)

	h.store.Apply("tx-1", model.TransactionStatus{Status: model.StatusConfirmed}, reconcile.SourceWebhook)
	h.waitFor(t, func(s Snapshot) bool { return s.State == StateConfirmed && !s.Open })

	snap := h.openAndWait(t)
	assert.Equal(t, "tx-2", snap.Session.TransactionID)
	assert.Equal(t, []string{"tx-1", "tx-2"}, h.client.createdIDs())
}

func TestCancel_ThenReopenResumesPendingSession(t *testing.T) {
	h := newHarness(t, time.Hour, true)
	h.openAndWait(t)

	require.NoError(t, h.ctrl.Cancel())
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.Open)

	h.clock.Add(10 * time.Minute)
	snap = h.openAndWait(t)
	assert.Equal(t, "tx-1", snap.Session.TransactionID)
	assert.Equal(t, 3000, snap.TimeRemaining)
	assert.Equal(t, []string{"tx-1"}, h.client.createdIDs())
}

func TestCopyAddress(t *testing.T) {
	h := newHarness(t, time.Hour, false)
	assert.ErrorIs(t, h.ctrl.CopyAddress(), ErrNoSession)

	h.openAndWait(t)
	require.NoError(t, h.ctrl.CopyAddress())
	assert.True(t, h.ctrl.Snapshot().Copied)
	assert.Equal(t, []string{"addr-tx-1"}, h.rec.copy)

	h.clock.Add(2 * time.Second)
	h.waitFor(t, func(s Snapshot) bool { return !s.Copied })
}

func TestShutdown_StopsTimers(t *testing.T) {
	h := newHarness(t, time.Hour, false)
	h.openAndWait(t)

	h.ctrl.Shutdown()
	assert.False(t, h.ctrl.Snapshot().Open)
	assert.ErrorIs(t, h.ctrl.Open(context.Background(), request()), ErrClosed)

	h.clock.Add(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, h.client.pollCount())
}
