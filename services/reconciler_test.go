package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/pkg/retry"
	"github.com/mrugaya/storefront-backend/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mock gateway ----

type mockGateway struct {
	mu       sync.Mutex
	order    *models.GatewayOrder
	orderErr error
	orderReq services.GatewayOrderRequest
	orders   int

	// statuses are returned in order; the last one repeats.
	statuses []models.GatewayPaymentStatus
	fetchErr error
	fetches  int
	fetched  chan struct{}
}

func (m *mockGateway) CreateOrder(_ context.Context, req services.GatewayOrderRequest) (*models.GatewayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders++
	m.orderReq = req
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	o := *m.order
	o.Receipt = req.Receipt
	return &o, nil
}

func (m *mockGateway) FetchPayment(_ context.Context, id string) (*models.GatewayPayment, error) {
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		if m.fetched != nil {
			select {
			case m.fetched <- struct{}{}:
			default:
			}
		}
	}()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	i := m.fetches - 1
	if i >= len(m.statuses) {
		i = len(m.statuses) - 1
	}
	return &models.GatewayPayment{ID: id, Status: m.statuses[i], Amount: 205000, Currency: "INR"}, nil
}

func (m *mockGateway) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// ---- helpers ----

type verdict struct {
	calls   int
	success bool
	payment *models.GatewayPayment
}

func (v *verdict) record(success bool, p *models.GatewayPayment) {
	v.calls++
	v.success = success
	v.payment = p
}

func newTestReconciler(gw services.GatewayClient, interval time.Duration) *services.Reconciler {
	return services.NewReconciler(gw, retry.Policy{MaxRetries: 5, Interval: interval}, nil, zap.NewNop())
}

// ---- tests ----

func TestReconcile_CapturedOnFirstCheck(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCaptured}}
	r := newTestReconciler(gw, time.Millisecond)
	v := &verdict{}

	p, ok, err := r.Reconcile(context.Background(), "pay_1", v.record)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, gw.fetchCount())
	assert.Equal(t, 1, v.calls)
	assert.True(t, v.success)
	assert.Equal(t, p, v.payment)

	st, found := r.Status("pay_1")
	require.True(t, found)
	assert.Equal(t, services.ReconcileSuccess, st.State)
	assert.Equal(t, 1, st.Attempt)
}

func TestReconcile_AuthorizedCountsAsSuccess(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated, models.GatewayPaymentAuthorized}}
	r := newTestReconciler(gw, time.Millisecond)
	v := &verdict{}

	_, ok, err := r.Reconcile(context.Background(), "pay_1", v.record)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, gw.fetchCount())
}

func TestReconcile_FailedPayment(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentFailed}}
	r := newTestReconciler(gw, time.Millisecond)
	v := &verdict{}

	_, ok, err := r.Reconcile(context.Background(), "pay_1", v.record)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, v.success)
	require.NotNil(t, v.payment)
	assert.Equal(t, models.GatewayPaymentFailed, v.payment.Status)

	st, _ := r.Status("pay_1")
	assert.Equal(t, services.ReasonPaymentFailed, st.Reason)
}

func TestReconcile_CreatedForeverTimesOutAfterSixAttempts(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated}}
	r := newTestReconciler(gw, time.Millisecond)
	v := &verdict{}

	_, ok, err := r.Reconcile(context.Background(), "pay_1", v.record)

	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrPollingTimeout)
	assert.Equal(t, 6, gw.fetchCount())
	assert.Equal(t, 1, v.calls)
	assert.False(t, v.success)
	assert.Nil(t, v.payment)

	st, _ := r.Status("pay_1")
	assert.Equal(t, services.ReconcileFailed, st.State)
	assert.Equal(t, services.ReasonVerificationTimeout, st.Reason)
	assert.Equal(t, 6, st.MaxAttempts)
}

func TestReconcile_FetchErrorsAreRetried(t *testing.T) {
	gw := &mockGateway{fetchErr: errors.New("gateway unavailable")}
	r := newTestReconciler(gw, time.Millisecond)

	_, ok, err := r.Reconcile(context.Background(), "pay_1", nil)

	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrPollingTimeout)
	assert.Equal(t, 6, gw.fetchCount())
}

func TestReconcile_EmptyPaymentID(t *testing.T) {
	gw := &mockGateway{}
	r := newTestReconciler(gw, time.Millisecond)

	_, _, err := r.Reconcile(context.Background(), " ", nil)

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 0, gw.fetchCount())
}

func TestStart_SecondRunForSamePaymentIsRejected(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated}, fetched: make(chan struct{}, 1)}
	r := newTestReconciler(gw, time.Hour)
	defer func() { _ = r.Shutdown(context.Background()) }()

	require.NoError(t, r.Start("pay_1", nil))
	<-gw.fetched

	err := r.Start("pay_1", nil)
	assert.ErrorIs(t, err, services.ErrReconcileInProgress)
	assert.Equal(t, 1, gw.fetchCount())
}

func TestRecheck_ChecksImmediately(t *testing.T) {
	gw := &mockGateway{
		statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated, models.GatewayPaymentCaptured},
		fetched:  make(chan struct{}, 1),
	}
	r := newTestReconciler(gw, time.Hour)
	done := make(chan bool, 1)

	require.NoError(t, r.Start("pay_1", func(ok bool, _ *models.GatewayPayment) { done <- ok }))
	<-gw.fetched

	require.NoError(t, r.Recheck("pay_1"))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("recheck did not trigger an immediate check")
	}
	st, _ := r.Status("pay_1")
	assert.Equal(t, 1, st.Attempt)
}

func TestRecheck_RestartsFailedRun(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{
		models.GatewayPaymentCreated, models.GatewayPaymentCreated, models.GatewayPaymentCreated,
		models.GatewayPaymentCreated, models.GatewayPaymentCreated, models.GatewayPaymentCreated,
		models.GatewayPaymentCaptured,
	}}
	r := newTestReconciler(gw, time.Millisecond)
	results := make(chan bool, 2)
	cb := func(ok bool, _ *models.GatewayPayment) { results <- ok }

	_, _, err := r.Reconcile(context.Background(), "pay_1", cb)
	require.ErrorIs(t, err, apperrors.ErrPollingTimeout)
	assert.False(t, <-results)

	require.NoError(t, r.Recheck("pay_1"))
	select {
	case ok := <-results:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("recheck did not restart the run")
	}
	assert.Equal(t, 7, gw.fetchCount())
}

func TestFinishedRunsAreEvicted(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentFailed}}
	r := newTestReconciler(gw, time.Millisecond)
	r.SetRetention(20 * time.Millisecond)

	_, _, err := r.Reconcile(context.Background(), "pay_1", nil)
	require.NoError(t, err)

	st, found := r.Status("pay_1")
	require.True(t, found)
	assert.Equal(t, services.ReconcileFailed, st.State)

	assert.Eventually(t, func() bool {
		_, found := r.Status("pay_1")
		return !found
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Recheck("pay_1"), apperrors.ErrNotFound)
}

func TestEvictionKeepsNewerRun(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentFailed, models.GatewayPaymentCreated}}
	r := services.NewReconciler(gw, retry.Policy{MaxRetries: 5, Interval: time.Hour}, nil, zap.NewNop())
	r.SetRetention(20 * time.Millisecond)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	_, _, err := r.Reconcile(context.Background(), "pay_1", nil)
	require.NoError(t, err)
	require.NoError(t, r.Recheck("pay_1"))

	// the first run's retention passes while the second is still polling
	time.Sleep(60 * time.Millisecond)
	st, found := r.Status("pay_1")
	require.True(t, found)
	assert.NotEqual(t, services.ReconcileFailed, st.State)
}

func TestRecheck_Unknown(t *testing.T) {
	r := newTestReconciler(&mockGateway{}, time.Millisecond)

	assert.ErrorIs(t, r.Recheck("pay_x"), apperrors.ErrNotFound)
}

func TestAbort_ReportsFailure(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated}, fetched: make(chan struct{}, 1)}
	r := newTestReconciler(gw, time.Hour)
	type result struct {
		ok bool
		p  *models.GatewayPayment
	}
	done := make(chan result, 1)

	require.NoError(t, r.Start("pay_1", func(ok bool, p *models.GatewayPayment) { done <- result{ok, p} }))
	<-gw.fetched
	require.NoError(t, r.Abort("pay_1"))

	select {
	case res := <-done:
		assert.False(t, res.ok)
		assert.Nil(t, res.p)
	case <-time.After(2 * time.Second):
		t.Fatal("abort did not report")
	}
	require.Eventually(t, func() bool {
		st, _ := r.Status("pay_1")
		return st.Reason == services.ReasonAborted
	}, time.Second, 5*time.Millisecond)
}

func TestAbandon_SuppressesCallback(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated}, fetched: make(chan struct{}, 1)}
	r := newTestReconciler(gw, time.Hour)
	called := make(chan struct{}, 1)
	settled := make(chan struct{}, 1)
	r.OnSettle(func(context.Context, string, bool, *models.GatewayPayment, string) { settled <- struct{}{} })

	require.NoError(t, r.Start("pay_1", func(bool, *models.GatewayPayment) { called <- struct{}{} }))
	<-gw.fetched
	r.Abandon("pay_1")
	require.NoError(t, r.Shutdown(context.Background()))

	select {
	case <-called:
		t.Fatal("callback fired after abandon")
	case <-settled:
		t.Fatal("settle hook fired after abandon")
	default:
	}
}

func TestReconcile_CancelledContextSuppressesCallback(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCreated}}
	r := newTestReconciler(gw, time.Hour)
	v := &verdict{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.Reconcile(ctx, "pay_1", v.record)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, v.calls)
}

func TestOnSettle_ReceivesVerdict(t *testing.T) {
	gw := &mockGateway{statuses: []models.GatewayPaymentStatus{models.GatewayPaymentCaptured}}
	r := newTestReconciler(gw, time.Millisecond)
	var gotID string
	var gotOK bool
	r.OnSettle(func(_ context.Context, id string, ok bool, _ *models.GatewayPayment, _ string) {
		gotID, gotOK = id, ok
	})

	_, _, err := r.Reconcile(context.Background(), "pay_9", nil)

	require.NoError(t, err)
	assert.Equal(t, "pay_9", gotID)
	assert.True(t, gotOK)
}
