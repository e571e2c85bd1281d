package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"
	awspkg "github.com/mrugaya/storefront-backend/pkg/aws"
	"github.com/mrugaya/storefront-backend/pkg/retry"

	"go.uber.org/zap"
)

// DefaultRunRetention is how long a finished run stays visible to Status and
// Recheck.
const DefaultRunRetention = 15 * time.Minute

// ErrReconcileInProgress is returned when a run for the payment is already active.
var ErrReconcileInProgress = apperrors.Conflict("Payment verification already in progress")

type ReconcileState string

const (
	ReconcileChecking ReconcileState = "checking"
	ReconcilePending  ReconcileState = "pending"
	ReconcileSuccess  ReconcileState = "success"
	ReconcileFailed   ReconcileState = "failed"
)

const (
	ReasonPaymentFailed       = "payment failed"
	ReasonVerificationTimeout = "verification timeout"
	ReasonAborted             = "aborted"
	reasonAbandoned           = "abandoned"
)

// ReconcileStatus is a point-in-time view of a reconciliation run.
type ReconcileStatus struct {
	PaymentID   string                 `json:"paymentId"`
	State       ReconcileState         `json:"status"`
	Attempt     int                    `json:"attempt"`
	MaxAttempts int                    `json:"maxAttempts"`
	Reason      string                 `json:"reason,omitempty"`
	Payment     *models.GatewayPayment `json:"payment,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// CompletionFunc receives the final verdict of a run. payment is nil when the
// run timed out or was aborted.
type CompletionFunc func(success bool, payment *models.GatewayPayment)

// SettleHook is told about every run that reached a verdict, after the
// caller's callback.
type SettleHook func(ctx context.Context, paymentID string, success bool, payment *models.GatewayPayment, reason string)

type reconcileRun struct {
	status     ReconcileStatus
	onComplete CompletionFunc
	cancel     context.CancelFunc
	restart    chan struct{}
	active     bool
	abandoned  bool
	aborted    bool
}

// Reconciler polls the gateway until a payment reaches a terminal state. At
// most one run per payment id is active at a time.
type Reconciler struct {
	gateway GatewayClient
	policy  retry.Policy
	metrics *awspkg.MetricsClient
	logger  *zap.Logger
	hook    SettleHook

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu        sync.Mutex
	runs      map[string]*reconcileRun
	retention time.Duration
}

func NewReconciler(gateway GatewayClient, policy retry.Policy, metrics *awspkg.MetricsClient, logger *zap.Logger) *Reconciler {
	base, stop := context.WithCancel(context.Background())
	return &Reconciler{
		gateway:   gateway,
		policy:    policy,
		metrics:   metrics,
		logger:    logger,
		base:      base,
		stopBase:  stop,
		runs:      make(map[string]*reconcileRun),
		retention: DefaultRunRetention,
	}
}

// SetRetention changes how long finished runs are kept.
func (r *Reconciler) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.retention = d
	r.mu.Unlock()
}

// OnSettle registers the hook run after each verdict.
func (r *Reconciler) OnSettle(hook SettleHook) {
	r.mu.Lock()
	r.hook = hook
	r.mu.Unlock()
}

// Start launches a detached run that outlives the calling request.
func (r *Reconciler) Start(paymentID string, onComplete CompletionFunc) error {
	run, ctx, err := r.register(r.base, paymentID, onComplete)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _, _ = r.execute(ctx, paymentID, run)
	}()
	return nil
}

// Reconcile runs to a verdict on the caller's goroutine. It returns the last
// payment snapshot and whether the payment succeeded. A timeout yields a
// PollingTimeout error alongside success=false.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID string, onComplete CompletionFunc) (*models.GatewayPayment, bool, error) {
	run, runCtx, err := r.register(ctx, paymentID, onComplete)
	if err != nil {
		return nil, false, err
	}
	return r.execute(runCtx, paymentID, run)
}

func (r *Reconciler) register(parent context.Context, paymentID string, onComplete CompletionFunc) (*reconcileRun, context.Context, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, nil, apperrors.Validation("Payment ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.runs[paymentID]; ok && existing.active {
		return nil, nil, ErrReconcileInProgress
	}

	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	run := &reconcileRun{
		status: ReconcileStatus{
			PaymentID:   paymentID,
			State:       ReconcileChecking,
			MaxAttempts: r.policy.MaxRetries + 1,
			StartedAt:   now,
			UpdatedAt:   now,
		},
		onComplete: onComplete,
		cancel:     cancel,
		restart:    make(chan struct{}, 1),
		active:     true,
	}
	r.runs[paymentID] = run
	return run, ctx, nil
}

func (r *Reconciler) execute(ctx context.Context, paymentID string, run *reconcileRun) (*models.GatewayPayment, bool, error) {
	defer run.cancel()
	log := r.logger.With(zap.String("payment_id", paymentID))

	payment, err := retry.Poll(ctx, r.policy, func(ctx context.Context) (*models.GatewayPayment, bool, error) {
		r.update(run, func(s *ReconcileStatus) { s.State = ReconcileChecking })
		_ = r.metrics.RecordCount(ctx, awspkg.MetricReconcileAttempts, nil)

		p, err := r.gateway.FetchPayment(ctx, paymentID)
		if err != nil {
			log.Warn("payment status check failed", zap.Error(err))
			r.update(run, func(s *ReconcileStatus) { s.State = ReconcilePending })
			return nil, false, err
		}

		r.update(run, func(s *ReconcileStatus) { s.Payment = p })
		if p.IsSuccessful() || p.Status == models.GatewayPaymentFailed {
			return p, true, nil
		}
		r.update(run, func(s *ReconcileStatus) { s.State = ReconcilePending })
		return p, false, nil
	},
		retry.WithRestart(run.restart),
		retry.WithAttemptHook(func(n int) {
			r.update(run, func(s *ReconcileStatus) { s.Attempt = n })
		}),
	)

	switch {
	case err == nil && payment.IsSuccessful():
		log.Info("payment verified", zap.String("status", string(payment.Status)))
		r.settle(ctx, run, true, payment, "")
		return payment, true, nil

	case err == nil:
		log.Info("payment failed at gateway")
		r.settle(ctx, run, false, payment, ReasonPaymentFailed)
		return payment, false, nil

	case errors.Is(err, retry.ErrExhausted):
		log.Warn("payment verification timed out", zap.Int("attempts", r.policy.MaxRetries+1))
		_ = r.metrics.RecordCount(context.WithoutCancel(ctx), awspkg.MetricReconcileTimeouts, nil)
		r.settle(ctx, run, false, nil, ReasonVerificationTimeout)
		return payment, false, apperrors.PollingTimeout(err)

	default:
		r.mu.Lock()
		aborted := run.aborted
		r.mu.Unlock()
		if aborted {
			log.Info("payment verification aborted")
			r.settle(ctx, run, false, nil, ReasonAborted)
			return payment, false, apperrors.UserCancelled()
		}
		r.finish(run, reasonAbandoned)
		return payment, false, err
	}
}

// settle records the verdict and notifies the callback and hook unless the
// run was abandoned in the meantime.
func (r *Reconciler) settle(ctx context.Context, run *reconcileRun, success bool, payment *models.GatewayPayment, reason string) {
	r.mu.Lock()
	if run.abandoned {
		r.mu.Unlock()
		return
	}
	run.active = false
	run.status.State = ReconcileFailed
	if success {
		run.status.State = ReconcileSuccess
	}
	run.status.Reason = reason
	run.status.UpdatedAt = time.Now()
	r.expireLocked(run)
	onComplete, hook := run.onComplete, r.hook
	paymentID := run.status.PaymentID
	r.mu.Unlock()

	if onComplete != nil {
		onComplete(success, payment)
	}
	if hook != nil {
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		hook(hookCtx, paymentID, success, payment, reason)
	}
}

func (r *Reconciler) finish(run *reconcileRun, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.active = false
	run.status.State = ReconcileFailed
	run.status.Reason = reason
	run.status.UpdatedAt = time.Now()
	r.expireLocked(run)
}

// expireLocked drops a finished run once the retention window has passed,
// unless a newer run for the same payment has replaced it. r.mu must be held.
func (r *Reconciler) expireLocked(run *reconcileRun) {
	paymentID := run.status.PaymentID
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		if r.runs[paymentID] == run {
			delete(r.runs, paymentID)
		}
		r.mu.Unlock()
	})
}

func (r *Reconciler) update(run *reconcileRun, fn func(*ReconcileStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !run.active {
		return
	}
	fn(&run.status)
	run.status.UpdatedAt = time.Now()
}

// Recheck resets the attempt counter and checks immediately. A run that has
// already failed is started again with its original callback.
func (r *Reconciler) Recheck(paymentID string) error {
	r.mu.Lock()
	run, ok := r.runs[paymentID]
	if !ok {
		r.mu.Unlock()
		return apperrors.NotFound("No verification found for payment")
	}
	if run.active {
		select {
		case run.restart <- struct{}{}:
		default:
		}
		r.mu.Unlock()
		return nil
	}
	if run.status.State == ReconcileSuccess {
		r.mu.Unlock()
		return apperrors.Conflict("Payment already verified")
	}
	onComplete := run.onComplete
	r.mu.Unlock()

	return r.Start(paymentID, onComplete)
}

// Abort stops an active run and reports it as failed.
func (r *Reconciler) Abort(paymentID string) error {
	r.mu.Lock()
	run, ok := r.runs[paymentID]
	if !ok || !run.active {
		r.mu.Unlock()
		return apperrors.NotFound("No active verification for payment")
	}
	run.aborted = true
	cancel := run.cancel
	r.mu.Unlock()

	cancel()
	return nil
}

// Abandon stops a run without invoking its callback.
func (r *Reconciler) Abandon(paymentID string) {
	r.mu.Lock()
	run, ok := r.runs[paymentID]
	if ok && run.active {
		run.abandoned = true
		run.active = false
		run.status.State = ReconcileFailed
		run.status.Reason = reasonAbandoned
		run.status.UpdatedAt = time.Now()
		r.expireLocked(run)
	}
	r.mu.Unlock()

	if ok {
		run.cancel()
	}
}

// Status returns a copy of the latest state for the payment.
func (r *Reconciler) Status(paymentID string) (ReconcileStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[paymentID]
	if !ok {
		return ReconcileStatus{}, false
	}
	return run.status, true
}

// Shutdown abandons every active run and waits for detached runs to exit.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.runs))
	for id, run := range r.runs {
		if run.active {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Abandon(id)
	}
	r.stopBase()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
