package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/common/logger"
	"github.com/mrugaya/storefront-backend/events"
	"github.com/mrugaya/storefront-backend/models"
	awspkg "github.com/mrugaya/storefront-backend/pkg/aws"
	"github.com/mrugaya/storefront-backend/repository"

	"go.uber.org/zap"
)

const (
	receiptPrefix    = "MRG"
	idempotencyTTL   = 24 * time.Hour
	sessionRetention = 15 * time.Minute

	// DefaultSessionTTL bounds how long a gateway session waits for the
	// widget before it is treated as abandoned.
	DefaultSessionTTL = 30 * time.Minute
)

// PaymentWidget is a PaymentUI whose callbacks are relayed by the browser.
type PaymentWidget interface {
	PaymentUI
	Complete(receipt string, cb models.PaymentCallback) error
	Dismiss(receipt string) error
	Forget(receipt string)
}

// CheckoutOptions carries request-scoped metadata.
type CheckoutOptions struct {
	UserID         string
	IdempotencyKey string
}

// GatewaySession is returned when an online checkout starts. Replayed is set
// when the Idempotency-Key matched an earlier request; Order is then set if
// that request already produced an order.
type GatewaySession struct {
	Receipt      string               `json:"receipt"`
	GatewayOrder *models.GatewayOrder `json:"order,omitempty"`
	Options      *WidgetOptions       `json:"options,omitempty"`
	Replayed     bool                 `json:"replayed"`
	Order        *models.Order        `json:"existingOrder,omitempty"`
}

// CheckoutOutcome is the result of an online checkout once the widget has
// reported back.
type CheckoutOutcome struct {
	Success   bool          `json:"success"`
	OrderID   string        `json:"orderId"`
	PaymentID string        `json:"paymentId,omitempty"`
	Message   string        `json:"message"`
	Order     *models.Order `json:"order,omitempty"`
}

type checkoutSession struct {
	receipt        string
	gatewayOrder   *models.GatewayOrder
	options        WidgetOptions
	idempotencyKey string
	ttl            time.Duration

	done    chan struct{}
	outcome *CheckoutOutcome
	err     error
}

// CheckoutService orchestrates cash-on-delivery and gateway checkouts.
type CheckoutService struct {
	repo      repository.OrderRepository
	gateway   GatewayClient
	widget    PaymentWidget
	verifier  *SignatureVerifier
	publisher events.Publisher
	idem      repository.IdempotencyStore
	metrics   *awspkg.MetricsClient
	logger    *zap.Logger
	now       func() time.Time

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	sessions   map[string]*checkoutSession
	sessionTTL time.Duration
}

func NewCheckoutService(
	repo repository.OrderRepository,
	gateway GatewayClient,
	widget PaymentWidget,
	verifier *SignatureVerifier,
	publisher events.Publisher,
	idem repository.IdempotencyStore,
	metrics *awspkg.MetricsClient,
	logger *zap.Logger,
) *CheckoutService {
	base, stop := context.WithCancel(context.Background())
	return &CheckoutService{
		repo:      repo,
		gateway:   gateway,
		widget:    widget,
		verifier:  verifier,
		publisher: publisher,
		idem:      idem,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		base:       base,
		stopBase:   stop,
		sessions:   make(map[string]*checkoutSession),
		sessionTTL: DefaultSessionTTL,
	}
}

// SetSessionTTL changes how long new gateway sessions wait for the widget.
func (s *CheckoutService) SetSessionTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.sessionTTL = ttl
	s.mu.Unlock()
}

// SetClock overrides the clock used for ids and delivery estimates.
func (s *CheckoutService) SetClock(now func() time.Time) {
	s.now = now
}

func validateCheckout(customer *models.CustomerInfo, items []models.CartItem) error {
	if !customer.Complete() {
		return apperrors.Validation("Customer information is required")
	}
	if len(items) == 0 {
		return apperrors.Validation("Cart is empty")
	}
	for _, it := range items {
		if it.Quantity <= 0 || strings.TrimSpace(it.Name) == "" {
			return apperrors.Validation("Invalid cart item")
		}
	}
	return nil
}

func snapshotItems(items []models.CartItem) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.Snapshot())
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reserve claims the idempotency key. It returns the order id of a replayed
// request, or "" when the caller should proceed.
func (s *CheckoutService) reserve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	orderID, reserved, err := s.idem.Reserve(ctx, key, idempotencyTTL)
	if err != nil {
		return "", apperrors.Internal("Failed to process request", err)
	}
	if reserved {
		return "", nil
	}
	if orderID == "" {
		return "", apperrors.Conflict("Request already in progress")
	}
	return orderID, nil
}

func (s *CheckoutService) release(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idem.Release(ctx, key); err != nil {
		s.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}

func (s *CheckoutService) remember(ctx context.Context, key, orderID string) {
	if key == "" {
		return
	}
	if err := s.idem.Complete(ctx, key, orderID, idempotencyTTL); err != nil {
		s.logger.Warn("failed to store idempotency key", zap.String("order_id", orderID), zap.Error(err))
	}
}

// publishEvent is best-effort; a failed publish never fails the checkout.
func (s *CheckoutService) publishEvent(ctx context.Context, order *models.Order) {
	ev := models.NewOrderEvent(order)
	if err := s.publisher.Publish(ctx, ev.Type, order.OrderID, ev); err != nil {
		s.logger.Error("failed to publish order event", zap.String("order_id", order.OrderID), zap.Error(err))
	}
}

func (s *CheckoutService) record(metric string, method models.PaymentMethod) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordCount(ctx, metric, map[string]string{"PaymentMethod": string(method)})
	}()
}

// CheckoutCOD places a cash-on-delivery order. Nothing is written unless the
// customer info and cart are valid.
func (s *CheckoutService) CheckoutCOD(ctx context.Context, req models.CODOrderRequest, opts CheckoutOptions) (*models.CODOrderResponse, error) {
	if err := validateCheckout(req.CustomerInfo, req.Items); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, apperrors.Validation("Amount must be greater than zero")
	}

	replayed, err := s.reserve(ctx, opts.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if replayed != "" {
		existing, err := s.repo.FindByOrderID(ctx, replayed)
		if err != nil {
			return nil, apperrors.Internal("Failed to process COD order", err)
		}
		return codResponse(existing, existing.CreatedAt), nil
	}

	now := s.now()
	pricing := ComputePricing(req.Amount, models.PaymentMethodCOD, now)
	c := req.CustomerInfo
	order := &models.Order{
		OrderID:         NewCODOrderID(now),
		UserID:          optionalString(opts.UserID),
		CustomerName:    c.Name,
		CustomerEmail:   c.Email,
		CustomerPhone:   c.Phone,
		CustomerAddress: c.Address,
		Subtotal:        pricing.Subtotal,
		HandlingFee:     pricing.HandlingFee,
		TotalAmount:     pricing.TotalAmount,
		Currency:        models.CurrencyINR,
		PaymentMethod:   models.PaymentMethodCOD,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     models.OrderStatusProcessing,
		Items:           snapshotItems(req.Items),
	}

	if err := s.repo.Create(ctx, order); err != nil {
		s.release(opts.IdempotencyKey)
		logger.For(ctx, s.logger).Error("failed to persist COD order", zap.String("order_id", order.OrderID), zap.Error(err))
		return nil, apperrors.Internal("Failed to process COD order", err)
	}
	s.remember(ctx, opts.IdempotencyKey, order.OrderID)

	logger.For(ctx, s.logger).Info("COD order placed",
		zap.String("order_id", order.OrderID),
		zap.String("customer", c.Name),
		zap.Float64("total_amount", order.TotalAmount),
		zap.Int("items", len(order.Items)),
	)
	s.publishEvent(ctx, order)
	s.record(awspkg.MetricCODOrders, models.PaymentMethodCOD)
	s.record(awspkg.MetricOrdersCreated, models.PaymentMethodCOD)

	return codResponse(order, now), nil
}

func codResponse(o *models.Order, placedAt time.Time) *models.CODOrderResponse {
	return &models.CODOrderResponse{
		OrderID:           o.OrderID,
		Amount:            o.Subtotal,
		HandlingFee:       o.HandlingFee,
		TotalAmount:       o.TotalAmount,
		EstimatedDelivery: ComputePricing(o.Subtotal, o.PaymentMethod, placedAt).EstimatedDelivery,
		Status:            string(models.OrderStatusConfirmed),
	}
}

// BeginGatewayCheckout creates the gateway order, opens the widget and starts
// waiting for the customer in the background.
func (s *CheckoutService) BeginGatewayCheckout(ctx context.Context, req models.GatewayCheckoutRequest, opts CheckoutOptions) (*GatewaySession, error) {
	if err := validateCheckout(req.CustomerInfo, req.Items); err != nil {
		return nil, err
	}
	if _, err := MethodRestriction(req.Preference); err != nil {
		return nil, err
	}
	amount := req.Amount
	if amount <= 0 {
		amount = SumItems(req.Items)
	}

	replayed, err := s.reserve(ctx, opts.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if replayed != "" {
		return s.replaySession(ctx, replayed)
	}

	receipt := NewReceipt(receiptPrefix, s.now())
	gatewayOrder, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   amount,
		Currency: models.CurrencyINR,
		Receipt:  receipt,
		Customer: req.CustomerInfo,
		Notes:    map[string]string{"address": req.CustomerInfo.Address},
	})
	if err != nil {
		s.release(opts.IdempotencyKey)
		return nil, err
	}
	s.record(awspkg.MetricGatewayOrdersCreated, models.PaymentMethodRazorpay)

	pending, widgetOpts, err := s.widget.Open(ctx, WidgetRequest{
		Order:      gatewayOrder,
		Receipt:    receipt,
		Customer:   req.CustomerInfo,
		Preference: req.Preference,
		ItemCount:  len(req.Items),
	})
	if err != nil {
		s.release(opts.IdempotencyKey)
		return nil, err
	}
	s.remember(ctx, opts.IdempotencyKey, receipt)

	session := &checkoutSession{
		receipt:        receipt,
		gatewayOrder:   gatewayOrder,
		options:        widgetOpts,
		idempotencyKey: opts.IdempotencyKey,
		done:           make(chan struct{}),
	}
	s.mu.Lock()
	session.ttl = s.sessionTTL
	s.sessions[receipt] = session
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runGatewaySession(session, pending, req, amount, opts.UserID, logger.RequestID(ctx))
	}()

	logger.For(ctx, s.logger).Info("gateway checkout started",
		zap.String("receipt", receipt),
		zap.String("gateway_order_id", gatewayOrder.ID),
		zap.Float64("amount", amount),
	)
	return &GatewaySession{Receipt: receipt, GatewayOrder: gatewayOrder, Options: &widgetOpts}, nil
}

func (s *CheckoutService) replaySession(ctx context.Context, receipt string) (*GatewaySession, error) {
	s.mu.Lock()
	session, ok := s.sessions[receipt]
	s.mu.Unlock()
	if ok {
		opts := session.options
		return &GatewaySession{Receipt: receipt, GatewayOrder: session.gatewayOrder, Options: &opts, Replayed: true}, nil
	}

	order, err := s.repo.FindByOrderID(ctx, receipt)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperrors.Conflict("Checkout session expired, please retry without the idempotency key")
		}
		return nil, apperrors.Internal("Failed to look up order", err)
	}
	return &GatewaySession{Receipt: receipt, Replayed: true, Order: order}, nil
}

func (s *CheckoutService) runGatewaySession(session *checkoutSession, pending *PendingPayment, req models.GatewayCheckoutRequest, amount float64, userID, requestID string) {
	ctx := logger.WithRequestID(s.base, requestID)
	log := logger.For(ctx, s.logger).With(zap.String("receipt", session.receipt))

	expiry := time.AfterFunc(session.ttl, func() {
		if s.widget.Dismiss(session.receipt) == nil {
			log.Info("checkout session expired without a widget callback", zap.Duration("ttl", session.ttl))
		}
	})
	outcome, err := s.settleGatewayPayment(ctx, session, pending, req, amount, userID)
	expiry.Stop()
	if err != nil {
		s.release(session.idempotencyKey)
		s.widget.Forget(session.receipt)
		switch {
		case errors.Is(err, apperrors.ErrUserCancelled):
			log.Info("payment cancelled by user")
			s.record(awspkg.MetricPaymentCancelled, models.PaymentMethodRazorpay)
		case errors.Is(err, apperrors.ErrVerificationMismatch):
			log.Warn("payment signature mismatch", zap.Error(err))
			s.record(awspkg.MetricSignatureMismatch, models.PaymentMethodRazorpay)
		default:
			log.Error("gateway checkout failed", zap.Error(err))
			s.record(awspkg.MetricPaymentFailed, models.PaymentMethodRazorpay)
		}
	} else {
		log.Info("gateway checkout completed", zap.String("payment_id", outcome.PaymentID))
		s.record(awspkg.MetricPaymentSucceeded, models.PaymentMethodRazorpay)
		s.record(awspkg.MetricOrdersCreated, models.PaymentMethodRazorpay)
	}

	s.mu.Lock()
	session.outcome, session.err = outcome, err
	close(session.done)
	s.mu.Unlock()

	time.AfterFunc(sessionRetention, func() {
		s.mu.Lock()
		delete(s.sessions, session.receipt)
		s.mu.Unlock()
	})
}

func (s *CheckoutService) settleGatewayPayment(ctx context.Context, session *checkoutSession, pending *PendingPayment, req models.GatewayCheckoutRequest, amount float64, userID string) (*CheckoutOutcome, error) {
	cb, err := pending.Await(ctx)
	if err != nil {
		return nil, err
	}

	if cb.RazorpayOrderID != session.gatewayOrder.ID ||
		!s.verifier.Verify(cb.RazorpayOrderID, cb.RazorpayPaymentID, cb.RazorpaySignature) {
		return nil, apperrors.VerificationMismatch(errors.New("signature does not match gateway order " + session.gatewayOrder.ID))
	}

	pricing := ComputePricing(amount, models.PaymentMethodRazorpay, s.now())
	c := req.CustomerInfo
	order := &models.Order{
		OrderID:          session.receipt,
		UserID:           optionalString(userID),
		CustomerName:     c.Name,
		CustomerEmail:    c.Email,
		CustomerPhone:    c.Phone,
		CustomerAddress:  c.Address,
		Subtotal:         pricing.Subtotal,
		HandlingFee:      pricing.HandlingFee,
		TotalAmount:      pricing.TotalAmount,
		Currency:         session.gatewayOrder.Currency,
		PaymentMethod:    models.PaymentMethodRazorpay,
		PaymentStatus:    models.PaymentStatusCompleted,
		OrderStatus:      models.OrderStatusConfirmed,
		GatewayOrderID:   optionalString(cb.RazorpayOrderID),
		GatewayPaymentID: optionalString(cb.RazorpayPaymentID),
		Items:            snapshotItems(req.Items),
	}
	if order.Currency == "" {
		order.Currency = models.CurrencyINR
	}

	if err := s.repo.Create(ctx, order); err != nil {
		if !errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, apperrors.Internal("Payment received but the order could not be saved. Please contact support", err)
		}
		existing, findErr := s.repo.FindByOrderID(ctx, order.OrderID)
		if findErr != nil {
			return nil, apperrors.Internal("Failed to look up order", findErr)
		}
		order = existing
	} else {
		s.publishEvent(ctx, order)
	}

	return &CheckoutOutcome{
		Success:   true,
		OrderID:   order.OrderID,
		PaymentID: cb.RazorpayPaymentID,
		Message:   "Payment completed successfully",
		Order:     order,
	}, nil
}

// CompleteGatewayCheckout relays the widget's success tuple and waits for the
// session verdict. Completing an already settled session returns its verdict.
func (s *CheckoutService) CompleteGatewayCheckout(ctx context.Context, receipt string, cb models.PaymentCallback) (*CheckoutOutcome, error) {
	s.mu.Lock()
	session, ok := s.sessions[receipt]
	s.mu.Unlock()
	if !ok {
		order, err := s.repo.FindByOrderID(ctx, receipt)
		if err != nil {
			return nil, apperrors.NotFound("Checkout session not found")
		}
		return &CheckoutOutcome{Success: true, OrderID: order.OrderID, Message: "Payment completed successfully", Order: order}, nil
	}

	if err := s.widget.Complete(receipt, cb); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.wait(ctx, session)
}

// CancelGatewayCheckout relays the widget's ondismiss hook.
func (s *CheckoutService) CancelGatewayCheckout(ctx context.Context, receipt string) (*CheckoutOutcome, error) {
	s.mu.Lock()
	session, ok := s.sessions[receipt]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound("Checkout session not found")
	}

	if err := s.widget.Dismiss(receipt); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.wait(ctx, session)
}

func (s *CheckoutService) wait(ctx context.Context, session *checkoutSession) (*CheckoutOutcome, error) {
	select {
	case <-session.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return session.outcome, session.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops waiting for customers and lets in-flight sessions unwind.
func (s *CheckoutService) Shutdown(ctx context.Context) error {
	s.stopBase()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
