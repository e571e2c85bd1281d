package services

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/events"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/repository"

	"go.uber.org/zap"
)

// OrderService is the generic persistence surface over the order repository.
type OrderService struct {
	repo      repository.OrderRepository
	verifier  *SignatureVerifier
	publisher events.Publisher
	logger    *zap.Logger
}

func NewOrderService(repo repository.OrderRepository, verifier *SignatureVerifier, publisher events.Publisher, logger *zap.Logger) *OrderService {
	return &OrderService{repo: repo, verifier: verifier, publisher: publisher, logger: logger}
}

// CreateOrder persists an order together with its item snapshots. The stored
// statuses are always pending/processing unless a razorpay payment signature
// verifies, in which case the order is stored completed/confirmed with the
// verified gateway ids.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest, userID string) (*models.Order, error) {
	order := req.Order
	if strings.TrimSpace(order.OrderID) == "" {
		return nil, apperrors.Validation("Order ID is required")
	}
	if order.PaymentStatus != "" && order.PaymentStatus != models.PaymentStatusPending {
		return nil, apperrors.Validation("Payment status is set by the server")
	}
	if order.OrderStatus != "" && order.OrderStatus != models.OrderStatusProcessing {
		return nil, apperrors.Validation("Order status is set by the server")
	}
	if order.Currency == "" {
		order.Currency = models.CurrencyINR
	}
	order.PaymentStatus = models.PaymentStatusPending
	order.OrderStatus = models.OrderStatusProcessing
	order.GatewayOrderID, order.GatewayPaymentID = nil, nil

	if req.Payment != nil {
		if order.PaymentMethod != models.PaymentMethodRazorpay {
			return nil, apperrors.Validation("Only razorpay orders carry a payment signature")
		}
		cb := req.Payment
		if !s.verifier.Verify(cb.RazorpayOrderID, cb.RazorpayPaymentID, cb.RazorpaySignature) {
			s.logger.Warn("order payment signature mismatch",
				zap.String("order_id", order.OrderID), zap.String("payment_id", cb.RazorpayPaymentID))
			return nil, apperrors.VerificationMismatch(nil)
		}
		gatewayOrderID, paymentID := cb.RazorpayOrderID, cb.RazorpayPaymentID
		order.GatewayOrderID, order.GatewayPaymentID = &gatewayOrderID, &paymentID
		order.PaymentStatus = models.PaymentStatusCompleted
		order.OrderStatus = models.OrderStatusConfirmed
	}
	if order.UserID == nil {
		order.UserID = optionalString(userID)
	}
	if len(req.Items) > 0 {
		order.Items = req.Items
	}

	if err := order.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if err := s.repo.Create(ctx, &order); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, apperrors.Conflict("Order already exists")
		}
		s.logger.Error("failed to create order", zap.String("order_id", order.OrderID), zap.Error(err))
		return nil, apperrors.Internal("Failed to create order", err)
	}

	ev := models.NewOrderEvent(&order)
	if err := s.publisher.Publish(ctx, ev.Type, order.OrderID, ev); err != nil {
		s.logger.Error("failed to publish order event", zap.String("order_id", order.OrderID), zap.Error(err))
	}
	return &order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperrors.NotFound("Order not found")
		}
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	return order, nil
}

// ApplyReconciliation is the reconciler's settle hook. It moves a matching
// order forward and announces the verdict. A payment with no stored order is
// only announced.
func (s *OrderService) ApplyReconciliation(ctx context.Context, paymentID string, success bool, payment *models.GatewayPayment, reason string) {
	log := s.logger.With(zap.String("payment_id", paymentID), zap.Bool("success", success))
	ev := models.PaymentEvent{
		Type:      models.EventPaymentReconciled,
		PaymentID: paymentID,
		Success:   success,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if payment != nil {
		ev.Status = payment.Status
		ev.Amount = payment.Amount
		ev.Currency = payment.Currency
	}

	order, err := s.repo.FindByGatewayPaymentID(ctx, paymentID)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		log.Debug("no stored order for reconciled payment")
	case err != nil:
		log.Error("failed to look up order for reconciled payment", zap.Error(err))
	default:
		ev.OrderID = order.OrderID
		s.markOrder(ctx, order, success, log)
	}

	if err := s.publisher.Publish(ctx, ev.Type, paymentID, ev); err != nil {
		log.Error("failed to publish reconciliation event", zap.Error(err))
	}
}

func (s *OrderService) markOrder(ctx context.Context, order *models.Order, success bool, log *zap.Logger) {
	to := models.PaymentStatusFailed
	if success {
		to = models.PaymentStatusCompleted
	}
	err := s.repo.UpdatePaymentStatus(ctx, order.OrderID, to)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		log.Warn("reconciled status does not apply", zap.String("order_id", order.OrderID),
			zap.String("from", string(order.PaymentStatus)), zap.String("to", string(to)))
		return
	case err != nil:
		log.Error("failed to update payment status", zap.String("order_id", order.OrderID), zap.Error(err))
		return
	}

	if success && order.OrderStatus == models.OrderStatusProcessing {
		if err := s.repo.UpdateOrderStatus(ctx, order.OrderID, models.OrderStatusConfirmed); err != nil {
			log.Error("failed to confirm order", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	log.Info("order reconciled", zap.String("order_id", order.OrderID), zap.String("payment_status", string(to)))
}
