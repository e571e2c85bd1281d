package services

import (
	"context"
	"strings"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"

	"go.uber.org/zap"
)

// PaymentService backs the low-level gateway endpoints used by the storefront
// outside the orchestrated checkout.
type PaymentService struct {
	gateway    GatewayClient
	verifier   *SignatureVerifier
	reconciler *Reconciler
	logger     *zap.Logger
}

func NewPaymentService(gateway GatewayClient, verifier *SignatureVerifier, reconciler *Reconciler, logger *zap.Logger) *PaymentService {
	return &PaymentService{gateway: gateway, verifier: verifier, reconciler: reconciler, logger: logger}
}

// CreateOrder registers a gateway order. Currency defaults to INR and the
// receipt to receipt_<millis>.
func (s *PaymentService) CreateOrder(ctx context.Context, req models.CreateGatewayOrderRequest) (*models.GatewayOrder, error) {
	if req.Amount <= 0 {
		return nil, apperrors.Validation("Amount must be greater than zero")
	}
	return s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Customer: req.CustomerInfo,
	})
}

// VerifyPayment checks the checkout signature. A mismatch is a
// VerificationMismatch error.
func (s *PaymentService) VerifyPayment(cb models.PaymentCallback) error {
	if !s.verifier.Verify(cb.RazorpayOrderID, cb.RazorpayPaymentID, cb.RazorpaySignature) {
		s.logger.Warn("payment signature mismatch",
			zap.String("gateway_order_id", cb.RazorpayOrderID),
			zap.String("payment_id", cb.RazorpayPaymentID),
		)
		return apperrors.VerificationMismatch(nil)
	}
	return nil
}

func (s *PaymentService) PaymentStatus(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, apperrors.Validation("Payment ID is required")
	}
	p, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		if apperrors.From(err).Kind != apperrors.KindInternal {
			return nil, err
		}
		return nil, apperrors.Internal("Failed to fetch payment status", err)
	}
	return p, nil
}

// StartReconcile launches a detached reconciliation run for the payment.
func (s *PaymentService) StartReconcile(paymentID string) error {
	return s.reconciler.Start(paymentID, nil)
}

func (s *PaymentService) ReconcileStatus(paymentID string) (ReconcileStatus, error) {
	st, ok := s.reconciler.Status(paymentID)
	if !ok {
		return ReconcileStatus{}, apperrors.NotFound("No verification found for payment")
	}
	return st, nil
}

func (s *PaymentService) Recheck(paymentID string) error {
	return s.reconciler.Recheck(paymentID)
}

func (s *PaymentService) Abort(paymentID string) error {
	return s.reconciler.Abort(paymentID)
}
