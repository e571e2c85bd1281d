package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newPaymentService(gw *mockGateway) *services.PaymentService {
	return services.NewPaymentService(gw, services.NewSignatureVerifier(testKeySecret), newTestReconciler(gw, time.Millisecond), zap.NewNop())
}

func TestPaymentService_CreateOrderRejectsNonPositiveAmount(t *testing.T) {
	gw := &mockGateway{order: &models.GatewayOrder{ID: "order_N1"}}
	svc := newPaymentService(gw)

	_, err := svc.CreateOrder(context.Background(), models.CreateGatewayOrderRequest{Amount: 0})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 0, gw.orders)
}

func TestPaymentService_CreateOrderPassesThrough(t *testing.T) {
	gw := &mockGateway{order: &models.GatewayOrder{ID: "order_N1", Amount: 150000, Currency: "INR"}}
	svc := newPaymentService(gw)

	o, err := svc.CreateOrder(context.Background(), models.CreateGatewayOrderRequest{Amount: 1500, Receipt: "r1", CustomerInfo: testCustomer()})
	require.NoError(t, err)

	assert.Equal(t, "order_N1", o.ID)
	assert.Equal(t, "r1", o.Receipt)
	assert.Equal(t, 1500.0, gw.orderReq.Amount)
}

func TestPaymentService_VerifyPayment(t *testing.T) {
	svc := newPaymentService(&mockGateway{})
	v := services.NewSignatureVerifier(testKeySecret)

	ok := models.PaymentCallback{RazorpayOrderID: "order_1", RazorpayPaymentID: "pay_1", RazorpaySignature: v.Sign("order_1", "pay_1")}
	assert.NoError(t, svc.VerifyPayment(ok))

	bad := ok
	bad.RazorpayPaymentID = "pay_2"
	assert.ErrorIs(t, svc.VerifyPayment(bad), apperrors.ErrVerificationMismatch)
}

func TestPaymentService_PaymentStatusWrapsGatewayErrors(t *testing.T) {
	svc := newPaymentService(&mockGateway{fetchErr: errors.New("timeout")})

	_, err := svc.PaymentStatus(context.Background(), "pay_1")

	assert.ErrorIs(t, err, apperrors.ErrInternalServer)
}

func TestPaymentService_ReconcileStatusUnknown(t *testing.T) {
	svc := newPaymentService(&mockGateway{})

	_, err := svc.ReconcileStatus("pay_1")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
