package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/controllers"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- mocks ----

type mockPayments struct {
	order     *models.GatewayOrder
	orderErr  error
	orderReq  models.CreateGatewayOrderRequest
	verifyErr error
	payment   *models.GatewayPayment
	statusErr error
	startErr  error
	recheck   error
	abortErr  error
	status    *services.ReconcileStatus
}

func (m *mockPayments) CreateOrder(_ context.Context, req models.CreateGatewayOrderRequest) (*models.GatewayOrder, error) {
	m.orderReq = req
	return m.order, m.orderErr
}

func (m *mockPayments) VerifyPayment(models.PaymentCallback) error { return m.verifyErr }

func (m *mockPayments) PaymentStatus(context.Context, string) (*models.GatewayPayment, error) {
	return m.payment, m.statusErr
}

func (m *mockPayments) StartReconcile(string) error { return m.startErr }

func (m *mockPayments) ReconcileStatus(string) (services.ReconcileStatus, error) {
	if m.status == nil {
		return services.ReconcileStatus{}, apperrors.NotFound("No verification found for payment")
	}
	return *m.status, nil
}

func (m *mockPayments) Recheck(string) error { return m.recheck }
func (m *mockPayments) Abort(string) error   { return m.abortErr }

type mockCheckout struct {
	cod        *models.CODOrderResponse
	codErr     error
	codOpts    services.CheckoutOptions
	session    *services.GatewaySession
	sessionErr error
	outcome    *services.CheckoutOutcome
	outcomeErr error
	receipt    string
}

func (m *mockCheckout) CheckoutCOD(_ context.Context, _ models.CODOrderRequest, opts services.CheckoutOptions) (*models.CODOrderResponse, error) {
	m.codOpts = opts
	return m.cod, m.codErr
}

func (m *mockCheckout) BeginGatewayCheckout(context.Context, models.GatewayCheckoutRequest, services.CheckoutOptions) (*services.GatewaySession, error) {
	return m.session, m.sessionErr
}

func (m *mockCheckout) CompleteGatewayCheckout(_ context.Context, receipt string, _ models.PaymentCallback) (*services.CheckoutOutcome, error) {
	m.receipt = receipt
	return m.outcome, m.outcomeErr
}

func (m *mockCheckout) CancelGatewayCheckout(_ context.Context, receipt string) (*services.CheckoutOutcome, error) {
	m.receipt = receipt
	return m.outcome, m.outcomeErr
}

type mockOrders struct {
	order  *models.Order
	err    error
	userID string
}

func (m *mockOrders) CreateOrder(_ context.Context, req models.CreateOrderRequest, userID string) (*models.Order, error) {
	m.userID = userID
	if m.err != nil {
		return nil, m.err
	}
	o := req.Order
	o.Items = req.Items
	return &o, nil
}

func (m *mockOrders) GetOrder(context.Context, string) (*models.Order, error) {
	return m.order, m.err
}

// ---- helpers ----

func setupRouter(p controllers.PaymentAPI, co controllers.CheckoutAPI, o controllers.OrderAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := zap.NewNop()
	pc := controllers.NewPaymentController(p, log)
	cc := controllers.NewCheckoutController(co, log)
	oc := controllers.NewOrderController(o, log)

	api := r.Group("/api")
	api.POST("/create-order", pc.CreateOrder)
	api.POST("/verify-payment", pc.VerifyPayment)
	api.GET("/payment-status/:paymentId", pc.GetPaymentStatus)
	api.POST("/payment-status/:paymentId/reconcile", pc.StartReconcile)
	api.GET("/payment-status/:paymentId/reconcile", pc.GetReconcileStatus)
	api.POST("/payment-status/:paymentId/recheck", pc.Recheck)
	api.POST("/payment-status/:paymentId/abort", pc.Abort)
	api.POST("/cod-order", cc.PlaceCODOrder)
	api.POST("/checkout/razorpay", cc.BeginRazorpay)
	api.POST("/checkout/razorpay/:receipt/complete", cc.CompleteRazorpay)
	api.POST("/checkout/razorpay/:receipt/dismiss", cc.DismissRazorpay)
	api.POST("/orders", oc.CreateOrder)
	api.GET("/orders/:orderId", oc.GetOrder)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}, headers ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func customerJSON() map[string]interface{} {
	return map[string]interface{}{"name": "Asha", "email": "asha@example.com", "phone": "9999999999", "address": "12 MG Road, Pune"}
}

// ---- payment endpoints ----

func TestCreateOrder_Success(t *testing.T) {
	p := &mockPayments{order: &models.GatewayOrder{ID: "order_N1", Amount: 150000, Currency: "INR", Receipt: "receipt_1"}}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/create-order", map[string]interface{}{"amount": 1500})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	order := resp["order"].(map[string]interface{})
	assert.Equal(t, "order_N1", order["id"])
	assert.Equal(t, float64(150000), order["amount"])
	assert.Equal(t, 1500.0, p.orderReq.Amount)
}

func TestCreateOrder_GatewayFailure(t *testing.T) {
	p := &mockPayments{orderErr: apperrors.OrderCreation(errors.New("auth failed"))}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/create-order", map[string]interface{}{"amount": 1500})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Failed to create payment order", resp["message"])
}

func TestCreateOrder_BadJSON(t *testing.T) {
	r := setupRouter(&mockPayments{}, &mockCheckout{}, &mockOrders{})

	w, _ := do(r, http.MethodPost, "/api/create-order", "not-json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyPayment_Valid(t *testing.T) {
	r := setupRouter(&mockPayments{}, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/verify-payment", map[string]string{
		"razorpay_order_id": "order_1", "razorpay_payment_id": "pay_1", "razorpay_signature": "abc",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["verified"])
	assert.Equal(t, "Payment verified successfully", resp["message"])
}

func TestVerifyPayment_Mismatch(t *testing.T) {
	r := setupRouter(&mockPayments{verifyErr: apperrors.VerificationMismatch(nil)}, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/verify-payment", map[string]string{
		"razorpay_order_id": "order_1", "razorpay_payment_id": "pay_1", "razorpay_signature": "bad",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]interface{}{"success": false, "message": "Invalid signature", "verified": false}, resp)
}

func TestVerifyPayment_MissingFields(t *testing.T) {
	r := setupRouter(&mockPayments{}, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/verify-payment", map[string]string{"razorpay_order_id": "order_1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["verified"])
}

func TestGetPaymentStatus(t *testing.T) {
	p := &mockPayments{payment: &models.GatewayPayment{ID: "pay_1", Status: models.GatewayPaymentCaptured, Amount: 205000, Currency: "INR", Method: "upi", Captured: true}}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodGet, "/api/payment-status/pay_1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	payment := resp["payment"].(map[string]interface{})
	assert.Equal(t, "captured", payment["status"])
	assert.Equal(t, true, payment["captured"])
	assert.Equal(t, "upi", payment["method"])
}

func TestGetPaymentStatus_Failure(t *testing.T) {
	p := &mockPayments{statusErr: apperrors.Internal("Failed to fetch payment status", errors.New("boom"))}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodGet, "/api/payment-status/pay_1", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch payment status", resp["message"])
}

func TestStartReconcile_Accepted(t *testing.T) {
	p := &mockPayments{status: &services.ReconcileStatus{PaymentID: "pay_1", State: services.ReconcileChecking, Attempt: 1, MaxAttempts: 6}}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/payment-status/pay_1/reconcile", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	v := resp["verification"].(map[string]interface{})
	assert.Equal(t, "checking", v["status"])
	assert.Equal(t, float64(6), v["maxAttempts"])
}

func TestStartReconcile_AlreadyRunning(t *testing.T) {
	p := &mockPayments{startErr: services.ErrReconcileInProgress}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, _ := do(r, http.MethodPost, "/api/payment-status/pay_1/reconcile", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetReconcileStatus_Unknown(t *testing.T) {
	r := setupRouter(&mockPayments{}, &mockCheckout{}, &mockOrders{})

	w, _ := do(r, http.MethodGet, "/api/payment-status/pay_1/reconcile", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecheckAndAbort(t *testing.T) {
	p := &mockPayments{status: &services.ReconcileStatus{PaymentID: "pay_1", State: services.ReconcilePending}}
	r := setupRouter(p, &mockCheckout{}, &mockOrders{})

	w, _ := do(r, http.MethodPost, "/api/payment-status/pay_1/recheck", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	p.abortErr = apperrors.NotFound("No active verification for payment")
	w, _ = do(r, http.MethodPost, "/api/payment-status/pay_1/abort", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ---- checkout endpoints ----

func TestPlaceCODOrder_Success(t *testing.T) {
	co := &mockCheckout{cod: &models.CODOrderResponse{
		OrderID: "COD-1-ABCDEFGHI", Amount: 2000, HandlingFee: 50, TotalAmount: 2050,
		EstimatedDelivery: "Friday, 23 October 2026", Status: "confirmed",
	}}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/cod-order",
		map[string]interface{}{"amount": 2000, "customerInfo": customerJSON(), "items": []interface{}{}},
		"Idempotency-Key", "cart-1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	order := resp["order"].(map[string]interface{})
	assert.Equal(t, float64(2050), order["totalAmount"])
	assert.Equal(t, "confirmed", order["status"])
	assert.Equal(t, "cart-1", co.codOpts.IdempotencyKey)
}

func TestPlaceCODOrder_MissingCustomer(t *testing.T) {
	co := &mockCheckout{codErr: apperrors.Validation("Customer information is required")}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/cod-order", map[string]interface{}{"amount": 2000})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Customer information is required", resp["message"])
}

func TestPlaceCODOrder_InFlight(t *testing.T) {
	co := &mockCheckout{codErr: apperrors.Conflict("Request already in progress")}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, _ := do(r, http.MethodPost, "/api/cod-order", map[string]interface{}{"amount": 2000})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBeginRazorpay(t *testing.T) {
	co := &mockCheckout{session: &services.GatewaySession{
		Receipt:      "MRG_1_abc",
		GatewayOrder: &models.GatewayOrder{ID: "order_N1"},
		Options:      &services.WidgetOptions{Key: "rzp_test", OrderID: "order_N1"},
	}}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/checkout/razorpay",
		map[string]interface{}{"amount": 2000, "customerInfo": customerJSON(), "paymentMethod": "upi"})

	assert.Equal(t, http.StatusCreated, w.Code)
	session := resp["session"].(map[string]interface{})
	assert.Equal(t, "MRG_1_abc", session["receipt"])
}

func TestCompleteRazorpay(t *testing.T) {
	co := &mockCheckout{outcome: &services.CheckoutOutcome{Success: true, OrderID: "MRG_1_abc", PaymentID: "pay_1"}}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/checkout/razorpay/MRG_1_abc/complete", map[string]string{
		"razorpay_order_id": "order_N1", "razorpay_payment_id": "pay_1", "razorpay_signature": "sig",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MRG_1_abc", co.receipt)
	assert.Equal(t, true, resp["success"])
}

func TestCompleteRazorpay_Mismatch(t *testing.T) {
	co := &mockCheckout{outcomeErr: apperrors.VerificationMismatch(errors.New("bad signature"))}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/checkout/razorpay/MRG_1_abc/complete", map[string]string{
		"razorpay_order_id": "order_N1", "razorpay_payment_id": "pay_1", "razorpay_signature": "sig",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["message"], "contact support")
}

func TestDismissRazorpay(t *testing.T) {
	co := &mockCheckout{outcomeErr: apperrors.UserCancelled()}
	r := setupRouter(&mockPayments{}, co, &mockOrders{})

	w, resp := do(r, http.MethodPost, "/api/checkout/razorpay/MRG_1_abc/dismiss", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, true, resp["cancelled"])
}

// ---- order endpoints ----

func TestCreateOrderRecord(t *testing.T) {
	o := &mockOrders{}
	r := setupRouter(&mockPayments{}, &mockCheckout{}, o)

	w, resp := do(r, http.MethodPost, "/api/orders", map[string]interface{}{
		"order": map[string]interface{}{"orderId": "COD-1-ABC"},
		"items": []map[string]interface{}{{"productName": "Nose Pin", "quantity": 1}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.Len(t, resp["items"], 1)
}

func TestGetOrder_NotFound(t *testing.T) {
	r := setupRouter(&mockPayments{}, &mockCheckout{}, &mockOrders{err: apperrors.NotFound("Order not found")})

	w, resp := do(r, http.MethodGet, "/api/orders/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Order not found", resp["message"])
}

// ---- health ----

func TestHealth_Degraded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	hc := controllers.NewHealthController("storefront-checkout", map[string]controllers.Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	r.GET("/health", hc.Health)

	w, resp := do(r, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "ok", deps["postgres"])
}
