package models

// GatewayOrder is the gateway's server-side intent to collect a payment.
// Amount is in minor units (paise).
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status,omitempty"`
}

type GatewayPaymentStatus string

const (
	GatewayPaymentCreated    GatewayPaymentStatus = "created"
	GatewayPaymentAuthorized GatewayPaymentStatus = "authorized"
	GatewayPaymentCaptured   GatewayPaymentStatus = "captured"
	GatewayPaymentFailed     GatewayPaymentStatus = "failed"
)

// GatewayPayment is a read-only snapshot of a payment attempt.
type GatewayPayment struct {
	ID       string               `json:"id"`
	OrderID  string               `json:"order_id,omitempty"`
	Status   GatewayPaymentStatus `json:"status"`
	Amount   int64                `json:"amount"`
	Currency string               `json:"currency"`
	Method   string               `json:"method"`
	Captured bool                 `json:"captured"`
}

// IsSuccessful reports a captured or authorized payment.
func (p *GatewayPayment) IsSuccessful() bool {
	return p.Status == GatewayPaymentCaptured || p.Status == GatewayPaymentAuthorized
}

// PaymentCallback is what the hosted widget hands back on success.
type PaymentCallback struct {
	RazorpayOrderID   string `json:"razorpay_order_id" binding:"required"`
	RazorpayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	RazorpaySignature string `json:"razorpay_signature" binding:"required"`
}
