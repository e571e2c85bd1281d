package services

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"

	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

// GatewayOrderRequest carries a major-unit amount; the client converts it.
type GatewayOrderRequest struct {
	Amount   float64
	Currency string
	Receipt  string
	Customer *models.CustomerInfo
	Notes    map[string]string
}

// GatewayClient talks to the hosted payment gateway.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*models.GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
}

// razorpayOrders and razorpayPayments are the slices of the razorpay-go
// client used here, so tests can swap them.
type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPayments interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayGateway struct {
	orders   razorpayOrders
	payments razorpayPayments
	logger   *zap.Logger
}

func NewRazorpayGateway(keyID, keySecret string, logger *zap.Logger) *RazorpayGateway {
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayGateway{orders: client.Order, payments: client.Payment, logger: logger}
}

// ToMinorUnits converts rupees to paise, rounding to the nearest paisa.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateOrder registers a capture-on-success order with the gateway.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*models.GatewayOrder, error) {
	if req.Amount <= 0 {
		return nil, apperrors.Validation("Amount must be greater than zero")
	}
	if req.Currency == "" {
		req.Currency = models.CurrencyINR
	}
	if req.Receipt == "" {
		req.Receipt = fmt.Sprintf("receipt_%d", time.Now().UnixMilli())
	}

	notes := map[string]interface{}{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	if req.Customer != nil {
		notes["customer_name"] = req.Customer.Name
		notes["customer_email"] = req.Customer.Email
		notes["customer_phone"] = req.Customer.Phone
	}

	data := map[string]interface{}{
		"amount":          ToMinorUnits(req.Amount),
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
		"notes":           notes,
	}

	// razorpay-go has no context support; honour cancellation before the call.
	if err := ctx.Err(); err != nil {
		return nil, apperrors.OrderCreation(err)
	}

	resp, err := g.orders.Create(data, nil)
	if err != nil {
		g.logger.Error("razorpay order create failed", zap.String("receipt", req.Receipt), zap.Error(err))
		return nil, apperrors.OrderCreation(err)
	}

	order, err := parseGatewayOrder(resp)
	if err != nil {
		g.logger.Error("razorpay order response malformed", zap.String("receipt", req.Receipt), zap.Error(err))
		return nil, apperrors.OrderCreation(err)
	}

	g.logger.Info("gateway order created",
		zap.String("gateway_order_id", order.ID),
		zap.String("receipt", order.Receipt),
		zap.Int64("amount", order.Amount),
	)
	return order, nil
}

// FetchPayment returns the current state of a payment attempt.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, apperrors.Validation("Payment ID is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := g.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return parseGatewayPayment(resp)
}

func parseGatewayOrder(resp map[string]interface{}) (*models.GatewayOrder, error) {
	id, _ := resp["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("order response has no id")
	}
	amount, ok := asInt64(resp["amount"])
	if !ok {
		return nil, fmt.Errorf("order %s: amount missing", id)
	}
	currency, _ := resp["currency"].(string)
	receipt, _ := resp["receipt"].(string)
	status, _ := resp["status"].(string)
	return &models.GatewayOrder{ID: id, Amount: amount, Currency: currency, Receipt: receipt, Status: status}, nil
}

func parseGatewayPayment(resp map[string]interface{}) (*models.GatewayPayment, error) {
	id, _ := resp["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("payment response has no id")
	}
	status, _ := resp["status"].(string)
	amount, _ := asInt64(resp["amount"])
	p := &models.GatewayPayment{
		ID:     id,
		Status: models.GatewayPaymentStatus(status),
		Amount: amount,
	}
	p.OrderID, _ = resp["order_id"].(string)
	p.Currency, _ = resp["currency"].(string)
	p.Method, _ = resp["method"].(string)
	p.Captured, _ = resp["captured"].(bool)
	return p, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

const receiptAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = receiptAlphabet[rand.IntN(len(receiptAlphabet))]
	}
	return string(b)
}

// NewReceipt returns "<prefix>_<unix millis>_<9 random base36 chars>".
func NewReceipt(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), randomBase36(9))
}

// NewCODOrderID returns "COD-<unix millis>-<9 upper-case base36 chars>".
func NewCODOrderID(now time.Time) string {
	return fmt.Sprintf("COD-%d-%s", now.UnixMilli(), strings.ToUpper(randomBase36(9)))
}
