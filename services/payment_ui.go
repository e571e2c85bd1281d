package services

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"
)

const (
	storeDisplayName = "मृगया - Mrugaya Jewelry"
	widgetThemeColor = "#DC2626"
)

type WidgetPrefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

type WidgetTheme struct {
	Color string `json:"color"`
}

// WidgetOptions is handed to the browser to open the hosted checkout. It
// carries only the public key id.
type WidgetOptions struct {
	Key         string                 `json:"key"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	OrderID     string                 `json:"order_id"`
	Prefill     WidgetPrefill          `json:"prefill"`
	Notes       map[string]string      `json:"notes"`
	Theme       WidgetTheme            `json:"theme"`
	Method      map[string]interface{} `json:"method"`
}

// WidgetRequest describes the checkout the widget should present.
type WidgetRequest struct {
	Order      *models.GatewayOrder
	Receipt    string
	Customer   *models.CustomerInfo
	Preference string
	ItemCount  int
}

// PaymentUI presents the gateway checkout to the customer and reports back
// through a PendingPayment.
type PaymentUI interface {
	Open(ctx context.Context, req WidgetRequest) (*PendingPayment, WidgetOptions, error)
}

// PendingPayment resolves exactly once, with either the widget's success
// tuple or a dismissal.
type PendingPayment struct {
	once     sync.Once
	done     chan struct{}
	callback *models.PaymentCallback
}

func newPendingPayment() *PendingPayment {
	return &PendingPayment{done: make(chan struct{})}
}

// Done is closed once the payment has been resolved.
func (p *PendingPayment) Done() <-chan struct{} { return p.done }

func (p *PendingPayment) resolve(cb *models.PaymentCallback) bool {
	resolved := false
	p.once.Do(func() {
		p.callback = cb
		close(p.done)
		resolved = true
	})
	return resolved
}

// Await blocks until the widget reports back or ctx ends. A dismissal is
// returned as a UserCancelled error.
func (p *PendingPayment) Await(ctx context.Context) (*models.PaymentCallback, error) {
	select {
	case <-p.done:
		if p.callback == nil {
			return nil, apperrors.UserCancelled()
		}
		return p.callback, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WidgetBroker is the PaymentUI for the browser-hosted Razorpay widget. The
// browser relays the widget's handler and ondismiss callbacks to Complete and
// Dismiss.
type WidgetBroker struct {
	keyID string

	mu       sync.Mutex
	sessions map[string]*PendingPayment
}

func NewWidgetBroker(keyID string) *WidgetBroker {
	return &WidgetBroker{keyID: keyID, sessions: make(map[string]*PendingPayment)}
}

// MethodRestriction maps the customer's preferred method onto the widget's
// method block. An empty preference means UPI.
func MethodRestriction(preference string) (map[string]interface{}, error) {
	switch preference {
	case "", "upi":
		return map[string]interface{}{"upi": true}, nil
	case "card", "netbanking", "wallet":
		return map[string]interface{}{preference: true}, nil
	case "phonepe", "googlepay":
		return map[string]interface{}{"upi": true, "wallet": []string{preference}}, nil
	default:
		return nil, apperrors.Validation(fmt.Sprintf("Unsupported payment method %q", preference))
	}
}

func (b *WidgetBroker) Open(ctx context.Context, req WidgetRequest) (*PendingPayment, WidgetOptions, error) {
	if req.Order == nil || req.Receipt == "" {
		return nil, WidgetOptions{}, apperrors.Validation("Gateway order is required")
	}
	if !req.Customer.Complete() {
		return nil, WidgetOptions{}, apperrors.Validation("Customer information is required")
	}
	method, err := MethodRestriction(req.Preference)
	if err != nil {
		return nil, WidgetOptions{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, WidgetOptions{}, err
	}

	opts := WidgetOptions{
		Key:         b.keyID,
		Amount:      req.Order.Amount,
		Currency:    req.Order.Currency,
		Name:        storeDisplayName,
		Description: fmt.Sprintf("Payment for %d jewelry item(s)", req.ItemCount),
		OrderID:     req.Order.ID,
		Prefill: WidgetPrefill{
			Name:    req.Customer.Name,
			Email:   req.Customer.Email,
			Contact: req.Customer.Phone,
		},
		Notes:  map[string]string{"address": req.Customer.Address},
		Theme:  WidgetTheme{Color: widgetThemeColor},
		Method: method,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.sessions[req.Receipt]; exists {
		return nil, WidgetOptions{}, apperrors.Conflict("Checkout session already open")
	}
	pending := newPendingPayment()
	b.sessions[req.Receipt] = pending
	return pending, opts, nil
}

// Complete relays the widget's success handler.
func (b *WidgetBroker) Complete(receipt string, cb models.PaymentCallback) error {
	return b.resolve(receipt, &cb)
}

// Dismiss relays the widget's ondismiss hook.
func (b *WidgetBroker) Dismiss(receipt string) error {
	return b.resolve(receipt, nil)
}

func (b *WidgetBroker) resolve(receipt string, cb *models.PaymentCallback) error {
	b.mu.Lock()
	pending, ok := b.sessions[receipt]
	delete(b.sessions, receipt)
	b.mu.Unlock()

	if !ok {
		return apperrors.NotFound("Checkout session not found")
	}
	pending.resolve(cb)
	return nil
}

// Forget drops a session whose waiter has gone away.
func (b *WidgetBroker) Forget(receipt string) {
	b.mu.Lock()
	delete(b.sessions, receipt)
	b.mu.Unlock()
}
