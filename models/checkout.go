package models

import "strings"

type CustomerInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Complete reports whether every customer field is present.
func (c *CustomerInfo) Complete() bool {
	return c != nil &&
		strings.TrimSpace(c.Name) != "" &&
		strings.TrimSpace(c.Email) != "" &&
		strings.TrimSpace(c.Phone) != "" &&
		strings.TrimSpace(c.Address) != ""
}

// CartItem is a line of the customer's cart as sent by the storefront.
type CartItem struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Image    string  `json:"image,omitempty"`
}

// Snapshot converts the cart line into an immutable order item.
func (c CartItem) Snapshot() OrderItem {
	item := OrderItem{
		ProductID:   c.ID,
		ProductName: c.Name,
		Quantity:    c.Quantity,
		UnitPrice:   c.Price,
		TotalPrice:  c.Price * float64(c.Quantity),
	}
	if c.Image != "" {
		img := c.Image
		item.ProductImage = &img
	}
	return item
}

type CODOrderRequest struct {
	Amount       float64       `json:"amount"`
	CustomerInfo *CustomerInfo `json:"customerInfo"`
	Items        []CartItem    `json:"items"`
}

type CODOrderResponse struct {
	OrderID           string  `json:"orderId"`
	Amount            float64 `json:"amount"`
	HandlingFee       float64 `json:"handlingFee"`
	TotalAmount       float64 `json:"totalAmount"`
	EstimatedDelivery string  `json:"estimatedDelivery"`
	Status            string  `json:"status"`
}

type CreateGatewayOrderRequest struct {
	Amount       float64       `json:"amount"`
	Currency     string        `json:"currency"`
	Receipt      string        `json:"receipt"`
	CustomerInfo *CustomerInfo `json:"customerInfo"`
	Items        []CartItem    `json:"items"`
}

// GatewayCheckoutRequest starts an online checkout. Preference selects the
// widget method restriction (upi, card, netbanking, wallet, phonepe, googlepay).
type GatewayCheckoutRequest struct {
	Amount       float64       `json:"amount"`
	CustomerInfo *CustomerInfo `json:"customerInfo"`
	Items        []CartItem    `json:"items"`
	Preference   string        `json:"paymentMethod"`
}

// CreateOrderRequest records an order directly. Statuses are decided by the
// server; a razorpay order is only stored as paid when Payment carries a
// signature that verifies.
type CreateOrderRequest struct {
	Order   Order            `json:"order"`
	Items   []OrderItem      `json:"items"`
	Payment *PaymentCallback `json:"payment,omitempty"`
}
