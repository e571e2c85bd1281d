package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentMethod string

const (
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodCOD      PaymentMethod = "cod"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

type OrderStatus string

const (
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

const CurrencyINR = "INR"

var (
	ErrInvalidTotal      = errors.New("total amount must equal subtotal plus handling fee")
	ErrMissingCustomer   = errors.New("customer name, email, phone and address are required")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Order is a placed storefront order. OrderID is the public id: "COD-..." for
// cash on delivery or the gateway receipt "MRG_..." for online payments.
type Order struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID          string         `gorm:"uniqueIndex;not null" json:"orderId"`
	UserID           *string        `gorm:"index" json:"userId,omitempty"`
	CustomerName     string         `gorm:"not null" json:"customerName"`
	CustomerEmail    string         `gorm:"not null" json:"customerEmail"`
	CustomerPhone    string         `gorm:"not null" json:"customerPhone"`
	CustomerAddress  string         `gorm:"not null" json:"customerAddress"`
	Subtotal         float64        `gorm:"type:numeric(10,2);not null" json:"subtotal"`
	HandlingFee      float64        `gorm:"type:numeric(10,2);not null;default:0" json:"handlingFee"`
	TotalAmount      float64        `gorm:"type:numeric(10,2);not null" json:"totalAmount"`
	Currency         string         `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`
	PaymentMethod    PaymentMethod  `gorm:"type:varchar(20);not null" json:"paymentMethod"`
	PaymentStatus    PaymentStatus  `gorm:"type:varchar(20);not null;default:'pending'" json:"paymentStatus"`
	OrderStatus      OrderStatus    `gorm:"type:varchar(20);not null;default:'confirmed'" json:"orderStatus"`
	GatewayOrderID   *string        `gorm:"index" json:"razorpayOrderId,omitempty"`
	GatewayPaymentID *string        `gorm:"uniqueIndex" json:"razorpayPaymentId,omitempty"`
	Notes            *string        `json:"notes,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	Items            []OrderItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// OrderItem snapshots a product at purchase time. It is never updated.
type OrderItem struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID `gorm:"type:uuid;not null;index" json:"orderId"`
	ProductID    int       `gorm:"not null" json:"productId"`
	ProductName  string    `gorm:"not null" json:"productName"`
	ProductImage *string   `json:"productImage,omitempty"`
	Quantity     int       `gorm:"not null" json:"quantity"`
	UnitPrice    float64   `gorm:"type:numeric(10,2);not null" json:"unitPrice"`
	TotalPrice   float64   `gorm:"type:numeric(10,2);not null" json:"totalPrice"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// Validate checks the invariants every persisted order must hold.
func (o *Order) Validate() error {
	if o.OrderID == "" {
		return errors.New("order id is required")
	}
	if o.CustomerName == "" || o.CustomerEmail == "" || o.CustomerPhone == "" || o.CustomerAddress == "" {
		return ErrMissingCustomer
	}
	if o.PaymentMethod != PaymentMethodRazorpay && o.PaymentMethod != PaymentMethodCOD {
		return fmt.Errorf("unknown payment method %q", o.PaymentMethod)
	}
	if o.Subtotal < 0 || o.HandlingFee < 0 {
		return errors.New("amounts must not be negative")
	}
	if !moneyEqual(o.TotalAmount, o.Subtotal+o.HandlingFee) {
		return ErrInvalidTotal
	}
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
		if it.ProductName == "" {
			return fmt.Errorf("item %d: product name is required", i)
		}
	}
	return nil
}

// moneyEqual compares two rupee amounts at paise precision.
func moneyEqual(a, b float64) bool {
	return math.Round(a*100) == math.Round(b*100)
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusConfirmed, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransitionPayment reports whether a payment status may move from one
// value to another. Completed, failed and cancelled are terminal.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionOrder reports whether an order status may move from one value
// to another. Delivered and cancelled are terminal. Processing may become
// confirmed once a COD order is accepted by the store.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further payment transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}
