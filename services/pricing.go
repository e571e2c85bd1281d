package services

import (
	"math"
	"time"

	"github.com/mrugaya/storefront-backend/models"
)

const (
	codFeePercent = 2
	codMinimumFee = 50.0
	deliveryDays  = 8

	// DeliveryDateLayout renders dates in the storefront's long form,
	// e.g. "Friday, 23 October 2026".
	DeliveryDateLayout = "Monday, 2 January 2006"
)

// Pricing is the customer-facing breakdown of an order total.
type Pricing struct {
	Subtotal          float64
	HandlingFee       float64
	TotalAmount       float64
	EstimatedDelivery string
}

// ComputePricing prices an order for the given payment method. COD carries a
// handling fee of 2% of the subtotal, rounded half-up to whole rupees, with a
// floor of 50. Delivery is estimated 8 calendar days from now.
func ComputePricing(subtotal float64, method models.PaymentMethod, now time.Time) Pricing {
	fee := 0.0
	if method == models.PaymentMethodCOD {
		fee = math.Max(codMinimumFee, math.Floor(subtotal*codFeePercent/100+0.5))
	}
	return Pricing{
		Subtotal:          subtotal,
		HandlingFee:       fee,
		TotalAmount:       subtotal + fee,
		EstimatedDelivery: now.AddDate(0, 0, deliveryDays).Format(DeliveryDateLayout),
	}
}

// SumItems totals cart lines at their listed price.
func SumItems(items []models.CartItem) float64 {
	total := 0.0
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}
