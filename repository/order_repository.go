package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrugaya/storefront-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	ErrStaleStatus    = errors.New("order status changed concurrently")
)

// OrderRepository defines data-access operations for orders.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus) error
	UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus) error
}

type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// Create inserts the order and its item snapshots in one transaction. An
// order id that already exists yields ErrDuplicateOrder and writes nothing.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Order{}).Where("order_id = ?", order.OrderID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateOrder
		}

		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("insert order: %w", err)
		}
		if len(order.Items) == 0 {
			return nil
		}

		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		if err := tx.Create(&order.Items).Error; err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

func (r *GormOrderRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return r.findOne(ctx, "order_id = ?", orderID)
}

func (r *GormOrderRepository) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return r.findOne(ctx, "gateway_payment_id = ?", paymentID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where(query, arg).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdatePaymentStatus moves the payment status forward. Setting the current
// status again is a no-op.
func (r *GormOrderRepository) UpdatePaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "payment_status").
			Where("order_id = ?", orderID).
			First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.PaymentStatus == to {
			return nil
		}
		if !models.CanTransitionPayment(o.PaymentStatus, to) {
			return fmt.Errorf("%w: payment %s -> %s", models.ErrInvalidTransition, o.PaymentStatus, to)
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND payment_status = ?", o.ID, o.PaymentStatus).
			Update("payment_status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		return nil
	})
}

// UpdateOrderStatus moves the fulfilment status forward.
func (r *GormOrderRepository) UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "order_status").
			Where("order_id = ?", orderID).
			First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.OrderStatus == to {
			return nil
		}
		if !models.CanTransitionOrder(o.OrderStatus, to) {
			return fmt.Errorf("%w: order %s -> %s", models.ErrInvalidTransition, o.OrderStatus, to)
		}

		res := tx.Model(&models.Order{}).
			Where("id = ? AND order_status = ?", o.ID, o.OrderStatus).
			Update("order_status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		return nil
	})
}
