package controllers

import (
	"context"
	"net/http"

	"github.com/mrugaya/storefront-backend/common/middleware"
	"github.com/mrugaya/storefront-backend/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderAPI interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest, userID string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type OrderController struct {
	orders OrderAPI
	logger *zap.Logger
}

func NewOrderController(orders OrderAPI, logger *zap.Logger) *OrderController {
	return &OrderController{orders: orders, logger: logger}
}

// CreateOrder handles POST /api/orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid data")
		return
	}

	order, err := oc.orders.CreateOrder(c.Request.Context(), req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order, "items": order.Items})
}

// GetOrder handles GET /api/orders/:orderId
func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}
