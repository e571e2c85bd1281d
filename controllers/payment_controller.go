package controllers

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/mrugaya/storefront-backend/common/errors"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentAPI is the slice of services.PaymentService the handlers need.
type PaymentAPI interface {
	CreateOrder(ctx context.Context, req models.CreateGatewayOrderRequest) (*models.GatewayOrder, error)
	VerifyPayment(cb models.PaymentCallback) error
	PaymentStatus(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
	StartReconcile(paymentID string) error
	ReconcileStatus(paymentID string) (services.ReconcileStatus, error)
	Recheck(paymentID string) error
	Abort(paymentID string) error
}

type PaymentController struct {
	payments PaymentAPI
	logger   *zap.Logger
}

func NewPaymentController(payments PaymentAPI, logger *zap.Logger) *PaymentController {
	return &PaymentController{payments: payments, logger: logger}
}

// CreateOrder handles POST /api/create-order
func (pc *PaymentController) CreateOrder(c *gin.Context) {
	var req models.CreateGatewayOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	order, err := pc.payments.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, pc.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": gin.H{
		"id":       order.ID,
		"amount":   order.Amount,
		"currency": order.Currency,
		"receipt":  order.Receipt,
		"status":   order.Status,
	}})
}

// VerifyPayment handles POST /api/verify-payment
func (pc *PaymentController) VerifyPayment(c *gin.Context) {
	var cb models.PaymentCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Missing payment details", "verified": false})
		return
	}

	if err := pc.payments.VerifyPayment(cb); err != nil {
		if errors.Is(err, apperrors.ErrVerificationMismatch) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid signature", "verified": false})
			return
		}
		respondError(c, pc.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Payment verified successfully", "verified": true})
}

// GetPaymentStatus handles GET /api/payment-status/:paymentId
func (pc *PaymentController) GetPaymentStatus(c *gin.Context) {
	p, err := pc.payments.PaymentStatus(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		respondError(c, pc.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment": gin.H{
		"id":       p.ID,
		"status":   p.Status,
		"amount":   p.Amount,
		"currency": p.Currency,
		"method":   p.Method,
		"captured": p.Captured,
	}})
}

// StartReconcile handles POST /api/payment-status/:paymentId/reconcile
func (pc *PaymentController) StartReconcile(c *gin.Context) {
	id := c.Param("paymentId")
	if err := pc.payments.StartReconcile(id); err != nil {
		respondError(c, pc.logger, err)
		return
	}
	pc.respondStatus(c, http.StatusAccepted, id)
}

// GetReconcileStatus handles GET /api/payment-status/:paymentId/reconcile
func (pc *PaymentController) GetReconcileStatus(c *gin.Context) {
	pc.respondStatus(c, http.StatusOK, c.Param("paymentId"))
}

// Recheck handles POST /api/payment-status/:paymentId/recheck
func (pc *PaymentController) Recheck(c *gin.Context) {
	id := c.Param("paymentId")
	if err := pc.payments.Recheck(id); err != nil {
		respondError(c, pc.logger, err)
		return
	}
	pc.respondStatus(c, http.StatusAccepted, id)
}

// Abort handles POST /api/payment-status/:paymentId/abort
func (pc *PaymentController) Abort(c *gin.Context) {
	id := c.Param("paymentId")
	if err := pc.payments.Abort(id); err != nil {
		respondError(c, pc.logger, err)
		return
	}
	pc.respondStatus(c, http.StatusAccepted, id)
}

func (pc *PaymentController) respondStatus(c *gin.Context, code int, paymentID string) {
	st, err := pc.payments.ReconcileStatus(paymentID)
	if err != nil {
		respondError(c, pc.logger, err)
		return
	}
	c.JSON(code, gin.H{"success": true, "verification": st})
}
