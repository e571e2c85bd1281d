package controllers

import (
	"context"
	"net/http"

	"github.com/mrugaya/storefront-backend/common/middleware"
	"github.com/mrugaya/storefront-backend/models"
	"github.com/mrugaya/storefront-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckoutAPI is implemented by services.CheckoutService.
type CheckoutAPI interface {
	CheckoutCOD(ctx context.Context, req models.CODOrderRequest, opts services.CheckoutOptions) (*models.CODOrderResponse, error)
	BeginGatewayCheckout(ctx context.Context, req models.GatewayCheckoutRequest, opts services.CheckoutOptions) (*services.GatewaySession, error)
	CompleteGatewayCheckout(ctx context.Context, receipt string, cb models.PaymentCallback) (*services.CheckoutOutcome, error)
	CancelGatewayCheckout(ctx context.Context, receipt string) (*services.CheckoutOutcome, error)
}

type CheckoutController struct {
	checkout CheckoutAPI
	logger   *zap.Logger
}

func NewCheckoutController(checkout CheckoutAPI, logger *zap.Logger) *CheckoutController {
	return &CheckoutController{checkout: checkout, logger: logger}
}

func checkoutOptions(c *gin.Context) services.CheckoutOptions {
	return services.CheckoutOptions{
		UserID:         middleware.GetUserID(c),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	}
}

// PlaceCODOrder handles POST /api/cod-order
func (cc *CheckoutController) PlaceCODOrder(c *gin.Context) {
	var req models.CODOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	resp, err := cc.checkout.CheckoutCOD(c.Request.Context(), req, checkoutOptions(c))
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": resp})
}

// BeginRazorpay handles POST /api/checkout/razorpay
func (cc *CheckoutController) BeginRazorpay(c *gin.Context) {
	var req models.GatewayCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	session, err := cc.checkout.BeginGatewayCheckout(c.Request.Context(), req, checkoutOptions(c))
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}
	status := http.StatusCreated
	if session.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"success": true, "session": session})
}

// CompleteRazorpay handles POST /api/checkout/razorpay/:receipt/complete
func (cc *CheckoutController) CompleteRazorpay(c *gin.Context) {
	var cb models.PaymentCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		badRequest(c, "Missing payment details")
		return
	}

	outcome, err := cc.checkout.CompleteGatewayCheckout(c.Request.Context(), c.Param("receipt"), cb)
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// DismissRazorpay handles POST /api/checkout/razorpay/:receipt/dismiss
func (cc *CheckoutController) DismissRazorpay(c *gin.Context) {
	outcome, err := cc.checkout.CancelGatewayCheckout(c.Request.Context(), c.Param("receipt"))
	if err != nil {
		respondError(c, cc.logger, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
