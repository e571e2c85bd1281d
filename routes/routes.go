package routes

import (
	"time"

	"github.com/mrugaya/storefront-backend/common/middleware"
	"github.com/mrugaya/storefront-backend/controllers"

	"github.com/gin-gonic/gin"
)

// Controllers groups the handlers mounted by RegisterRoutes.
type Controllers struct {
	Health   *controllers.HealthController
	Payment  *controllers.PaymentController
	Checkout *controllers.CheckoutController
	Order    *controllers.OrderController
}

// RegisterRoutes mounts the storefront API. Every route except the checkout
// completion relay gets requestTimeout; the relay waits on the checkout
// session instead.
func RegisterRoutes(r *gin.Engine, ctrl Controllers, requestTimeout time.Duration) {
	r.GET("/health", ctrl.Health.Health)

	relay := r.Group("/api/checkout/razorpay/:receipt")
	{
		relay.POST("/complete", ctrl.Checkout.CompleteRazorpay)
		relay.POST("/dismiss", ctrl.Checkout.DismissRazorpay)
	}

	api := r.Group("/api")
	api.Use(middleware.Timeout(requestTimeout))
	{
		// Gateway primitives
		api.POST("/create-order", ctrl.Payment.CreateOrder)
		api.POST("/verify-payment", ctrl.Payment.VerifyPayment)
		api.GET("/payment-status/:paymentId", ctrl.Payment.GetPaymentStatus)

		// Background verification
		api.POST("/payment-status/:paymentId/reconcile", ctrl.Payment.StartReconcile)
		api.GET("/payment-status/:paymentId/reconcile", ctrl.Payment.GetReconcileStatus)
		api.POST("/payment-status/:paymentId/recheck", ctrl.Payment.Recheck)
		api.POST("/payment-status/:paymentId/abort", ctrl.Payment.Abort)

		// Checkout
		api.POST("/cod-order", ctrl.Checkout.PlaceCODOrder)
		api.POST("/checkout/razorpay", ctrl.Checkout.BeginRazorpay)

		// Orders
		api.POST("/orders", ctrl.Order.CreateOrder)
		api.GET("/orders/:orderId", ctrl.Order.GetOrder)
	}
}
