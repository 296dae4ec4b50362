// Package front registers the user-facing API routes.
package front

import (
	relayhttp "github.com/ai-friend-coming/chatledger/internal/http"
	"github.com/ai-friend-coming/chatledger/internal/http/api/front/handlers"
	"github.com/ai-friend-coming/chatledger/internal/payment"
	"github.com/ai-friend-coming/chatledger/internal/promo"
	"github.com/ai-friend-coming/chatledger/internal/settings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers the authenticated front-end routes. The
// host application authenticates users and forwards their id in a header.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, paymentSvc *payment.Service, promoSvc *promo.Service, settingsSvc *settings.Service) {
	if r == nil || db == nil {
		return
	}

	front := r.Group("/v0/front")
	front.Use(relayhttp.UserIdentityMiddleware())

	billingHandler := handlers.NewBillingHandler(db)
	front.GET("/balance", billingHandler.Balance)
	front.GET("/billing-logs", billingHandler.Logs)

	promoHandler := handlers.NewPromoHandler(promoSvc)
	front.POST("/redeem", promoHandler.Redeem)
	front.POST("/sign-in", promoHandler.SignIn)

	orderHandler := handlers.NewOrderHandler(paymentSvc, settingsSvc)
	front.GET("/recharge-tiers", orderHandler.Tiers)
	front.POST("/orders", orderHandler.Create)
	front.GET("/orders/:outTradeNo", orderHandler.Get)
}
