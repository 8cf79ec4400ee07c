package api

import (
	"backend/internal/auth"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, db *gorm.DB, jwtService *auth.JWTService, handlers *Handlers) {
	// 支付回调（公开，不需要 JWT，服务内部验签）
	router.POST("/api/payment/notify", handlers.Payment.Notify)

	// 主 API 组
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(jwtService, db))
	registerAPIRoutes(api, handlers)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(jwtService, db))
	registerAPIRoutes(apiV1, handlers)
}

// registerAPIRoutes 注册需要认证的 API 路由
func registerAPIRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	// 计费系统
	registerBillingRoutes(apiGroup, h)

	// 积分账户
	registerCreditsRoutes(apiGroup, h)

	// 充值支付
	registerPaymentRoutes(apiGroup, h)
}

// registerBillingRoutes 定价规则与任务扣费
func registerBillingRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	billing := apiGroup.Group("/billing")
	{
		billing.POST("/resolve", h.Billing.ResolvePrice)
		billing.POST("/charge", h.Billing.Charge)

		billing.GET("/rules", h.Billing.ListRules)
		billing.POST("/rules", h.Billing.CreateRule)
		billing.PUT("/rules/:id", h.Billing.UpdateRule)
		billing.DELETE("/rules/:id", h.Billing.DeleteRule)
	}
}

// registerCreditsRoutes 积分账户与流水
func registerCreditsRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	credits := apiGroup.Group("/credits")
	{
		credits.GET("/balance", h.Credits.GetBalance)
		credits.GET("/check", h.Credits.Check)
		credits.POST("/grant", h.Credits.Grant)
		credits.GET("/transactions", h.Credits.ListTransactions)
	}
}

// registerPaymentRoutes 充值档位与支付订单
func registerPaymentRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	payment := apiGroup.Group("/payment")
	{
		payment.GET("/plans", h.Payment.ListPlans)
		payment.POST("/plans", h.Payment.CreatePlan)
		payment.DELETE("/plans/:id", h.Payment.DeactivatePlan)

		payment.GET("/quote", h.Payment.Quote)

		payment.POST("/orders", h.Payment.CreateOrder)
		payment.GET("/orders", h.Payment.ListOrders)
		payment.GET("/orders/:orderNo", h.Payment.GetOrder)
		payment.POST("/orders/:orderNo/payurl", h.Payment.RequestPayURL)
	}
}
