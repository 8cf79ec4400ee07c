package api

import (
	"os"
	"strings"

	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/credits"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/payment"
	"backend/internal/pricing"
	"backend/internal/worker"

	billingHandler "backend/api/handlers/billing"
	creditsHandler "backend/api/handlers/credits"
	paymentHandler "backend/api/handlers/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// Handlers API 处理器集合
type Handlers struct {
	Billing *billingHandler.Handler
	Credits *creditsHandler.Handler
	Payment *paymentHandler.Handler
}

// SetupRouter 构建 HTTP 路由与后台 Worker
// 服务在此处显式装配：账本是唯一写入余额的入口，支付服务持有账本引用以保证
// 订单终态与积分入账落在同一事务。
// 返回的队列客户端由 cmd/server 用于周期性投递对账扫描任务。
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server, queue.Client) {
	router := gin.New()

	// 初始化队列客户端
	queueClient := queue.NewClient(cfg.Redis)

	// 初始化认证服务
	jwtSecretKey := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecretKey == "" {
		jwtSecretKey = strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	}
	if jwtSecretKey == "" {
		// 生产模式必须显式配置密钥，防止使用弱默认值
		if strings.EqualFold(cfg.Server.Mode, "release") {
			logger.Fatal("JWT 密钥未配置，生产环境禁止使用默认密钥")
		}
		jwtSecretKey = "default_jwt_secret_key_change_in_production" // 本地/测试默认值
		logger.Warn("JWT 密钥未配置，已回退为开发默认值，请在生产环境设置强随机密钥")
	}
	issuer := cfg.Auth.Issuer
	if issuer == "" {
		issuer = "StoryboardLedger"
	}
	jwtService := auth.NewJWTService(jwtSecretKey, issuer)

	// 初始化核心服务
	pricingService := pricing.NewService(db)
	creditsService := credits.NewService(db)
	planService := payment.NewPlanService(db)
	gateway := payment.NewWechatGateway(&cfg.Payment)
	paymentService := payment.NewService(db, planService, creditsService, gateway, cfg.Payment.Provider, logger.Get())

	// 后台任务服务器：陈旧订单对账扫描
	workerServer := worker.NewServer(cfg.Redis, cfg.Worker, paymentService, logger.Get())

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(AccessLog())
	router.Use(CORS(&cfg.Server.CORS))

	// Prometheus 指标收集中间件
	router.Use(metrics.PrometheusMiddleware())

	// 公开端点（不需要认证）
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handlers := &Handlers{
		Billing: billingHandler.NewHandler(pricingService, creditsService),
		Credits: creditsHandler.NewHandler(creditsService),
		Payment: paymentHandler.NewHandler(paymentService, planService),
	}

	RegisterRoutes(router, db, jwtService, handlers)

	return router, workerServer, queueClient
}
