package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 结算指标
var (
	// DebitsTotal 积分扣减总数
	DebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_credit_debits_total",
			Help: "积分扣减总数",
		},
		[]string{"task_type", "result"}, // result: ok, insufficient, error
	)

	// OrdersCreatedTotal 充值订单创建总数
	OrdersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_payment_orders_created_total",
			Help: "充值订单创建总数",
		},
		[]string{"provider", "result"}, // result: ok, gateway_error
	)

	// OrdersSettledTotal 订单终态迁移总数
	OrdersSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_payment_orders_settled_total",
			Help: "订单进入终态的总数",
		},
		[]string{"status", "source"}, // source: notify, poll, sweep
	)

	// DuplicateNotificationsTotal 重复支付通知总数（幂等早退）
	DuplicateNotificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyboard_payment_duplicate_notifications_total",
			Help: "对终态订单的重复通知/查询次数",
		},
	)

	// VerificationFailuresTotal 通知验签失败总数
	VerificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyboard_payment_verification_failures_total",
			Help: "支付通知验签失败次数",
		},
	)

	// InconsistentOrdersRepaired 对账修复的不一致订单数
	InconsistentOrdersRepaired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storyboard_payment_inconsistent_orders_repaired_total",
			Help: "对账任务补发积分的订单数",
		},
	)
)
