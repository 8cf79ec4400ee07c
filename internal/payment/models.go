package payment

import (
	"time"
)

// OrderStatus 支付订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"  // 待支付（唯一非终态）
	OrderStatusSuccess  OrderStatus = "SUCCESS"  // 支付成功
	OrderStatusClosed   OrderStatus = "CLOSED"   // 已关闭
	OrderStatusRevoked  OrderStatus = "REVOKED"  // 已撤销
	OrderStatusRefund   OrderStatus = "REFUND"   // 已退款
	OrderStatusPayError OrderStatus = "PAYERROR" // 支付失败
	OrderStatusNotPay   OrderStatus = "NOTPAY"   // 未支付关单
)

// IsTerminal 是否终态，终态订单不再发生任何状态迁移
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending && s != ""
}

// PaymentOrder 支付订单
// order_no 是调用方生成的幂等键；paid_at 仅在 PENDING→SUCCESS 迁移时写入一次。
type PaymentOrder struct {
	ID        string      `json:"id" gorm:"primaryKey;type:uuid"`
	OrderNo   string      `json:"orderNo" gorm:"size:64;not null;uniqueIndex:idx_payment_order_no"`
	UserID    string      `json:"userId" gorm:"type:uuid;not null;index:idx_payment_order_user"`
	Amount    int64       `json:"amount" gorm:"not null"`  // 充值金额（货币单位）
	Credits   int64       `json:"credits" gorm:"not null"` // 下单时按档位预计算的积分数
	Status    OrderStatus `json:"status" gorm:"size:20;not null;default:'PENDING';index"`
	PayURL    string      `json:"payUrl" gorm:"size:512"` // 网关返回的付款链接，创建失败时为空
	Provider  string      `json:"provider" gorm:"size:32;not null"`
	PaidAt    *time.Time  `json:"paidAt"`
	CreatedAt time.Time   `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time   `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// RechargePlan 充值档位
// [min_amount, max_amount] 为闭区间，启用档位之间不允许重叠。
type RechargePlan struct {
	ID         string    `json:"id" gorm:"primaryKey;type:uuid"`
	MinAmount  int64     `json:"minAmount" gorm:"not null"`
	MaxAmount  int64     `json:"maxAmount" gorm:"not null"`
	CreditRate int64     `json:"creditRate" gorm:"not null"` // 每货币单位兑换积分数
	Bonus      int64     `json:"bonus" gorm:"not null;default:0"`
	IsActive   bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// CreditQuote 充值积分报价
type CreditQuote struct {
	Credits int64 `json:"credits"` // amount * credit_rate
	Bonus   int64 `json:"bonus"`
	Total   int64 `json:"total"` // credits + bonus
}

// CreatePlanRequest 创建充值档位请求
type CreatePlanRequest struct {
	MinAmount  int64 `json:"minAmount" binding:"required,gt=0"`
	MaxAmount  int64 `json:"maxAmount" binding:"required,gt=0"`
	CreditRate int64 `json:"creditRate" binding:"required,gt=0"`
	Bonus      int64 `json:"bonus" binding:"gte=0"`
}

// CreateOrderRequest 创建充值订单请求
type CreateOrderRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// CreateOrderResult 创建订单结果
// 网关暂不可用时订单仍会落库（PayURL 为空），GatewayErr 提示调用方稍后重取付款链接。
type CreateOrderResult struct {
	Order      *PaymentOrder `json:"order"`
	Quote      *CreditQuote  `json:"quote"`
	GatewayErr error         `json:"-"`
}
