package pricing

import (
	"time"
)

// UnitType 计价方式
type UnitType string

const (
	UnitTypePerCall UnitType = "per_call" // 按次计价
	UnitTypePerUnit UnitType = "per_unit" // 按用量计价（token 等）
)

// PricingRule 定价规则
// 匹配优先级: (provider, model) 精确匹配 > (provider, "") > ("", "") 默认规则
type PricingRule struct {
	ID         string    `json:"id" gorm:"primaryKey;type:uuid"`
	Provider   string    `json:"provider" gorm:"size:50;index:idx_pricing_rule_match"` // openai, anthropic 等，空串表示通配
	Model      string    `json:"model" gorm:"size:100;index:idx_pricing_rule_match"`   // gpt-4 等，空串表示通配
	TaskType   string    `json:"taskType" gorm:"size:50;not null;index:idx_pricing_rule_match"`
	UnitType   UnitType  `json:"unitType" gorm:"size:20;not null;default:'per_call'"`
	Cost       int64     `json:"cost" gorm:"not null;default:0"`              // 按次计价的固定积分
	CostInput  float64   `json:"costInput" gorm:"type:decimal(10,6)"`         // 每输入单位积分
	CostOutput float64   `json:"costOutput" gorm:"type:decimal(10,6)"`        // 每输出单位积分
	IsActive   bool      `json:"isActive" gorm:"default:true;index"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// Usage 用量计数，按用量计价时提供
type Usage struct {
	InputUnits  int64 `json:"inputUnits"`
	OutputUnits int64 `json:"outputUnits"`
}

// CreateRuleRequest 创建定价规则请求
type CreateRuleRequest struct {
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	TaskType   string   `json:"taskType" binding:"required"`
	UnitType   UnitType `json:"unitType"`
	Cost       int64    `json:"cost"`
	CostInput  float64  `json:"costInput"`
	CostOutput float64  `json:"costOutput"`
}

// UpdateRuleRequest 更新定价规则请求
type UpdateRuleRequest struct {
	Cost       *int64   `json:"cost"`
	CostInput  *float64 `json:"costInput"`
	CostOutput *float64 `json:"costOutput"`
	IsActive   *bool    `json:"isActive"`
}
