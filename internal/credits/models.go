package credits

import (
	"time"

	"gorm.io/datatypes"
)

// CreditAccount 积分账户
// 余额只允许通过本包的 Debit/Credit 修改，禁止其它组件直接写。
type CreditAccount struct {
	ID         string    `json:"id" gorm:"primaryKey;type:uuid"`
	UserID     string    `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_credit_account_user"`
	Balance    int64     `json:"balance" gorm:"not null;default:0"`    // 当前余额，不允许为负
	TotalUsed  int64     `json:"totalUsed" gorm:"not null;default:0"`  // 累计消耗
	TotalAdded int64     `json:"totalAdded" gorm:"not null;default:0"` // 累计入账
	CreatedAt  time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// CreditTransaction 积分流水（只追加，不修改）
// 同一用户按创建顺序的 balance_after 序列必须与 amount 累加一致，可整体回放审计。
type CreditTransaction struct {
	ID            string `json:"id" gorm:"primaryKey;type:uuid"`
	UserID        string `json:"userId" gorm:"type:uuid;not null;index:idx_credit_tx_user"`
	AccountID     string `json:"accountId" gorm:"type:uuid;not null;index"`
	Amount        int64  `json:"amount" gorm:"not null"`        // 变动金额，负数扣减，正数入账
	BalanceBefore int64  `json:"balanceBefore" gorm:"not null"` // 变动前余额
	BalanceAfter  int64  `json:"balanceAfter" gorm:"not null"`  // 变动后余额

	// 业务上下文
	TaskType    string `json:"taskType" gorm:"size:50;index"`
	Provider    string `json:"provider" gorm:"size:50"`
	Model       string `json:"model" gorm:"size:100"`
	ReferenceID string `json:"referenceId" gorm:"size:64;index:idx_credit_tx_ref"` // 调用方幂等键（如订单号）

	Details     datatypes.JSONMap `json:"details" gorm:"type:jsonb"` // 自由上下文
	Description string            `json:"description" gorm:"size:500"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index:idx_credit_tx_time"`
}

// DebitRequest 扣减请求
type DebitRequest struct {
	UserID      string                 `json:"userId"`
	Amount      int64                  `json:"amount" binding:"required,gt=0"`
	TaskType    string                 `json:"taskType"`
	Provider    string                 `json:"provider"`
	Model       string                 `json:"model"`
	ReferenceID string                 `json:"referenceId"` // 可重试调用必须携带幂等键
	Details     map[string]interface{} `json:"details"`
	Description string                 `json:"description"`
}

// CreditRequest 入账请求
type CreditRequest struct {
	UserID      string                 `json:"userId"`
	Amount      int64                  `json:"amount" binding:"required,gt=0"`
	TaskType    string                 `json:"taskType"`
	ReferenceID string                 `json:"referenceId"`
	Details     map[string]interface{} `json:"details"`
	Description string                 `json:"description"`
}

// CheckResult 余额预检结果（仅供前端提示，不作为扣减依据）
type CheckResult struct {
	CanProceed     bool  `json:"canProceed"`
	CurrentBalance int64 `json:"currentBalance"`
	RequiredAmount int64 `json:"requiredAmount"`
}

// TransactionQuery 流水查询条件
type TransactionQuery struct {
	UserID      string     `json:"userId"`
	TaskType    string     `json:"taskType"`
	ReferenceID string     `json:"referenceId"`
	StartTime   *time.Time `json:"startTime"`
	EndTime     *time.Time `json:"endTime"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}
