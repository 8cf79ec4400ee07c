package user

import (
	"time"
)

// AccountStatus 账户状态
// 显式枚举，认证边界据此放行；账本核心不关心账户状态。
type AccountStatus string

const (
	StatusActive              AccountStatus = "active"               // 正常
	StatusDisabled            AccountStatus = "disabled"             // 已禁用
	StatusPendingVerification AccountStatus = "pending_verification" // 待验证
)

// IsActive 是否允许发起计费操作
func (s AccountStatus) IsActive() bool {
	return s == StatusActive
}

// User 用户
type User struct {
	ID        string        `json:"id" gorm:"primaryKey;type:uuid"`
	Username  string        `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Email     string        `json:"email" gorm:"size:255;uniqueIndex"`
	Status    AccountStatus `json:"status" gorm:"size:30;not null;default:'active'"`
	CreatedAt time.Time     `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time     `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
