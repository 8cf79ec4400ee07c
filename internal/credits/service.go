package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientCredits = errors.New("积分不足")
	ErrAccountNotFound     = errors.New("积分账户不存在")
	ErrInvalidAmount       = errors.New("无效的积分金额")
)

// Service 积分账本服务
// Debit/Credit 在单个数据库事务内完成“读余额-算新值-写余额-写流水”，
// 账户行加 FOR UPDATE 锁，同一用户的并发变更串行化，不同用户互不阻塞。
type Service struct {
	db *gorm.DB
}

// NewService 创建积分服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ============ 账户管理 ============

// GetOrCreateAccount 获取或创建积分账户
func (s *Service) GetOrCreateAccount(ctx context.Context, userID string) (*CreditAccount, error) {
	var account CreditAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error

	if err == nil {
		return &account, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = CreditAccount{
		ID:     uuid.New().String(),
		UserID: userID,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount 获取积分账户
func (s *Service) GetAccount(ctx context.Context, userID string) (*CreditAccount, error) {
	var account CreditAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	return &account, err
}

// Check 余额预检（不加锁）
// 仅用于前端确认提示；最终授权以 Debit 事务内的再次校验为准。
func (s *Service) Check(ctx context.Context, userID string, cost int64) (*CheckResult, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return &CheckResult{CanProceed: cost <= 0, CurrentBalance: 0, RequiredAmount: cost}, nil
		}
		return nil, err
	}
	return &CheckResult{
		CanProceed:     account.Balance >= cost,
		CurrentBalance: account.Balance,
		RequiredAmount: cost,
	}, nil
}

// ============ 扣减 ============

// Debit 扣减积分
// 余额不足返回 ErrInsufficientCredits，不写任何数据。
func (s *Service) Debit(ctx context.Context, req *DebitRequest) (*CreditTransaction, error) {
	var tx *CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var innerErr error
		tx, innerErr = s.DebitTx(db, req)
		return innerErr
	})
	return tx, err
}

// DebitTx 在已开启的事务内扣减积分
// 供结算引擎将账本变更与订单状态变更组合为同一事务。
func (s *Service) DebitTx(db *gorm.DB, req *DebitRequest) (*CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// 锁定账户行
	var account CreditAccount
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", req.UserID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	// 最终校验，余额不足时直接失败
	if account.Balance < req.Amount {
		return nil, fmt.Errorf("%w: 余额 %d，需要 %d", ErrInsufficientCredits, account.Balance, req.Amount)
	}

	tx := &CreditTransaction{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		AccountID:     account.ID,
		Amount:        -req.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance - req.Amount,
		TaskType:      req.TaskType,
		Provider:      req.Provider,
		Model:         req.Model,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
	}
	if req.Details != nil {
		tx.Details = datatypes.JSONMap(req.Details)
	}
	if tx.Description == "" {
		tx.Description = fmt.Sprintf("消耗 %d 积分 (%s)", req.Amount, req.TaskType)
	}
	if err := db.Create(tx).Error; err != nil {
		return nil, err
	}

	// 更新账户余额
	if err := db.Model(&account).Updates(map[string]interface{}{
		"balance":    gorm.Expr("balance - ?", req.Amount),
		"total_used": gorm.Expr("total_used + ?", req.Amount),
	}).Error; err != nil {
		return nil, err
	}

	return tx, nil
}

// ============ 入账 ============

// Credit 入账积分
// 账户存在时只会因存储故障失败，不存在业务失败路径。
func (s *Service) Credit(ctx context.Context, req *CreditRequest) (*CreditTransaction, error) {
	var tx *CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var innerErr error
		tx, innerErr = s.CreditTx(db, req)
		return innerErr
	})
	return tx, err
}

// CreditTx 在已开启的事务内入账积分
func (s *Service) CreditTx(db *gorm.DB, req *CreditRequest) (*CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.lockOrCreateAccount(db, req.UserID)
	if err != nil {
		return nil, err
	}

	tx := &CreditTransaction{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		AccountID:     account.ID,
		Amount:        req.Amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + req.Amount,
		TaskType:      req.TaskType,
		ReferenceID:   req.ReferenceID,
		Description:   req.Description,
	}
	if req.Details != nil {
		tx.Details = datatypes.JSONMap(req.Details)
	}
	if tx.Description == "" {
		tx.Description = fmt.Sprintf("入账 %d 积分", req.Amount)
	}
	if err := db.Create(tx).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&CreditAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"balance":     gorm.Expr("balance + ?", req.Amount),
			"total_added": gorm.Expr("total_added + ?", req.Amount),
		}).Error; err != nil {
		return nil, err
	}

	return tx, nil
}

// ============ 流水查询 ============

// ListTransactions 查询流水
func (s *Service) ListTransactions(ctx context.Context, query *TransactionQuery) ([]CreditTransaction, int64, error) {
	db := s.db.WithContext(ctx).Model(&CreditTransaction{})

	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.TaskType != "" {
		db = db.Where("task_type = ?", query.TaskType)
	}
	if query.ReferenceID != "" {
		db = db.Where("reference_id = ?", query.ReferenceID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}

	var transactions []CreditTransaction
	err := db.Order("created_at DESC").
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&transactions).Error

	return transactions, total, err
}

// CountByReference 统计引用某幂等键的入账流水数
// 对账任务用它检测“订单已成功但积分未入账”的不一致状态。
func (s *Service) CountByReference(ctx context.Context, referenceID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&CreditTransaction{}).
		Where("reference_id = ? AND amount > 0", referenceID).
		Count(&count).Error
	return count, err
}

// ============ 内部方法 ============

// lockOrCreateAccount 锁定账户行，不存在时创建
func (s *Service) lockOrCreateAccount(db *gorm.DB, userID string) (*CreditAccount, error) {
	var account CreditAccount
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err == nil {
		return &account, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = CreditAccount{
		ID:     uuid.New().String(),
		UserID: userID,
	}
	if err := db.Create(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}
