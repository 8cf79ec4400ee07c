package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNoApplicablePlan = errors.New("充值金额不在任何档位范围内")
	ErrInvalidPlanRange = errors.New("无效的档位区间")
	ErrPlanOverlap      = errors.New("档位区间与已启用档位重叠")
)

// PlanService 充值档位服务
type PlanService struct {
	db *gorm.DB
}

// NewPlanService 创建充值档位服务
func NewPlanService(db *gorm.DB) *PlanService {
	return &PlanService{db: db}
}

// Quote 按金额计算积分报价
// 取唯一覆盖该金额的启用档位；落在档位空隙或超出范围返回 ErrNoApplicablePlan。
func (s *PlanService) Quote(ctx context.Context, amount int64) (*CreditQuote, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount=%d", ErrNoApplicablePlan, amount)
	}

	var plan RechargePlan
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND min_amount <= ? AND max_amount >= ?", true, amount, amount).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: amount=%d", ErrNoApplicablePlan, amount)
	}
	if err != nil {
		return nil, err
	}

	credits := amount * plan.CreditRate
	return &CreditQuote{
		Credits: credits,
		Bonus:   plan.Bonus,
		Total:   credits + plan.Bonus,
	}, nil
}

// CreatePlan 创建充值档位（管理操作，非热路径）
// 写入前校验与所有已启用档位不重叠。
func (s *PlanService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*RechargePlan, error) {
	if req.MinAmount > req.MaxAmount {
		return nil, ErrInvalidPlanRange
	}

	var overlap int64
	if err := s.db.WithContext(ctx).Model(&RechargePlan{}).
		Where("is_active = ? AND min_amount <= ? AND max_amount >= ?", true, req.MaxAmount, req.MinAmount).
		Count(&overlap).Error; err != nil {
		return nil, err
	}
	if overlap > 0 {
		return nil, ErrPlanOverlap
	}

	plan := &RechargePlan{
		ID:         uuid.New().String(),
		MinAmount:  req.MinAmount,
		MaxAmount:  req.MaxAmount,
		CreditRate: req.CreditRate,
		Bonus:      req.Bonus,
		IsActive:   true,
	}
	if err := s.db.WithContext(ctx).Create(plan).Error; err != nil {
		return nil, fmt.Errorf("创建充值档位失败: %w", err)
	}
	return plan, nil
}

// ListPlans 查询启用档位（充值页展示）
func (s *PlanService) ListPlans(ctx context.Context) ([]RechargePlan, error) {
	var plans []RechargePlan
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("min_amount ASC").
		Find(&plans).Error
	return plans, err
}

// DeactivatePlan 停用档位
func (s *PlanService) DeactivatePlan(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&RechargePlan{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
