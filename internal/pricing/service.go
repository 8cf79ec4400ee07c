package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNoPricingRule = errors.New("没有匹配的定价规则")
	ErrRuleNotFound  = errors.New("定价规则不存在")
	ErrDuplicateRule = errors.New("同一匹配维度已存在启用的定价规则")
	ErrInvalidCost   = errors.New("无效的定价金额")
)

// Service 定价解析服务
type Service struct {
	db *gorm.DB
}

// NewService 创建定价服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve 解析一次操作的积分成本
// 纯读操作：按 (provider, model) -> (provider, "") -> ("", "") 的顺序取最具体的启用规则。
// per_unit 规则在提供用量时按单位计价并四舍五入，否则退回固定费用。
func (s *Service) Resolve(ctx context.Context, provider, model, taskType string, usage *Usage) (int64, error) {
	rule, err := s.match(ctx, provider, model, taskType)
	if err != nil {
		return 0, err
	}

	if rule.UnitType == UnitTypePerUnit && usage != nil {
		raw := rule.CostInput*float64(usage.InputUnits) + rule.CostOutput*float64(usage.OutputUnits)
		cost := int64(math.Floor(raw + 0.5)) // 半进位取整到积分
		if cost < 1 && (usage.InputUnits > 0 || usage.OutputUnits > 0) {
			cost = 1 // 有用量时最少消耗 1 积分
		}
		return cost, nil
	}

	return rule.Cost, nil
}

// match 取最具体的启用规则
func (s *Service) match(ctx context.Context, provider, model, taskType string) (*PricingRule, error) {
	// 候选匹配维度，从具体到通配
	candidates := [][2]string{
		{provider, model},
		{provider, ""},
		{"", ""},
	}

	for _, c := range candidates {
		if c[0] == "" && c[1] != "" {
			continue
		}
		var rule PricingRule
		err := s.db.WithContext(ctx).
			Where("task_type = ? AND provider = ? AND model = ? AND is_active = ?", taskType, c[0], c[1], true).
			First(&rule).Error
		if err == nil {
			return &rule, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: task_type=%s provider=%s model=%s", ErrNoPricingRule, taskType, provider, model)
}

// ============ 管理操作 ============

// CreateRule 创建定价规则
// 同一 (provider, model, task_type) 维度只允许一条启用规则。
func (s *Service) CreateRule(ctx context.Context, req *CreateRuleRequest) (*PricingRule, error) {
	unitType := req.UnitType
	if unitType == "" {
		unitType = UnitTypePerCall
	}
	switch unitType {
	case UnitTypePerCall:
		if req.Cost <= 0 {
			return nil, ErrInvalidCost
		}
	case UnitTypePerUnit:
		if req.CostInput < 0 || req.CostOutput < 0 || (req.CostInput == 0 && req.CostOutput == 0) {
			return nil, ErrInvalidCost
		}
	default:
		return nil, fmt.Errorf("不支持的计价方式: %s", unitType)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&PricingRule{}).
		Where("task_type = ? AND provider = ? AND model = ? AND is_active = ?", req.TaskType, req.Provider, req.Model, true).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateRule
	}

	rule := &PricingRule{
		ID:         uuid.New().String(),
		Provider:   req.Provider,
		Model:      req.Model,
		TaskType:   req.TaskType,
		UnitType:   unitType,
		Cost:       req.Cost,
		CostInput:  req.CostInput,
		CostOutput: req.CostOutput,
		IsActive:   true,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("创建定价规则失败: %w", err)
	}
	return rule, nil
}

// ListRules 查询定价规则
func (s *Service) ListRules(ctx context.Context, taskType string, limit, offset int) ([]PricingRule, int64, error) {
	db := s.db.WithContext(ctx).Model(&PricingRule{})
	if taskType != "" {
		db = db.Where("task_type = ?", taskType)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var rules []PricingRule
	err := db.Order("task_type, provider, model").
		Limit(limit).
		Offset(offset).
		Find(&rules).Error

	return rules, total, err
}

// UpdateRule 更新定价规则
func (s *Service) UpdateRule(ctx context.Context, id string, req *UpdateRuleRequest) error {
	updates := make(map[string]interface{})
	if req.Cost != nil {
		updates["cost"] = *req.Cost
	}
	if req.CostInput != nil {
		updates["cost_input"] = *req.CostInput
	}
	if req.CostOutput != nil {
		updates["cost_output"] = *req.CostOutput
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&PricingRule{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule 删除定价规则
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&PricingRule{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}
