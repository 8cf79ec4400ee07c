package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SettlementHandler 结算对账任务处理器
type SettlementHandler struct {
	settler    SettlementService
	pendingAge time.Duration
	logger     *zap.Logger
}

// SettlementService 对账任务依赖的结算操作，便于注入 mock
type SettlementService interface {
	SweepPendingOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	RepairInconsistent(ctx context.Context, limit int) (int, error)
	ReconcileOrder(ctx context.Context, orderNo string) error
}

// NewSettlementHandler 创建结算任务处理器
func NewSettlementHandler(settler SettlementService, pendingAge time.Duration, logger *zap.Logger) *SettlementHandler {
	if pendingAge <= 0 {
		pendingAge = 10 * time.Minute
	}
	return &SettlementHandler{
		settler:    settler,
		pendingAge: pendingAge,
		logger:     logger,
	}
}

// HandleSweep 周期性对账：重查陈旧 PENDING 订单，再修复不一致结算
func (h *SettlementHandler) HandleSweep(ctx context.Context, t *asynq.Task) error {
	var p tasks.SettlementSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	settled, err := h.settler.SweepPendingOrders(ctx, h.pendingAge, p.BatchSize)
	if err != nil {
		h.logger.Error("对账扫描失败", zap.Error(err))
		return err
	}

	repaired, err := h.settler.RepairInconsistent(ctx, p.BatchSize)
	if err != nil {
		h.logger.Error("不一致结算修复失败", zap.Error(err))
		return err
	}

	h.logger.Info("对账扫描完成",
		zap.Int("settled", settled),
		zap.Int("repaired", repaired),
	)
	return nil
}

// HandleReconcileOrder 单笔订单重试对账
func (h *SettlementHandler) HandleReconcileOrder(ctx context.Context, t *asynq.Task) error {
	var p tasks.ReconcileOrderPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	if err := h.settler.ReconcileOrder(ctx, p.OrderNo); err != nil {
		h.logger.Error("订单对账失败",
			zap.String("order_no", p.OrderNo),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("订单对账完成", zap.String("order_no", p.OrderNo))
	return nil
}
