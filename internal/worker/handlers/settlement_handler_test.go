package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubSettler 记录调用参数的结算替身
type stubSettler struct {
	sweepOlderThan time.Duration
	sweepLimit     int
	sweepErr       error
	repairLimit    int
	repairErr      error
	reconciled     []string
	reconcileErr   error
}

func (s *stubSettler) SweepPendingOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	s.sweepOlderThan = olderThan
	s.sweepLimit = limit
	return 2, s.sweepErr
}

func (s *stubSettler) RepairInconsistent(ctx context.Context, limit int) (int, error) {
	s.repairLimit = limit
	return 1, s.repairErr
}

func (s *stubSettler) ReconcileOrder(ctx context.Context, orderNo string) error {
	s.reconciled = append(s.reconciled, orderNo)
	return s.reconcileErr
}

func sweepTask(t *testing.T, batchSize int) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(tasks.SettlementSweepPayload{BatchSize: batchSize})
	require.NoError(t, err)
	return asynq.NewTask(tasks.TypeSettlementSweep, payload)
}

func TestSettlementHandler_HandleSweep(t *testing.T) {
	t.Run("扫描后执行不一致修复", func(t *testing.T) {
		settler := &stubSettler{}
		h := NewSettlementHandler(settler, 15*time.Minute, zap.NewNop())

		err := h.HandleSweep(context.Background(), sweepTask(t, 50))
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, settler.sweepOlderThan)
		assert.Equal(t, 50, settler.sweepLimit)
		assert.Equal(t, 50, settler.repairLimit)
	})

	t.Run("未配置窗口时使用默认值", func(t *testing.T) {
		settler := &stubSettler{}
		h := NewSettlementHandler(settler, 0, zap.NewNop())

		require.NoError(t, h.HandleSweep(context.Background(), sweepTask(t, 10)))
		assert.Equal(t, 10*time.Minute, settler.sweepOlderThan)
	})

	t.Run("扫描失败返回错误", func(t *testing.T) {
		settler := &stubSettler{sweepErr: errors.New("db down")}
		h := NewSettlementHandler(settler, time.Minute, zap.NewNop())

		err := h.HandleSweep(context.Background(), sweepTask(t, 10))
		assert.Error(t, err)
		assert.Zero(t, settler.repairLimit, "扫描失败时不应继续修复")
	})

	t.Run("非法载荷报错", func(t *testing.T) {
		h := NewSettlementHandler(&stubSettler{}, time.Minute, zap.NewNop())
		task := asynq.NewTask(tasks.TypeSettlementSweep, []byte("{"))
		assert.Error(t, h.HandleSweep(context.Background(), task))
	})
}

func TestSettlementHandler_HandleReconcileOrder(t *testing.T) {
	settler := &stubSettler{}
	h := NewSettlementHandler(settler, time.Minute, zap.NewNop())

	payload, err := json.Marshal(tasks.ReconcileOrderPayload{OrderNo: "R20260831-test"})
	require.NoError(t, err)

	require.NoError(t, h.HandleReconcileOrder(context.Background(), asynq.NewTask(tasks.TypeReconcileOrder, payload)))
	assert.Equal(t, []string{"R20260831-test"}, settler.reconciled)

	settler.reconcileErr = errors.New("gateway down")
	assert.Error(t, h.HandleReconcileOrder(context.Background(), asynq.NewTask(tasks.TypeReconcileOrder, payload)))
}
