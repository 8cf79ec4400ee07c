package payment

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"backend/internal/credits"
	"backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeGateway 可编程的网关替身
type fakeGateway struct {
	mu          sync.Mutex
	payURL      string
	createErr   error
	queryState  TradeState
	queryErr    error
	notify      *Notification
	notifyErr   error
	createCalls int
	queryCalls  int
}

func (g *fakeGateway) CreateNativeOrder(ctx context.Context, orderNo string, amount int64, description string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return "", g.createErr
	}
	return g.payURL, nil
}

func (g *fakeGateway) QueryOrder(ctx context.Context, orderNo string) (TradeState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return "", g.queryErr
	}
	return g.queryState, nil
}

func (g *fakeGateway) ParseNotification(ctx context.Context, headers http.Header, body []byte) (*Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.notifyErr != nil {
		return nil, g.notifyErr
	}
	return g.notify, nil
}

func newTestService(t *testing.T) (*Service, *credits.Service, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := setupPaymentTestDB(t)

	plans := NewPlanService(db)
	_, err := plans.CreatePlan(context.Background(), &CreatePlanRequest{
		MinAmount: 1, MaxAmount: 1000, CreditRate: 10,
	})
	require.NoError(t, err)

	ledger := credits.NewService(db)
	gw := &fakeGateway{payURL: "weixin://wxpay/bizpayurl?pr=test"}
	svc := NewService(db, plans, ledger, gw, "wechat", zap.NewNop())
	return svc, ledger, gw, db
}

// settleSuccess 通过异步通知把订单推到 SUCCESS
func settleSuccess(t *testing.T, svc *Service, gw *fakeGateway, orderNo string) {
	t.Helper()
	gw.notify = &Notification{OrderNo: orderNo, TradeState: TradeStateSuccess}
	order, err := svc.HandleNotification(context.Background(), http.Header{}, nil)
	require.NoError(t, err)
	require.Equal(t, OrderStatusSuccess, order.Status)
}

func TestService_CreateOrder(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	ctx := context.Background()

	t.Run("下单成功", func(t *testing.T) {
		result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
		require.NoError(t, err)
		require.Nil(t, result.GatewayErr)

		assert.Equal(t, OrderStatusPending, result.Order.Status)
		assert.Equal(t, int64(1000), result.Order.Credits)
		assert.Equal(t, int64(1000), result.Quote.Total)
		assert.Equal(t, gw.payURL, result.Order.PayURL)
		assert.NotEmpty(t, result.Order.OrderNo)
	})

	t.Run("金额不在档位内拒绝下单", func(t *testing.T) {
		_, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 9999})
		assert.ErrorIs(t, err, ErrNoApplicablePlan)
	})
}

func TestService_CreateOrder_GatewayFailure(t *testing.T) {
	svc, _, gw, db := newTestService(t)
	ctx := context.Background()

	gw.createErr = ErrGatewayUnavailable

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	assert.ErrorIs(t, result.GatewayErr, ErrGatewayUnavailable)
	assert.Empty(t, result.Order.PayURL)
	assert.Equal(t, OrderStatusPending, result.Order.Status)

	// 订单已落库，可凭原单号重取付款链接
	gw.createErr = nil
	payURL, err := svc.RequestPayURL(ctx, result.Order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, gw.payURL, payURL)

	var count int64
	require.NoError(t, db.Model(&PaymentOrder{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "重试不应创建新订单")

	order, err := svc.GetOrder(ctx, result.Order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, payURL, order.PayURL)
}

func TestService_RequestPayURL_TerminalOrder(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	settleSuccess(t, svc, gw, result.Order.OrderNo)

	_, err = svc.RequestPayURL(ctx, result.Order.OrderNo)
	assert.ErrorIs(t, err, ErrOrderNotPending)
}

func TestService_SettlementExactlyOnce(t *testing.T) {
	svc, ledger, gw, db := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	orderNo := result.Order.OrderNo

	settleSuccess(t, svc, gw, orderNo)

	t.Run("订单终态与积分入账一致", func(t *testing.T) {
		order, err := svc.GetOrder(ctx, orderNo)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusSuccess, order.Status)
		require.NotNil(t, order.PaidAt)

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), account.Balance)

		count, err := ledger.CountByReference(ctx, orderNo)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("重复通知幂等", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			order, err := svc.HandleNotification(ctx, http.Header{}, nil)
			require.NoError(t, err)
			assert.Equal(t, OrderStatusSuccess, order.Status)
		}

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), account.Balance, "重复通知不得重复入账")

		var txCount int64
		require.NoError(t, db.Model(&credits.CreditTransaction{}).
			Where("reference_id = ?", orderNo).Count(&txCount).Error)
		assert.Equal(t, int64(1), txCount)
	})

	t.Run("终态订单对账不再访问网关", func(t *testing.T) {
		gw.queryErr = ErrGatewayUnavailable
		before := gw.queryCalls

		order, err := svc.Reconcile(ctx, orderNo, "query")
		require.NoError(t, err)
		assert.Equal(t, OrderStatusSuccess, order.Status)
		assert.Equal(t, before, gw.queryCalls)
	})
}

// 重复通知指标只统计结算竞争：终态订单的普通轮询不得计入。
func TestService_DuplicateNotificationMetric(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	orderNo := result.Order.OrderNo
	settleSuccess(t, svc, gw, orderNo)

	t.Run("终态轮询不计入", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.DuplicateNotificationsTotal)
		_, err := svc.Reconcile(ctx, orderNo, "query")
		require.NoError(t, err)
		assert.Equal(t, before, testutil.ToFloat64(metrics.DuplicateNotificationsTotal))
	})

	t.Run("重复投递计入", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.DuplicateNotificationsTotal)
		_, err := svc.HandleNotification(ctx, http.Header{}, nil)
		require.NoError(t, err)
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.DuplicateNotificationsTotal))
	})
}

func TestService_NotificationVerificationFailure(t *testing.T) {
	svc, ledger, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)

	gw.notifyErr = ErrVerificationFailed
	_, err = svc.HandleNotification(ctx, http.Header{}, nil)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	// 验签失败不改任何状态
	order, err := svc.GetOrder(ctx, result.Order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPending, order.Status)

	_, err = ledger.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, credits.ErrAccountNotFound)
}

func TestService_ReconcileToClosed(t *testing.T) {
	svc, ledger, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)

	gw.queryState = TradeStateClosed
	order, err := svc.Reconcile(ctx, result.Order.OrderNo, "sweep")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusClosed, order.Status)
	assert.Nil(t, order.PaidAt)

	// 非成功终态无账本动作
	_, err = ledger.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, credits.ErrAccountNotFound)
}

func TestService_RefundAfterSuccess(t *testing.T) {
	svc, ledger, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	orderNo := result.Order.OrderNo
	settleSuccess(t, svc, gw, orderNo)

	t.Run("退款回收已入账积分", func(t *testing.T) {
		gw.notify = &Notification{OrderNo: orderNo, TradeState: TradeStateRefund}
		order, err := svc.HandleNotification(ctx, http.Header{}, nil)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusRefund, order.Status)

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Balance)
	})

	t.Run("退款后订单保持终态", func(t *testing.T) {
		gw.notify = &Notification{OrderNo: orderNo, TradeState: TradeStateSuccess}
		order, err := svc.HandleNotification(ctx, http.Header{}, nil)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusRefund, order.Status)

		account, err := ledger.GetAccount(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.Balance)
	})
}

func TestService_RefundWithSpentBalance(t *testing.T) {
	svc, ledger, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	orderNo := result.Order.OrderNo
	settleSuccess(t, svc, gw, orderNo)

	// 用户已花掉大部分积分
	_, err = ledger.Debit(ctx, &credits.DebitRequest{UserID: "user-1", Amount: 800, TaskType: "storyboard_text"})
	require.NoError(t, err)

	gw.notify = &Notification{OrderNo: orderNo, TradeState: TradeStateRefund}
	order, err := svc.HandleNotification(ctx, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusRefund, order.Status, "余额不足时订单仍落 REFUND")

	// 回收失败只记日志，余额保持不变
	account, err := ledger.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), account.Balance)
}

func TestService_RefundBeforeSuccess(t *testing.T) {
	svc, ledger, gw, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)

	// 未成功即退款：仅落终态，无账本动作
	gw.notify = &Notification{OrderNo: result.Order.OrderNo, TradeState: TradeStateRefund}
	order, err := svc.HandleNotification(ctx, http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusRefund, order.Status)

	_, err = ledger.GetAccount(ctx, "user-1")
	assert.ErrorIs(t, err, credits.ErrAccountNotFound)
}

func TestService_SweepPendingOrders(t *testing.T) {
	svc, ledger, gw, db := newTestService(t)
	ctx := context.Background()

	stale, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	fresh, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-2", Amount: 100})
	require.NoError(t, err)

	// 把第一笔订单回拨到扫描窗口之外
	require.NoError(t, db.Model(&PaymentOrder{}).
		Where("order_no = ?", stale.Order.OrderNo).
		Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)

	gw.queryState = TradeStateSuccess
	settled, err := svc.SweepPendingOrders(ctx, 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	staleOrder, err := svc.GetOrder(ctx, stale.Order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusSuccess, staleOrder.Status)

	freshOrder, err := svc.GetOrder(ctx, fresh.Order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPending, freshOrder.Status, "新订单不在扫描范围内")

	account, err := ledger.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance)
}

func TestService_RepairInconsistent(t *testing.T) {
	svc, ledger, _, db := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
	require.NoError(t, err)
	orderNo := result.Order.OrderNo

	// 人为制造不一致：订单标记成功但未入账
	require.NoError(t, db.Model(&PaymentOrder{}).
		Where("order_no = ?", orderNo).
		Update("status", OrderStatusSuccess).Error)

	repaired, err := svc.RepairInconsistent(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	account, err := ledger.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance)

	count, err := ledger.CountByReference(ctx, orderNo)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 再跑一轮不会重复补发
	repaired, err = svc.RepairInconsistent(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)

	account, err = ledger.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance)
}

func TestService_ListOrders(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-1", Amount: 100})
		require.NoError(t, err)
	}
	_, err := svc.CreateOrder(ctx, &CreateOrderRequest{UserID: "user-2", Amount: 100})
	require.NoError(t, err)

	orders, total, err := svc.ListOrders(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, orders, 3)

	orders, total, err = svc.ListOrders(ctx, "user-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, orders, 2)
}

func TestService_GetOrder_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
