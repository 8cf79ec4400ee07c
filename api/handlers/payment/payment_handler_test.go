package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/credits"
	paymentSvc "backend/internal/payment"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAPIKey = "test-mch-api-key"

type notifyTestEnv struct {
	router *gin.Engine
	svc    *paymentSvc.Service
	ledger *credits.Service
}

func setupNotifyTestEnv(t *testing.T) *notifyTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:notify_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&paymentSvc.RechargePlan{},
		&paymentSvc.PaymentOrder{},
		&credits.CreditAccount{},
		&credits.CreditTransaction{},
	))

	plans := paymentSvc.NewPlanService(db)
	_, err = plans.CreatePlan(context.Background(), &paymentSvc.CreatePlanRequest{
		MinAmount: 1, MaxAmount: 1000, CreditRate: 10,
	})
	require.NoError(t, err)

	ledger := credits.NewService(db)

	// BaseURL 指向不可达地址：下单时网关失败但订单仍会落库
	gateway := paymentSvc.NewWechatGateway(&config.PaymentConfig{
		Provider:       "wechat",
		APIKey:         testAPIKey,
		BaseURL:        "http://127.0.0.1:1",
		TimeoutSeconds: 1,
	})
	svc := paymentSvc.NewService(db, plans, ledger, gateway, "wechat", zap.NewNop())

	handler := NewHandler(svc, plans)
	router := gin.New()
	router.POST("/api/payment/notify", handler.Notify)
	router.POST("/api/payment/orders", func(c *gin.Context) {
		c.Set("user_id", "user-1")
		handler.CreateOrder(c)
	})

	return &notifyTestEnv{router: router, svc: svc, ledger: ledger}
}

func (e *notifyTestEnv) createPendingOrder(t *testing.T) string {
	t.Helper()
	result, err := e.svc.CreateOrder(context.Background(), &paymentSvc.CreateOrderRequest{
		UserID: "user-1",
		Amount: 100,
	})
	require.NoError(t, err)
	require.Error(t, result.GatewayErr, "网关不可达时应返回 GatewayErr")
	return result.Order.OrderNo
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAPIKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postNotify(env *notifyTestEnv, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/notify", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Wechatpay-Signature", signature)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// 网关不可用时订单照常创建，但响应必须带业务码，客户端据此走 /payurl 重试
func TestCreateOrder_GatewayUnavailableCode(t *testing.T) {
	env := setupNotifyTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/orders", strings.NewReader(`{"amount":100}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"code":"GATEWAY_UNAVAILABLE"`)

	// 订单已落库且保持 PENDING
	orders, total, err := env.svc.ListOrders(context.Background(), "user-1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, paymentSvc.OrderStatusPending, orders[0].Status)
	assert.Empty(t, orders[0].PayURL)
}

func TestNotify_ValidSignatureSettlesOrder(t *testing.T) {
	env := setupNotifyTestEnv(t)
	orderNo := env.createPendingOrder(t)

	body := []byte(fmt.Sprintf(`{"out_trade_no":%q,"trade_state":"SUCCESS"}`, orderNo))
	w := postNotify(env, body, sign(body))

	assert.Equal(t, http.StatusOK, w.Code)

	order, err := env.svc.GetOrder(context.Background(), orderNo)
	require.NoError(t, err)
	assert.Equal(t, paymentSvc.OrderStatusSuccess, order.Status)

	account, err := env.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance)
}

func TestNotify_InvalidSignatureRejected(t *testing.T) {
	env := setupNotifyTestEnv(t)
	orderNo := env.createPendingOrder(t)

	body := []byte(fmt.Sprintf(`{"out_trade_no":%q,"trade_state":"SUCCESS"}`, orderNo))

	t.Run("签名错误", func(t *testing.T) {
		w := postNotify(env, body, "deadbeef")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("缺少签名头", func(t *testing.T) {
		w := postNotify(env, body, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	// 拒绝后不改任何状态
	order, err := env.svc.GetOrder(context.Background(), orderNo)
	require.NoError(t, err)
	assert.Equal(t, paymentSvc.OrderStatusPending, order.Status)

	_, err = env.ledger.GetAccount(context.Background(), "user-1")
	assert.ErrorIs(t, err, credits.ErrAccountNotFound)
}

func TestNotify_UnknownOrder(t *testing.T) {
	env := setupNotifyTestEnv(t)

	body := []byte(`{"out_trade_no":"R-missing","trade_state":"SUCCESS"}`)
	w := postNotify(env, body, sign(body))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotify_DuplicateDelivery(t *testing.T) {
	env := setupNotifyTestEnv(t)
	orderNo := env.createPendingOrder(t)

	body := []byte(fmt.Sprintf(`{"out_trade_no":%q,"trade_state":"SUCCESS"}`, orderNo))
	signature := sign(body)

	for i := 0; i < 3; i++ {
		w := postNotify(env, body, signature)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	account, err := env.ledger.GetAccount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Balance, "重复投递不得重复入账")
}
