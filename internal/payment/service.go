package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"backend/internal/credits"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound          = errors.New("支付订单不存在")
	ErrOrderNotPending        = errors.New("订单已进入终态")
	ErrInconsistentSettlement = errors.New("订单已成功但积分未入账")
)

// Service 支付订单状态机
// 订单生命周期唯一写入方。订单状态变更与账本入账在同一数据库事务内完成，
// 终态订单对任何通知/查询幂等早退，保证一笔订单最多入账一次。
type Service struct {
	db       *gorm.DB
	plans    *PlanService
	ledger   *credits.Service
	gateway  Gateway
	provider string
	logger   *zap.Logger
}

// NewService 创建支付服务
func NewService(db *gorm.DB, plans *PlanService, ledger *credits.Service, gateway Gateway, provider string, logger *zap.Logger) *Service {
	if provider == "" {
		provider = "wechat"
	}
	return &Service{
		db:       db,
		plans:    plans,
		ledger:   ledger,
		gateway:  gateway,
		provider: provider,
		logger:   logger.Named("payment"),
	}
}

// ============ 下单 ============

// CreateOrder 创建充值订单
// 先按档位报价并落库 PENDING 订单，再向网关取付款链接。
// 网关失败不回滚订单：订单保留 PENDING、pay_url 为空，调用方可凭原单号重取链接。
func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	quote, err := s.plans.Quote(ctx, req.Amount)
	if err != nil {
		return nil, err
	}

	order := &PaymentOrder{
		ID:       uuid.New().String(),
		OrderNo:  generateOrderNo(),
		UserID:   req.UserID,
		Amount:   req.Amount,
		Credits:  quote.Total,
		Status:   OrderStatusPending,
		Provider: s.provider,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	result := &CreateOrderResult{Order: order, Quote: quote}

	payURL, gwErr := s.gateway.CreateNativeOrder(ctx, order.OrderNo, order.Amount, fmt.Sprintf("充值 %d 积分", quote.Total))
	if gwErr != nil {
		s.logger.Warn("网关下单失败，订单保留待重试",
			zap.String("order_no", order.OrderNo),
			zap.Error(gwErr),
		)
		metrics.OrdersCreatedTotal.WithLabelValues(s.provider, "gateway_error").Inc()
		result.GatewayErr = gwErr
		return result, nil
	}

	if err := s.db.WithContext(ctx).Model(order).Update("pay_url", payURL).Error; err != nil {
		return nil, err
	}
	order.PayURL = payURL
	metrics.OrdersCreatedTotal.WithLabelValues(s.provider, "ok").Inc()
	return result, nil
}

// RequestPayURL 为已有 PENDING 订单重取付款链接
// 网关下单超时后的重试路径：复用原单号，不创建新订单。
func (s *Service) RequestPayURL(ctx context.Context, orderNo string) (string, error) {
	order, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return "", err
	}
	if order.Status.IsTerminal() {
		return "", ErrOrderNotPending
	}
	if order.PayURL != "" {
		return order.PayURL, nil
	}

	payURL, err := s.gateway.CreateNativeOrder(ctx, order.OrderNo, order.Amount, fmt.Sprintf("充值 %d 积分", order.Credits))
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(&PaymentOrder{}).
		Where("order_no = ?", orderNo).
		Update("pay_url", payURL).Error; err != nil {
		return "", err
	}
	return payURL, nil
}

// GetOrder 按单号查询订单
func (s *Service) GetOrder(ctx context.Context, orderNo string) (*PaymentOrder, error) {
	var order PaymentOrder
	err := s.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders 查询用户充值订单，按创建时间倒序
func (s *Service) ListOrders(ctx context.Context, userID string, limit, offset int) ([]PaymentOrder, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := s.db.WithContext(ctx).Model(&PaymentOrder{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []PaymentOrder
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ============ 结算 ============

// Reconcile 主动对账（轮询路径）
// 终态订单直接返回，不再访问网关；否则按网关实时状态应用状态迁移。
// 终态早退在这里是普通轮询，不计入重复通知指标，那只统计结算竞争。
func (s *Service) Reconcile(ctx context.Context, orderNo string, source string) (*PaymentOrder, error) {
	order, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	state, err := s.gateway.QueryOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}

	return s.applyTransition(ctx, orderNo, state, source)
}

// HandleNotification 处理支付异步通知（推送路径）
// 验签失败一律拒绝且不改任何状态，网关会按自己的策略重投。
func (s *Service) HandleNotification(ctx context.Context, headers http.Header, body []byte) (*PaymentOrder, error) {
	notification, err := s.gateway.ParseNotification(ctx, headers, body)
	if err != nil {
		metrics.VerificationFailuresTotal.Inc()
		s.logger.Warn("支付通知验签失败", zap.Error(err))
		return nil, err
	}

	return s.applyTransition(ctx, notification.OrderNo, notification.TradeState, "notify")
}

// applyTransition 应用状态迁移（轮询与推送共用）
// 整个迁移在单个事务内执行并锁定订单行：
//  1. 终态订单幂等早退（SUCCESS 订单收到 REFUND 除外，见下）
//  2. SUCCESS：写终态、记 paid_at，并在同一事务内入账积分，引用单号作幂等键
//  3. SUCCESS→REFUND：写 REFUND 并补偿性扣减原入账积分
//  4. 其它状态：仅落终态，无账本动作
func (s *Service) applyTransition(ctx context.Context, orderNo string, state TradeState, source string) (*PaymentOrder, error) {
	var result *PaymentOrder
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var order PaymentOrder
		if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_no = ?", orderNo).
			First(&order).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		// 终态早退：重复投递/并发轮询安全
		if order.Status.IsTerminal() {
			if order.Status == OrderStatusSuccess && state == TradeStateRefund {
				if err := s.refundTx(db, &order); err != nil {
					return err
				}
				result = &order
				return nil
			}
			metrics.DuplicateNotificationsTotal.Inc()
			result = &order
			return nil
		}

		now := time.Now().UTC()
		switch state {
		case TradeStateSuccess:
			order.Status = OrderStatusSuccess
			order.PaidAt = &now
			if err := db.Model(&PaymentOrder{}).
				Where("order_no = ?", orderNo).
				Updates(map[string]interface{}{
					"status":  OrderStatusSuccess,
					"paid_at": now,
				}).Error; err != nil {
				return err
			}

			// 与订单状态同事务入账，订单号即幂等键
			if _, err := s.ledger.CreditTx(db, &credits.CreditRequest{
				UserID:      order.UserID,
				Amount:      order.Credits,
				TaskType:    "recharge",
				ReferenceID: order.OrderNo,
				Details:     map[string]interface{}{"order_no": order.OrderNo, "amount": order.Amount},
				Description: fmt.Sprintf("充值到账 %d 积分（订单 %s）", order.Credits, order.OrderNo),
			}); err != nil {
				return err
			}

		default:
			order.Status = mapTradeState(state)
			if err := db.Model(&PaymentOrder{}).
				Where("order_no = ?", orderNo).
				Update("status", order.Status).Error; err != nil {
				return err
			}
		}

		result = &order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil && result.Status.IsTerminal() {
		metrics.OrdersSettledTotal.WithLabelValues(string(result.Status), source).Inc()
	}

	s.logger.Info("订单状态迁移",
		zap.String("order_no", orderNo),
		zap.String("status", string(result.Status)),
		zap.String("source", source),
	)
	return result, nil
}

// refundTx SUCCESS→REFUND 迁移，补偿性扣减原入账积分
// 用户已把积分花掉导致余额不足时，订单仍落 REFUND，缺口记日志由运营处理。
func (s *Service) refundTx(db *gorm.DB, order *PaymentOrder) error {
	if err := db.Model(&PaymentOrder{}).
		Where("order_no = ?", order.OrderNo).
		Update("status", OrderStatusRefund).Error; err != nil {
		return err
	}
	order.Status = OrderStatusRefund

	_, err := s.ledger.DebitTx(db, &credits.DebitRequest{
		UserID:      order.UserID,
		Amount:      order.Credits,
		TaskType:    "refund",
		ReferenceID: order.OrderNo,
		Description: fmt.Sprintf("退款回收 %d 积分（订单 %s）", order.Credits, order.OrderNo),
	})
	if errors.Is(err, credits.ErrInsufficientCredits) {
		s.logger.Error("退款回收积分余额不足",
			zap.String("order_no", order.OrderNo),
			zap.String("user_id", order.UserID),
			zap.Int64("credits", order.Credits),
		)
		return nil
	}
	return err
}

// ReconcileOrder 单笔订单对账（后台任务入口）
func (s *Service) ReconcileOrder(ctx context.Context, orderNo string) error {
	_, err := s.Reconcile(ctx, orderNo, "sweep")
	return err
}

// ============ 对账 ============

// SweepPendingOrders 重新对账陈旧的 PENDING 订单
// 网关失败只记日志并继续，订单留待下轮扫描。
func (s *Service) SweepPendingOrders(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	var orders []PaymentOrder
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return 0, err
	}

	settled := 0
	for _, order := range orders {
		updated, err := s.Reconcile(ctx, order.OrderNo, "sweep")
		if err != nil {
			s.logger.Warn("对账查询失败",
				zap.String("order_no", order.OrderNo),
				zap.Error(err),
			)
			continue
		}
		if updated.Status.IsTerminal() {
			settled++
		}
	}
	return settled, nil
}

// RepairInconsistent 检测并修复“订单 SUCCESS 但积分未入账”的不一致状态
// 在订单/账本同事务契约下不应出现；作为安全网按单号补发缺失的入账。
func (s *Service) RepairInconsistent(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	var orders []PaymentOrder
	if err := s.db.WithContext(ctx).
		Where("status = ?", OrderStatusSuccess).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return 0, err
	}

	repaired := 0
	for _, order := range orders {
		count, err := s.ledger.CountByReference(ctx, order.OrderNo)
		if err != nil {
			return repaired, err
		}
		if count > 0 {
			continue
		}

		s.logger.Error("检测到不一致的结算状态，补发积分",
			zap.String("order_no", order.OrderNo),
			zap.String("user_id", order.UserID),
			zap.Int64("credits", order.Credits),
			zap.Error(ErrInconsistentSettlement),
		)

		// 事务内重查一次，避免与正常结算竞争造成双重入账
		err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			var locked PaymentOrder
			if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("order_no = ?", order.OrderNo).
				First(&locked).Error; err != nil {
				return err
			}
			if locked.Status != OrderStatusSuccess {
				return nil
			}

			var count int64
			if err := db.Model(&credits.CreditTransaction{}).
				Where("reference_id = ? AND amount > 0", order.OrderNo).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}

			_, err := s.ledger.CreditTx(db, &credits.CreditRequest{
				UserID:      locked.UserID,
				Amount:      locked.Credits,
				TaskType:    "recharge",
				ReferenceID: locked.OrderNo,
				Details:     map[string]interface{}{"order_no": locked.OrderNo, "repair": true},
				Description: fmt.Sprintf("对账补发 %d 积分（订单 %s）", locked.Credits, locked.OrderNo),
			})
			if err == nil {
				repaired++
				metrics.InconsistentOrdersRepaired.Inc()
			}
			return err
		})
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

// ============ 内部方法 ============

// mapTradeState 网关状态映射为订单终态
func mapTradeState(state TradeState) OrderStatus {
	switch state {
	case TradeStateRefund:
		return OrderStatusRefund
	case TradeStateClosed:
		return OrderStatusClosed
	case TradeStateRevoked:
		return OrderStatusRevoked
	case TradeStatePayError:
		return OrderStatusPayError
	case TradeStateNotPay:
		return OrderStatusNotPay
	default:
		return OrderStatusPayError
	}
}

// generateOrderNo 生成唯一订单号：时间戳 + uuid 片段
func generateOrderNo() string {
	ts := time.Now().UTC().Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return "R" + ts + suffix
}
