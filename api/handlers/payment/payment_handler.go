package payment

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	paymentSvc "backend/internal/payment"

	"github.com/gin-gonic/gin"
)

// Handler 充值支付处理器
type Handler struct {
	svc   *paymentSvc.Service
	plans *paymentSvc.PlanService
}

// NewHandler 创建处理器
func NewHandler(svc *paymentSvc.Service, plans *paymentSvc.PlanService) *Handler {
	return &Handler{svc: svc, plans: plans}
}

// ============ 充值档位 ============

// ListPlans 查询启用中的充值档位
// @Summary 查询充值档位列表
// @Tags Payment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/plans [get]
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.plans.ListPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: plans})
}

// CreatePlan 创建充值档位（管理员）
// @Summary 创建充值档位
// @Tags Payment
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body paymentSvc.CreatePlanRequest true "档位"
// @Success 200 {object} response.APIResponse
// @Router /api/payment/plans [post]
func (h *Handler) CreatePlan(c *gin.Context) {
	var req paymentSvc.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	plan, err := h.plans.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, paymentSvc.ErrInvalidPlanRange):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		case errors.Is(err, paymentSvc.ErrPlanOverlap):
			c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Code: "PLAN_OVERLAP", Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: plan, Message: "创建成功"})
}

// DeactivatePlan 停用充值档位（管理员）
// @Summary 停用充值档位
// @Tags Payment
// @Security BearerAuth
// @Param id path string true "档位ID"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/plans/{id} [delete]
func (h *Handler) DeactivatePlan(c *gin.Context) {
	if err := h.plans.DeactivatePlan(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "已停用"})
}

// Quote 充值报价
// @Summary 查询充值金额可兑换的积分
// @Tags Payment
// @Security BearerAuth
// @Param amount query int true "充值金额（分）"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/quote [get]
func (h *Handler) Quote(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: amount 必须为正整数"})
		return
	}

	quote, err := h.plans.Quote(c.Request.Context(), amount)
	if err != nil {
		if errors.Is(err, paymentSvc.ErrNoApplicablePlan) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "NO_APPLICABLE_PLAN", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: quote})
}

// ============ 充值订单 ============

type createOrderDTO struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// CreateOrder 创建充值订单
// @Summary 创建充值订单并获取付款链接
// @Description 网关暂不可用时订单仍会创建（payUrl 为空），可稍后凭单号重取链接
// @Tags Payment
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body createOrderDTO true "充值请求"
// @Success 200 {object} response.APIResponse
// @Router /api/payment/orders [post]
func (h *Handler) CreateOrder(c *gin.Context) {
	userID := c.GetString("user_id")

	var dto createOrderDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	result, err := h.svc.CreateOrder(c.Request.Context(), &paymentSvc.CreateOrderRequest{
		UserID: userID,
		Amount: dto.Amount,
	})
	if err != nil {
		if errors.Is(err, paymentSvc.ErrNoApplicablePlan) {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Code: "NO_APPLICABLE_PLAN", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	resp := response.APIResponse{Success: true, Data: result, Message: "下单成功"}
	if result.GatewayErr != nil {
		// 订单已落库但没拿到付款链接，给出业务码让客户端走 /payurl 重试
		resp.Code = "GATEWAY_UNAVAILABLE"
		resp.Message = "订单已创建，付款链接暂不可用，请稍后重试"
	}
	c.JSON(http.StatusOK, resp)
}

// GetOrder 查询订单状态
// @Summary 查询充值订单
// @Tags Payment
// @Security BearerAuth
// @Param orderNo path string true "订单号"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/orders/{orderNo} [get]
func (h *Handler) GetOrder(c *gin.Context) {
	userID := c.GetString("user_id")

	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("orderNo"))
	if err != nil {
		if errors.Is(err, paymentSvc.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	if order.UserID != userID {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: paymentSvc.ErrOrderNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: order})
}

// ListOrders 查询当前用户订单
// @Summary 查询充值订单列表
// @Tags Payment
// @Security BearerAuth
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/orders [get]
func (h *Handler) ListOrders(c *gin.Context) {
	userID := c.GetString("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.svc.ListOrders(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Data:    response.PagedData{Items: orders, Total: total},
	})
}

// RequestPayURL 重取付款链接
// @Summary 为待支付订单重取付款链接
// @Tags Payment
// @Security BearerAuth
// @Param orderNo path string true "订单号"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/payment/orders/{orderNo}/payurl [post]
func (h *Handler) RequestPayURL(c *gin.Context) {
	userID := c.GetString("user_id")
	orderNo := c.Param("orderNo")

	order, err := h.svc.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, paymentSvc.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	if order.UserID != userID {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: paymentSvc.ErrOrderNotFound.Error()})
		return
	}

	payURL, err := h.svc.RequestPayURL(c.Request.Context(), orderNo)
	if err != nil {
		switch {
		case errors.Is(err, paymentSvc.ErrOrderNotPending):
			c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Code: "ORDER_TERMINAL", Message: err.Error()})
		case errors.Is(err, paymentSvc.ErrGatewayUnavailable):
			c.JSON(http.StatusBadGateway, response.ErrorResponse{Success: false, Code: "GATEWAY_UNAVAILABLE", Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"payUrl": payURL}})
}

// ============ 支付回调 ============

// Notify 支付异步通知（公开路由，不走 JWT）
// @Summary 支付网关异步通知回调
// @Description 验签失败返回 401 且不修改任何状态，网关将按自身策略重投
// @Tags Payment
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/payment/notify [post]
func (h *Handler) Notify(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "读取通知体失败"})
		return
	}

	order, err := h.svc.HandleNotification(c.Request.Context(), c.Request.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, paymentSvc.ErrVerificationFailed):
			c.JSON(http.StatusUnauthorized, gin.H{"code": "FAIL", "message": "验签失败"})
		case errors.Is(err, paymentSvc.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "FAIL", "message": "订单不存在"})
		default:
			// 非验签错误返回 5xx，让网关重投
			c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": "处理失败"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "OK", "order_no": order.OrderNo})
}
