package billing

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	creditsSvc "backend/internal/credits"
	"backend/internal/metrics"
	pricingSvc "backend/internal/pricing"

	"github.com/gin-gonic/gin"
)

// Handler 计费处理器：定价规则管理、报价与任务扣费
type Handler struct {
	pricing *pricingSvc.Service
	ledger  *creditsSvc.Service
}

// NewHandler 创建处理器
func NewHandler(pricing *pricingSvc.Service, ledger *creditsSvc.Service) *Handler {
	return &Handler{pricing: pricing, ledger: ledger}
}

type resolveDTO struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	TaskType    string `json:"taskType" binding:"required"`
	InputUnits  int64  `json:"inputUnits"`
	OutputUnits int64  `json:"outputUnits"`
}

// ResolvePrice 报价
// @Summary 解析任务的积分价格
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body resolveDTO true "报价请求"
// @Success 200 {object} response.APIResponse
// @Router /api/billing/resolve [post]
func (h *Handler) ResolvePrice(c *gin.Context) {
	var dto resolveDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	var usage *pricingSvc.Usage
	if dto.InputUnits > 0 || dto.OutputUnits > 0 {
		usage = &pricingSvc.Usage{InputUnits: dto.InputUnits, OutputUnits: dto.OutputUnits}
	}

	cost, err := h.pricing.Resolve(c.Request.Context(), dto.Provider, dto.Model, dto.TaskType, usage)
	if err != nil {
		if errors.Is(err, pricingSvc.ErrNoPricingRule) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "NO_PRICING_RULE", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"cost": cost}})
}

type chargeDTO struct {
	Provider    string                 `json:"provider"`
	Model       string                 `json:"model"`
	TaskType    string                 `json:"taskType" binding:"required"`
	InputUnits  int64                  `json:"inputUnits"`
	OutputUnits int64                  `json:"outputUnits"`
	ReferenceID string                 `json:"referenceId"` // 可重试调用必须携带
	Details     map[string]interface{} `json:"details"`
	Description string                 `json:"description"`
}

// Charge 任务扣费：先定价后扣减，二者对调用方是一次原子操作
// @Summary 按定价规则扣减当前用户积分
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body chargeDTO true "扣费请求"
// @Success 200 {object} response.APIResponse
// @Failure 402 {object} response.ErrorResponse "积分不足"
// @Router /api/billing/charge [post]
func (h *Handler) Charge(c *gin.Context) {
	userID := c.GetString("user_id")

	var dto chargeDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	var usage *pricingSvc.Usage
	if dto.InputUnits > 0 || dto.OutputUnits > 0 {
		usage = &pricingSvc.Usage{InputUnits: dto.InputUnits, OutputUnits: dto.OutputUnits}
	}

	cost, err := h.pricing.Resolve(c.Request.Context(), dto.Provider, dto.Model, dto.TaskType, usage)
	if err != nil {
		if errors.Is(err, pricingSvc.ErrNoPricingRule) {
			metrics.DebitsTotal.WithLabelValues(dto.TaskType, "no_rule").Inc()
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Code: "NO_PRICING_RULE", Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	tx, err := h.ledger.Debit(c.Request.Context(), &creditsSvc.DebitRequest{
		UserID:      userID,
		Amount:      cost,
		TaskType:    dto.TaskType,
		Provider:    dto.Provider,
		Model:       dto.Model,
		ReferenceID: dto.ReferenceID,
		Details:     dto.Details,
		Description: dto.Description,
	})
	if err != nil {
		if errors.Is(err, creditsSvc.ErrInsufficientCredits) {
			metrics.DebitsTotal.WithLabelValues(dto.TaskType, "insufficient").Inc()
			c.JSON(http.StatusPaymentRequired, response.ErrorResponse{Success: false, Code: "INSUFFICIENT_CREDITS", Message: err.Error()})
			return
		}
		metrics.DebitsTotal.WithLabelValues(dto.TaskType, "error").Inc()
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	metrics.DebitsTotal.WithLabelValues(dto.TaskType, "ok").Inc()
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: tx, Message: "扣费成功"})
}

// CreateRule 创建定价规则（管理员）
// @Summary 创建定价规则
// @Tags Billing
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body pricingSvc.CreateRuleRequest true "规则"
// @Success 200 {object} response.APIResponse
// @Router /api/billing/rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req pricingSvc.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	rule, err := h.pricing.CreateRule(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, pricingSvc.ErrDuplicateRule):
			c.JSON(http.StatusConflict, response.ErrorResponse{Success: false, Code: "DUPLICATE_RULE", Message: err.Error()})
		case errors.Is(err, pricingSvc.ErrInvalidCost):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: rule, Message: "创建成功"})
}

// ListRules 查询定价规则
// @Summary 查询定价规则列表
// @Tags Billing
// @Security BearerAuth
// @Param taskType query string false "任务类型"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/billing/rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	taskType := c.Query("taskType")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rules, total, err := h.pricing.ListRules(c.Request.Context(), taskType, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Data:    response.PagedData{Items: rules, Total: total},
	})
}

// UpdateRule 更新定价规则（管理员）
// @Summary 更新定价规则
// @Tags Billing
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Accept json
// @Produce json
// @Param body body pricingSvc.UpdateRuleRequest true "更新内容"
// @Success 200 {object} response.APIResponse
// @Router /api/billing/rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	id := c.Param("id")

	var req pricingSvc.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	if err := h.pricing.UpdateRule(c.Request.Context(), id, &req); err != nil {
		if errors.Is(err, pricingSvc.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "更新成功"})
}

// DeleteRule 删除定价规则（管理员）
// @Summary 删除定价规则
// @Tags Billing
// @Security BearerAuth
// @Param id path string true "规则ID"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/billing/rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	id := c.Param("id")

	if err := h.pricing.DeleteRule(c.Request.Context(), id); err != nil {
		if errors.Is(err, pricingSvc.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Message: "已删除"})
}
