package credits

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	response "backend/api/handlers/common"
	creditsSvc "backend/internal/credits"

	"github.com/gin-gonic/gin"
)

// Handler 积分账户处理器
type Handler struct {
	svc *creditsSvc.Service
}

// NewHandler 创建处理器
func NewHandler(svc *creditsSvc.Service) *Handler {
	return &Handler{svc: svc}
}

// GetBalance 获取当前用户余额
// @Summary 获取积分余额
// @Tags Credits
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/credits/balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")

	account, err := h.svc.GetOrCreateAccount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: account})
}

// Check 余额预检
// @Summary 预检余额是否足够
// @Description 只读预检，结果仅供前端提示，不保证后续扣减成功
// @Tags Credits
// @Security BearerAuth
// @Param cost query int true "预计消耗积分"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/credits/check [get]
func (h *Handler) Check(c *gin.Context) {
	userID := c.GetString("user_id")

	cost, err := strconv.ParseInt(c.Query("cost"), 10, 64)
	if err != nil || cost <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: cost 必须为正整数"})
		return
	}

	result, err := h.svc.Check(c.Request.Context(), userID, cost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: result})
}

type grantDTO struct {
	UserID      string `json:"userId" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	ReferenceID string `json:"referenceId"`
	Description string `json:"description"`
}

// Grant 管理员发放积分
// @Summary 为指定用户发放积分
// @Tags Credits
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body grantDTO true "发放请求"
// @Success 200 {object} response.APIResponse
// @Router /api/credits/grant [post]
func (h *Handler) Grant(c *gin.Context) {
	operatorID := c.GetString("user_id")

	var dto grantDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "参数错误: " + err.Error()})
		return
	}

	tx, err := h.svc.Credit(c.Request.Context(), &creditsSvc.CreditRequest{
		UserID:      dto.UserID,
		Amount:      dto.Amount,
		TaskType:    "admin_grant",
		ReferenceID: dto.ReferenceID,
		Details:     map[string]interface{}{"operator_id": operatorID},
		Description: dto.Description,
	})
	if err != nil {
		if errors.Is(err, creditsSvc.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: tx, Message: "发放成功"})
}

// ListTransactions 查询当前用户流水
// @Summary 查询积分流水
// @Tags Credits
// @Security BearerAuth
// @Param taskType query string false "任务类型"
// @Param referenceId query string false "关联单号"
// @Param startTime query string false "开始时间 (2006-01-02)"
// @Param endTime query string false "结束时间 (2006-01-02)"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移量"
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/credits/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := c.GetString("user_id")

	query := &creditsSvc.TransactionQuery{
		UserID: userID,
	}

	if t := c.Query("taskType"); t != "" {
		query.TaskType = t
	}
	if ref := c.Query("referenceId"); ref != "" {
		query.ReferenceID = ref
	}

	if startStr := c.Query("startTime"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			query.StartTime = &t
		}
	}

	if endStr := c.Query("endTime"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end := t.AddDate(0, 0, 1)
			query.EndTime = &end
		}
	}

	if limit, _ := strconv.Atoi(c.Query("limit")); limit > 0 {
		query.Limit = limit
	}
	if offset, _ := strconv.Atoi(c.Query("offset")); offset > 0 {
		query.Offset = offset
	}

	transactions, total, err := h.svc.ListTransactions(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Data:    response.PagedData{Items: transactions, Total: total},
	})
}
