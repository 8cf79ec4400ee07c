package tasks

// Task Types
const (
	TypeSettlementSweep = "settlement:sweep"
	TypeReconcileOrder  = "settlement:reconcile_order"
)

// SettlementSweepPayload 结算对账扫描任务载荷
type SettlementSweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// ReconcileOrderPayload 单笔订单对账任务载荷
type ReconcileOrderPayload struct {
	OrderNo string `json:"order_no"`
}
