package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueSettlementSweep(batchSize int) error
	EnqueueReconcileOrder(orderNo string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueSettlementSweep(batchSize int) error {
	payload, err := json.Marshal(tasks.SettlementSweepPayload{BatchSize: batchSize})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeSettlementSweep, payload)

	// 扫描可安全重复执行，失败交给下一轮，不做队列级重试
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("settlement"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueReconcileOrder(orderNo string) error {
	payload, err := json.Marshal(tasks.ReconcileOrderPayload{OrderNo: orderNo})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeReconcileOrder, payload)

	// 对账按终态早退幂等，可放心重试
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Queue("settlement"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
