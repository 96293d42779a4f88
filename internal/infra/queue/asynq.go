// Package queue hands background tasks to asynq workers. The notifier
// consuming chat:offline_message tasks runs as a separate process.
package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type AsynqQueue struct {
	client *asynq.Client
}

func NewAsynq(redisAddr string) *AsynqQueue {
	return &AsynqQueue{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	task := asynq.NewTask(taskType, payload)
	_, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	return err
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
