package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry = 3
	defaultTimeout  = 2 * time.Minute
)

// Enqueuer is the part of Client the API depends on.
type Enqueuer interface {
	EnqueueOptimizeImage(ctx context.Context, payload OptimizeImagePayload) (*asynq.TaskInfo, error)
}

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: defaultMaxRetry,
		timeout:  defaultTimeout,
	}
}

// EnqueueOptimizeImage uses the job id as the task id, so starting the same
// job twice is rejected with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueOptimizeImage(ctx context.Context, payload OptimizeImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewOptimizeImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
