package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/hibiken/asynq"
)

const TypeOptimizeImage = "image:optimize"

type OptimizeImagePayload struct {
	JobID       string             `json:"job_id"`
	SourceType  string             `json:"source_type"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	ObjectKey   string             `json:"object_key"`
	Options     nano.Configuration `json:"options"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewOptimizeImageTask(payload OptimizeImagePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, errors.New("job_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal optimize payload: %w", err)
	}
	return asynq.NewTask(TypeOptimizeImage, body), nil
}

// ParseOptimizeImagePayload failures wrap asynq.SkipRetry.
func ParseOptimizeImagePayload(task *asynq.Task) (OptimizeImagePayload, error) {
	var payload OptimizeImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OptimizeImagePayload{}, fmt.Errorf("unmarshal optimize payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.JobID) == "" {
		return OptimizeImagePayload{}, fmt.Errorf("optimize payload missing job_id: %w", asynq.SkipRetry)
	}
	return payload, nil
}
