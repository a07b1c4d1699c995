package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/nanoimg/internal/nano"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string              `json:"source_type"`
	WebhookURL string              `json:"webhook_url,omitempty"`
	ObjectKey  string              `json:"object_key,omitempty"`
	Preset     string              `json:"preset,omitempty"`
	Options    *nano.Configuration `json:"options,omitempty"`
}

type JobOutput struct {
	Path        string `json:"path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Channels    int    `json:"channels"`
	InputBytes  int    `json:"input_bytes"`
	OutputBytes int    `json:"output_bytes"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	Options    nano.Configuration
	Output     *JobOutput
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if r.Options != nil && strings.TrimSpace(r.Preset) != "" {
		return errors.New("preset and options are mutually exclusive")
	}
	if _, err := r.Configuration(); err != nil {
		return err
	}
	return nil
}

// Configuration resolves the optimizer settings: explicit options win, then
// the named preset, then the default.
func (r CreateJobRequest) Configuration() (nano.Configuration, error) {
	if r.Options != nil {
		if err := r.Options.Validate(); err != nil {
			return nano.Configuration{}, fmt.Errorf("options: %w", err)
		}
		return *r.Options, nil
	}
	return nano.Preset(r.Preset)
}
