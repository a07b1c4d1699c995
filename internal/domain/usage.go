package domain

import "time"

// UsageLog is one billing record per optimized job.
type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	InputBytes      int64
	OutputBytes     int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

// NewUsageLog derives the usage record for a finished job. An output larger
// than its source saves nothing, and compute time is billed at 1ms minimum.
func NewUsageLog(userID, jobID string, out JobOutput, compute time.Duration, now time.Time) UsageLog {
	if userID == "" {
		userID = "anonymous"
	}
	return UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: int64(out.Width) * int64(out.Height),
		InputBytes:      int64(out.InputBytes),
		OutputBytes:     int64(out.OutputBytes),
		BytesSaved:      max(0, int64(out.InputBytes-out.OutputBytes)),
		ComputeTimeMS:   max(1, compute.Milliseconds()),
		CreatedAt:       now.UTC(),
	}
}
