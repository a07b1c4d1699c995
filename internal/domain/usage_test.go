package domain

import (
	"testing"
	"time"
)

func TestNewUsageLog(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	usage := NewUsageLog("user-1", "job-1", JobOutput{
		Width:       20,
		Height:      25,
		InputBytes:  1_000,
		OutputBytes: 400,
	}, 250*time.Millisecond, now)

	if usage.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usage.PixelsProcessed)
	}
	if usage.BytesSaved != 600 {
		t.Fatalf("expected bytes_saved=600, got %d", usage.BytesSaved)
	}
	if usage.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usage.ComputeTimeMS)
	}
	if !usage.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at=%s, got %s", now, usage.CreatedAt)
	}
}

func TestNewUsageLogClamps(t *testing.T) {
	usage := NewUsageLog("", "job-2", JobOutput{Width: 1, Height: 1, InputBytes: 100, OutputBytes: 200}, 0, time.Now())
	if usage.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %q", usage.UserID)
	}
	if usage.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", usage.BytesSaved)
	}
	if usage.ComputeTimeMS != 1 {
		t.Fatalf("expected compute_time_ms=1, got %d", usage.ComputeTimeMS)
	}
}
