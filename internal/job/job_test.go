package job

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecord_DecodesBackendPayload(t *testing.T) {
	// Shape and field names as emitted by the processing backend, including
	// the ISO-8601 timestamp with explicit offset and microseconds.
	payload := `[{
		"filename": "report.pdf",
		"status": "Data Transfer",
		"user_id": "alice",
		"job_id": "3f1c2d4e",
		"started_at": "2026-08-31T10:15:30.123456+00:00",
		"progress": 7,
		"upload_progress": 42,
		"description": "Uploading (1.2 MB / 3.0 MB)",
		"error_message": "",
		"processed_filename": null
	}]`

	var records []Record
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.ID != "3f1c2d4e" {
		t.Errorf("expected id 3f1c2d4e, got %s", r.ID)
	}
	if r.Status != StatusDataTransfer {
		t.Errorf("expected status %q, got %q", StatusDataTransfer, r.Status)
	}
	want := time.Date(2026, 8, 31, 10, 15, 30, 123456000, time.UTC)
	if !r.StartedAt.Equal(want) {
		t.Errorf("expected start %v, got %v", want, r.StartedAt)
	}
	if r.UploadProgress == nil || *r.UploadProgress != 42 {
		t.Errorf("expected upload_progress 42, got %v", r.UploadProgress)
	}
}

func TestRecord_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDataTransfer, false},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		r := Record{Status: tt.status}
		if got := r.IsTerminal(); got != tt.want {
			t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
