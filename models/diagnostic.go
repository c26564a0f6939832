package models

import (
	"encoding/json"
	"time"
)

// DiagnosticRecord describes one captured failure: the log record plus the
// paths of the artifacts written for it.
type DiagnosticRecord struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	TraceID        string      `json:"trace_id,omitempty"`
	Action         string      `json:"action"`
	Selector       Selector    `json:"selector"`
	Kind           FailureKind `json:"kind"`
	Message        string      `json:"message"`
	PageURL        string      `json:"page_url,omitempty"`
	ScreenshotPath string      `json:"screenshot_path,omitempty"`
	SnapshotPath   string      `json:"snapshot_path,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (r *DiagnosticRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

func (r *DiagnosticRecord) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
