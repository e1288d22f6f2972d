package model

import "time"

// Event types and methods stamped on emitted records.
const (
	EventTypeEvent     = "event"
	EventTypeRateLimit = "api_ratelimit_remaining"

	MethodCollect = "collect_audit_logs"
	MethodRun     = "run"
)

// Record is asa-audit's output type: one structured log line for downstream ingestion.
type Record struct {
	Time      time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	EventType string         `json:"event_type"`
	Method    string         `json:"method"`
	Env       string         `json:"env"`
	Fields    map[string]any `json:"fields,omitempty"`
}
