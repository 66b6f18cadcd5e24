package models

import "time"

// MemoryEventType classifies events recorded in the memory store.
type MemoryEventType string

const (
	MemoryTextInput      MemoryEventType = "text_input"
	MemoryVoiceInput     MemoryEventType = "voice_input"
	MemoryFileUpload     MemoryEventType = "file_upload"
	MemoryImageUpload    MemoryEventType = "image_upload"
	MemoryMetricAction   MemoryEventType = "metric_action"
	MemoryAnalysisResult MemoryEventType = "analysis_result"
)

// MemoryEvent is one entry in the append-only memory ring.
type MemoryEvent struct {
	ID            string          `json:"id"`
	TS            time.Time       `json:"ts"`
	EventType     MemoryEventType `json:"event_type"`
	Scene         Scene           `json:"scene"`
	UserText      string          `json:"user_text,omitempty"`
	ResultSummary string          `json:"result_summary,omitempty"`
	SQL           string          `json:"sql,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}
