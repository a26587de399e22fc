package models

import (
	"encoding/json"
	"time"
)

// Tool describes an executable tool in the catalog.
type Tool struct {
	ToolID        string          `json:"tool_id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Description   string          `json:"description"`
	Endpoint      json.RawMessage `json:"endpoint,omitempty"`
	RequestSchema json.RawMessage `json:"request_schema,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
}
