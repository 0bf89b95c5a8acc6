package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event represents one parsed line of the pipeline log.
type Event struct {
	Line      int                        `json:"line"`
	SessionID string                     `json:"session_id,omitempty"`
	Time      time.Time                  `json:"time"`
	Message   string                     `json:"message"`
	Payload   map[string]json.RawMessage `json:"payload,omitempty"`
	Raw       []byte                     `json:"-"` // Only populated when the reader keeps raw lines
}

// Field decodes a top-level payload field into v. It reports false when the
// field is absent, null, or does not decode into v.
func (e Event) Field(name string, v any) bool {
	raw, ok := e.Payload[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// String returns a top-level string field, or "" when absent or not a string.
func (e Event) String(name string) string {
	var s string
	if !e.Field(name, &s) {
		return ""
	}
	return s
}

// Bool returns a top-level boolean field, or false when absent or not a boolean.
func (e Event) Bool(name string) bool {
	var b bool
	if !e.Field(name, &b) {
		return false
	}
	return b
}

// Has reports whether the payload carries a non-null value for name.
func (e Event) Has(name string) bool {
	raw, ok := e.Payload[name]
	return ok && len(raw) > 0 && string(raw) != "null"
}

// ParseError records a log line that could not be turned into an Event.
type ParseError struct {
	Line int
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
