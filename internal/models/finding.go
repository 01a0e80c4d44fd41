package models

// PatternKind classifies a reflection finding.
type PatternKind string

const (
	PatternRepeatedToolUse      PatternKind = "repeated_tool_use"
	PatternErrorPattern         PatternKind = "error_pattern"
	PatternLongSession          PatternKind = "long_session"
	PatternFrustrationIndicator PatternKind = "frustration_indicator"
	PatternRepeatedRead         PatternKind = "repeated_read"
)

// ReflectionFinding is one pattern detected in a completed session's
// transcript, with a fixed suggestion looked up by kind.
type ReflectionFinding struct {
	ID          int64       `yaml:"-"`
	SessionID   string      `yaml:"-"`
	PatternKind PatternKind `yaml:"pattern_kind"`
	Identifier  string      `yaml:"identifier,omitempty"`
	Count       int         `yaml:"count,omitempty"`
	Suggestion  string      `yaml:"suggestion"`
}

// SessionMetrics summarizes a transcript for the findings artifact.
type SessionMetrics struct {
	MessageCount int `yaml:"message_count"`
	ToolUseCount int `yaml:"tool_use_count"`
	ErrorCount   int `yaml:"error_count"`
}

// Message is one transcript entry as captured from the host runtime.
type Message struct {
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	ToolUses []ToolUse `json:"tool_uses,omitempty"`
}

// ToolUse records a single tool invocation within a message. Target carries
// the tool-specific subject (file path for reads, command for shell tools).
type ToolUse struct {
	Name    string `json:"name"`
	Target  string `json:"target,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}
