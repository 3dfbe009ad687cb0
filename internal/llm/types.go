// Package llm wraps two interchangeable text-completion backends behind a
// gateway that applies budget-based routing, failure fallback, and usage
// accounting.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrBackendFailure is returned when the fallback backend also fails (or the
// fallback was selected and failed). There is no further recovery.
var ErrBackendFailure = errors.New("model backend failure")

// ToolDef describes a function-style tool offered to the model.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  Schema `json:"parameters"`
}

// Schema describes the JSON argument structure of a tool.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolCall is one structured tool invocation returned by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Completion is a normalized model response. Cost is the provider-reported
// total token count for the call.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Cost      int64
}

// Backend is a single text-completion service. Implementations own their own
// networking and timeouts; the gateway treats a call as opaque blocking I/O
// bounded by ctx.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string, tools []ToolDef) (*Completion, error)
}
