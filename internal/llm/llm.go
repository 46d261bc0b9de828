// Package llm defines the single-round model-call primitive: send a
// conversation plus a set of callable tools, get back either free text or one
// or more selected calls. Loop logic lives with the callers.
package llm

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ParamDef is one parameter in a tool's flat object schema.
type ParamDef struct {
	Type        string    `json:"type"` // "string", "integer", "array", ...
	Description string    `json:"description,omitempty"`
	Items       *ParamDef `json:"items,omitempty"` // for arrays
}

// ToolDef describes one callable tool or signal offered to the model.
type ToolDef struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  map[string]ParamDef `json:"parameters,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToolCall is one selected invocation in a response.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolChoice controls whether the model must select a tool.
type ToolChoice int

const (
	ChoiceAuto     ToolChoice = iota // may answer with text or tools
	ChoiceRequired                   // must select at least one tool
	ChoiceNone                       // text only
)

// Request is one model call.
type Request struct {
	Messages  []Message
	Tools     []ToolDef
	Choice    ToolChoice
	MaxTokens int  // output cap; 0 means provider default
	LowEffort bool // latency/effort hint for cheap decision calls
}

// Delta is one streamed fragment. Reasoning deltas are passed through as-is
// for models that expose them.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaReasoning DeltaKind = "reasoning"
)

type Delta struct {
	Kind DeltaKind `json:"kind"`
	Text string    `json:"text"`
}

// Response is the full result of one call: free text, selected calls, or both.
// A response with zero tool calls is the free-text case; what that means is up
// to the caller.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the model-call primitive.
type Client interface {
	// Call performs one blocking round.
	Call(ctx context.Context, req Request) (*Response, error)
	// Stream performs one round, pushing deltas as they arrive. The returned
	// response carries the accumulated text.
	Stream(ctx context.Context, req Request, onDelta func(Delta)) (*Response, error)
	// NativeReasoning reports whether the underlying model reasons internally,
	// which halves cycle budgets and drops the explicit think signal.
	NativeReasoning() bool
}
