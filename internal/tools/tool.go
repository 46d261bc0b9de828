// Package tools holds the real-tool primitive: uniform, schema-described
// operations an agent can execute, each returning a payload plus any
// documents it surfaced.
package tools

import (
	"context"
	"time"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
)

// Result is one tool invocation's outcome.
type Result struct {
	Output string
	Logs   string
	Docs   []citations.Document
}

type Tool interface {
	Name() string
	// Def is the schema handed to the model call.
	Def() llm.ToolDef
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) {
	if _, dup := r.tools[t.Name()]; !dup {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns every registered tool's schema in registration order.
func (r *Registry) Defs() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Def())
	}
	return out
}

// Record is one completed real-tool invocation. Appended to the shared turn
// state and never mutated afterwards.
type Record struct {
	Tool   string               `json:"tool"`
	Args   map[string]any       `json:"args,omitempty"`
	Output string               `json:"output"`
	Docs   []citations.Document `json:"docs,omitempty"`
	At     time.Time            `json:"at"`
}
