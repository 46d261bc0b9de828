// Package signals defines the fixed set of control-flow operations a model
// call can select. A signal looks like a tool to the model but has no backing
// implementation; the loops intercept it and branch on the kind.
package signals

import (
	"github.com/example/research-orchestrator/internal/llm"
)

// Kind is the closed set of signal operations.
type Kind int

const (
	// KindGeneratePlan is the clarification-phase "proceed to planning" signal.
	KindGeneratePlan Kind = iota
	// KindResearchAgent delegates one self-contained task (orchestrator only).
	KindResearchAgent
	// KindGenerateReport is the completion signal at either loop level.
	KindGenerateReport
	// KindThink is the free-text scratchpad, omitted for natively reasoning
	// models.
	KindThink
)

const (
	nameGeneratePlan   = "generate_plan"
	nameResearchAgent  = "research_agent"
	nameGenerateReport = "generate_report"
	nameThink          = "think_tool"
)

func (k Kind) Name() string {
	switch k {
	case KindGeneratePlan:
		return nameGeneratePlan
	case KindResearchAgent:
		return nameResearchAgent
	case KindGenerateReport:
		return nameGenerateReport
	case KindThink:
		return nameThink
	}
	return ""
}

// Signal is one selected operation with its payload.
type Signal struct {
	Kind    Kind
	Task    string // research_agent payload
	Thought string // think_tool payload
}

var defs = map[Kind]llm.ToolDef{
	KindGeneratePlan: {
		Name: nameGeneratePlan,
		Description: "Call this when the request needs no further clarification " +
			"and research can begin.",
	},
	KindResearchAgent: {
		Name: nameResearchAgent,
		Description: "Dispatch one research task to an independent research agent. " +
			"The agent sees nothing but the task text, so the task must carry all " +
			"context it needs, stated in one or two sentences. Call this several " +
			"times in one turn to run tasks in parallel (at most 3).",
		Parameters: map[string]llm.ParamDef{
			"task": {Type: "string", Description: "A fully self-contained research task."},
		},
		Required: []string{"task"},
	},
	KindGenerateReport: {
		Name: nameGenerateReport,
		Description: "Call this when enough information has been gathered and the " +
			"final report should be written. Do not call it before any research has " +
			"been done.",
	},
	KindThink: {
		Name: nameThink,
		Description: "Think out loud about what has been learned so far and what " +
			"to do next. Use this before deciding when the next step is not obvious.",
		Parameters: map[string]llm.ParamDef{
			"thought": {Type: "string", Description: "The reasoning."},
		},
		Required: []string{"thought"},
	},
}

// Defs returns the tool definitions for a set of signal kinds, preserving the
// given order.
func Defs(kinds ...Kind) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, defs[k])
	}
	return out
}

// Detect scans a response's selected calls and returns those that are signals,
// in selection order. Calls whose names are not signals (real tools) are left
// for the caller. A response with zero detected signals is the free-text or
// ambiguous case; deciding what that means is the caller's job.
func Detect(resp *llm.Response) []Signal {
	if resp == nil {
		return nil
	}
	var out []Signal
	for _, call := range resp.ToolCalls {
		switch call.Name {
		case nameGeneratePlan:
			out = append(out, Signal{Kind: KindGeneratePlan})
		case nameResearchAgent:
			task, _ := call.Args["task"].(string)
			out = append(out, Signal{Kind: KindResearchAgent, Task: task})
		case nameGenerateReport:
			out = append(out, Signal{Kind: KindGenerateReport})
		case nameThink:
			thought, _ := call.Args["thought"].(string)
			out = append(out, Signal{Kind: KindThink, Thought: thought})
		}
	}
	return out
}

// IsSignal reports whether a tool-call name belongs to the signal set.
func IsSignal(name string) bool {
	switch name {
	case nameGeneratePlan, nameResearchAgent, nameGenerateReport, nameThink:
		return true
	}
	return false
}
