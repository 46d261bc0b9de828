// Package stream carries the engine's live output: every unit is a Packet
// tagged with a 3D UI coordinate and pushed to per-turn subscriber queues.
package stream

import (
	"sync"

	"github.com/example/research-orchestrator/internal/citations"
)

// Placement positions a packet in the UI: the sequential turn index, the
// parallel branch (0-2) within that turn, and the nesting depth inside the
// branch.
type Placement struct {
	Turn   int `json:"turn"`
	Branch int `json:"branch"`
	Depth  int `json:"depth"`
}

type Kind string

const (
	KindPlanStart      Kind = "plan_start"
	KindPlanDelta      Kind = "plan_delta"
	KindAgentStart     Kind = "agent_start" // Text carries the task
	KindReportStart    Kind = "report_start"
	KindReportDelta    Kind = "report_delta"
	KindReportCited    Kind = "report_cited_docs"
	KindBranching      Kind = "branching" // BranchCount pre-allocates lanes
	KindSectionEnd     Kind = "section_end"
	KindError          Kind = "error"
	KindAnswerStart    Kind = "answer_start"
	KindAnswerDelta    Kind = "answer_delta"    // final synthesis pass-through
	KindReasoningDelta Kind = "reasoning_delta" // provider reasoning pass-through
)

// Packet is one streamed unit. Packets are append-only and never revised; a
// later correction is a new packet.
type Packet struct {
	Placement   Placement                    `json:"placement"`
	Kind        Kind                         `json:"kind"`
	Text        string                       `json:"text,omitempty"`
	BranchCount int                          `json:"branch_count,omitempty"`
	CitedDocs   []citations.NumberedDocument `json:"cited_docs,omitempty"`
}

// Emitter pushes packets toward a consumer. Implementations must tolerate
// concurrent calls from parallel branches.
type Emitter interface {
	Emit(p Packet)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(p Packet)

func (f EmitterFunc) Emit(p Packet) { f(p) }

// Discard drops every packet. Used by tests and headless runs.
var Discard Emitter = EmitterFunc(func(Packet) {})

// Recorder collects packets in emission order. Safe for concurrent branches.
type Recorder struct {
	mu      sync.Mutex
	packets []Packet
}

func (r *Recorder) Emit(p Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
}

func (r *Recorder) Packets() []Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Packet, len(r.packets))
	copy(out, r.packets)
	return out
}
