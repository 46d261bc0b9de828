// Package orchestrator runs the strategic loop: it decides, cycle by cycle,
// whether to delegate research tasks, think, or finish, and folds completed
// agent reports into one accumulated history and citation scope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/researcher"
	"github.com/example/research-orchestrator/internal/signals"
	"github.com/example/research-orchestrator/internal/stream"
)

const systemPrompt = `You direct a research effort. Each turn you either delegate research tasks,
think, or finish. Delegated agents see nothing but the task text you write: every task must be
fully self-contained, one or two sentences, with all needed context embedded. Delegate up to
three tasks at once when they are independent.`

// firstCycleNudge counters the tendency to finish before anything has been
// researched. Injected on cycle 1 only.
const firstCycleNudge = "Nothing has been researched yet. Delegate at least one task before " +
	"considering generate_report."

// ErrNoSignalFirstCycle is the fatal case: free text on cycle 1 leaves
// nothing to synthesize from.
var ErrNoSignalFirstCycle = errors.New("model returned no signal on the first cycle")

// Agent runs one delegated task. The researcher satisfies this; tests swap in
// stubs.
type Agent interface {
	Run(ctx context.Context, task string, branch int) (*researcher.Report, error)
}

// SubStep is one completed delegation within a cycle, recorded for the
// persistence hand-off.
type SubStep struct {
	Parallel int                          `json:"parallel"`
	Task     string                       `json:"task"`
	Tool     string                       `json:"tool"`
	Answer   string                       `json:"answer"`
	TimedOut bool                         `json:"timed_out,omitempty"`
	Cited    []citations.NumberedDocument `json:"cited,omitempty"`
}

// Cycle is one orchestrator iteration's record.
type Cycle struct {
	Number    int       `json:"number"`
	Reasoning string    `json:"reasoning,omitempty"`
	SubSteps  []SubStep `json:"sub_steps,omitempty"`
}

// Outcome is what the execute phase hands back for synthesis.
type Outcome struct {
	Citations *citations.Mapping
	Cycles    []Cycle
	History   []string // merged report texts plus reasoning, in arrival order
	Forced    bool     // ceiling or budget forced the finish
}

type Config struct {
	MaxCycles         int
	MaxParallelAgents int
	PhaseCeiling      time.Duration
	DecisionMaxTokens int
}

type Orchestrator struct {
	llm     llm.Client
	spawn   func(turn int) Agent
	emitter stream.Emitter
	log     *zap.Logger
	cfg     Config
}

func New(client llm.Client, spawn func(turn int) Agent, emitter stream.Emitter, log *zap.Logger, cfg Config) *Orchestrator {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 8
	}
	if cfg.MaxParallelAgents <= 0 {
		cfg.MaxParallelAgents = 3
	}
	return &Orchestrator{llm: client, spawn: spawn, emitter: emitter, log: log, cfg: cfg}
}

// Run drives the loop until a finish signal, the cycle budget, or the phase
// ceiling ends it. The orchestrator itself never touches real tools.
func (o *Orchestrator) Run(ctx context.Context, question, plan string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Citations: citations.NewMapping()}

	budget := o.cfg.MaxCycles
	if o.llm.NativeReasoning() {
		// native reasoning needs no explicit think cycles
		budget = (budget + 1) / 2
	}

	sigKinds := []signals.Kind{signals.KindResearchAgent}
	if !o.llm.NativeReasoning() {
		sigKinds = append(sigKinds, signals.KindThink)
	}
	sigKinds = append(sigKinds, signals.KindGenerateReport)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nResearch plan:\n%s", question, plan)},
	}

	turn := 1
	cycle := 0
	for {
		// the last allowed cycle is reserved for synthesis, so the model call
		// is skipped once one cycle of budget remains
		if cycle >= budget-1 || (o.cfg.PhaseCeiling > 0 && time.Since(start) > o.cfg.PhaseCeiling) {
			// forced graceful degradation: skip the model call, synthesize
			// from whatever has accumulated
			o.log.Info("orchestrator ceiling reached, forcing synthesis",
				zap.Int("cycle", cycle), zap.Duration("elapsed", time.Since(start)))
			out.Forced = true
			return out, nil
		}

		if cycle == 0 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: firstCycleNudge})
		}

		resp, err := o.llm.Call(ctx, llm.Request{
			Messages:  messages,
			Tools:     signals.Defs(sigKinds...),
			Choice:    llm.ChoiceRequired,
			MaxTokens: o.cfg.DecisionMaxTokens,
			LowEffort: true,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator cycle %d: %w", cycle+1, err)
		}

		sigs := signals.Detect(resp)
		if len(sigs) == 0 {
			if cycle == 0 {
				return nil, ErrNoSignalFirstCycle
			}
			// must-choose bypassed on a later cycle: implicit finish
			o.log.Warn("zero signals selected, treating as finish", zap.Int("cycle", cycle+1))
			return out, nil
		}

		var tasks []string
		finish := false
		thought := ""
		for _, sig := range sigs {
			switch sig.Kind {
			case signals.KindGenerateReport:
				finish = true
			case signals.KindThink:
				thought = sig.Thought
			case signals.KindResearchAgent:
				if sig.Task != "" {
					tasks = append(tasks, sig.Task)
				}
			}
		}

		switch {
		case len(tasks) > 0:
			if len(tasks) > o.cfg.MaxParallelAgents {
				// the schema only asks for three; enforce it here instead of
				// trusting instruction text
				o.log.Warn("delegation cap exceeded", zap.Int("requested", len(tasks)))
				tasks = tasks[:o.cfg.MaxParallelAgents]
			}
			record := Cycle{Number: len(out.Cycles) + 1, Reasoning: thought}
			reports := o.dispatch(ctx, tasks, turn)
			for _, dr := range reports {
				if dr.report == nil {
					continue
				}
				merged, _ := citations.Merge(dr.report.Text, out.Citations, dr.report.Citations)
				entry := fmt.Sprintf("Task: %s\nReport:\n%s", dr.report.Task, merged)
				out.History = append(out.History, entry)
				messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: entry})
				record.SubSteps = append(record.SubSteps, SubStep{
					Parallel: dr.branch,
					Task:     dr.report.Task,
					Tool:     signals.KindResearchAgent.Name(),
					Answer:   merged,
					TimedOut: dr.report.TimedOut,
					Cited:    mergedCited(out.Citations, dr.report.Citations),
				})
			}
			out.Cycles = append(out.Cycles, record)
			turn++
			cycle++
		case finish:
			out.Cycles = append(out.Cycles, Cycle{Number: len(out.Cycles) + 1, Reasoning: thought})
			return out, nil
		case thought != "":
			// thinking is free: no budget consumed
			out.Cycles = append(out.Cycles, Cycle{Number: len(out.Cycles) + 1, Reasoning: thought})
			out.History = append(out.History, "Reasoning: "+thought)
			messages = append(messages,
				llm.Message{Role: llm.RoleAssistant, Content: thought},
				llm.Message{Role: llm.RoleUser, Content: "Noted. Decide the next step."},
			)
		default:
			// signals were selected but none is actionable, typically a
			// research_agent call with an empty task. This still consumes a
			// cycle: a provider stuck emitting malformed delegates must run
			// out of budget, not spin until the phase ceiling.
			o.log.Warn("unactionable signals, consuming cycle", zap.Int("cycle", cycle+1))
			messages = append(messages, llm.Message{Role: llm.RoleUser,
				Content: "Each research_agent call must carry a non-empty task. Delegate again with full task text, or call generate_report."})
			cycle++
		}
	}
}

type doneReport struct {
	branch int
	report *researcher.Report
}

// dispatch launches the delegations in parallel and blocks until all have
// completed or timed out. Results come back in completion order, which is the
// order citations merge in; real completion order is kept on purpose.
func (o *Orchestrator) dispatch(ctx context.Context, tasks []string, turn int) []doneReport {
	o.emitter.Emit(stream.Packet{
		Placement:   stream.Placement{Turn: turn, Branch: 0, Depth: 0},
		Kind:        stream.KindBranching,
		BranchCount: len(tasks),
	})

	results := make(chan doneReport, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		branch, task := i, task
		g.Go(func() error {
			agent := o.spawn(turn)
			rep, err := agent.Run(gctx, task, branch)
			if err != nil {
				// an agent failure is a missing contribution, never an abort
				o.log.Error("research agent failed", zap.Int("branch", branch), zap.Error(err))
				o.emitter.Emit(stream.Packet{
					Placement: stream.Placement{Turn: turn, Branch: branch, Depth: 0},
					Kind:      stream.KindError,
					Text:      err.Error(),
				})
				return nil
			}
			results <- doneReport{branch: branch, report: rep}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	var out []doneReport
	for r := range results {
		out = append(out, r)
	}
	return out
}

// mergedCited returns an agent's cited documents under their merged global
// numbers, so the stored answer's rewritten markers match the cited-docs list
// persisted beside it.
func mergedCited(global, local *citations.Mapping) []citations.NumberedDocument {
	out := make([]citations.NumberedDocument, 0, local.Len())
	for _, nd := range local.Documents() {
		if n, ok := global.NumberFor(nd.Document.ID); ok {
			out = append(out, citations.NumberedDocument{Number: n, Document: nd.Document})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// HistoryString flattens the accumulated history for the synthesis call.
func (o *Outcome) HistoryString() string {
	return strings.Join(o.History, "\n\n---\n\n")
}
