// Package researcher runs one delegated research task: a tactical loop that
// calls the model with the session's real tools plus the finish (and
// optionally think) signals, executes whatever real tools are requested, and
// terminates by writing an intermediate report.
package researcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/signals"
	"github.com/example/research-orchestrator/internal/stream"
	"github.com/example/research-orchestrator/internal/tools"
)

const systemPrompt = `You are a research agent. You are given exactly one task and a set of tools.
Work the task with the tools. When you have gathered enough, call generate_report.
You cannot ask anyone for more context; the task text is all there is.`

const reportPrompt = `Write up everything relevant you found for the task below as dense, plain facts.
No title, no headings, no introduction, no conclusion, no narrative. Every claim that
came from a document must carry its inline citation marker, e.g. [1] or [2], using the
numbers from the tool results above. This text is read by another model, not a person.

Task reminder: %s`

// fetchNudge is injected one cycle after a web search returned, once.
const fetchNudge = "Reminder: search snippets are previews. Open the most promising " +
	"results with web_fetch before relying on them."

const stubReportText = "The research task timed out before a report could be written."

// Config bounds one agent run.
type Config struct {
	MaxCycles       int
	SoftCeiling     time.Duration // stop looping, still write a real report
	HardCeiling     time.Duration // whole-run deadline, stub result past it
	ReportTimeout   time.Duration
	ReportMaxTokens int
	CycleMaxTokens  int // low output cap per decision call
	HistoryTokens   int
}

// Report is what a completed run hands back to its caller.
type Report struct {
	Task      string
	Text      string
	Citations *citations.Mapping
	TimedOut  bool // hard ceiling fired; Text is a stub
}

// Researcher executes one task per Run call. Local state (history, citation
// scope) lives inside Run, so one value can serve sequential runs without
// leakage between them.
type Researcher struct {
	llm     llm.Client
	reg     *tools.Registry
	state   *tools.TurnState
	emitter stream.Emitter
	log     *zap.Logger
	cfg     Config
	turn    int // placement turn index assigned by the dispatching cycle
}

func New(client llm.Client, reg *tools.Registry, state *tools.TurnState, emitter stream.Emitter, log *zap.Logger, cfg Config, turn int) *Researcher {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 6
	}
	if cfg.CycleMaxTokens <= 0 {
		cfg.CycleMaxTokens = 1500
	}
	return &Researcher{llm: client, reg: reg, state: state, emitter: emitter, log: log, cfg: cfg, turn: turn}
}

// Run works one task. It accepts only the task text: the agent has no access
// to the plan, the original query, or sibling tasks, and that is enforced by
// this signature, not by convention. branch is the 0-2 parallel lane for
// placement tagging.
//
// Run never exceeds the hard ceiling: past it the in-flight work is abandoned
// and a stub timed-out report is returned in its place.
func (r *Researcher) Run(ctx context.Context, task string, branch int) (*Report, error) {
	if r.cfg.HardCeiling > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.HardCeiling)
		defer cancel()
	}

	type outcome struct {
		report *Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		rep, err := r.run(ctx, task, branch)
		done <- outcome{report: rep, err: err}
	}()

	select {
	case out := <-done:
		return out.report, out.err
	case <-ctx.Done():
		r.log.Warn("research agent hit hard ceiling", zap.Int("branch", branch))
		return &Report{
			Task:      task,
			Text:      stubReportText,
			Citations: citations.NewMapping(),
			TimedOut:  true,
		}, nil
	}
}

func (r *Researcher) run(ctx context.Context, task string, branch int) (*Report, error) {
	start := time.Now()
	place := func(depth int) stream.Placement {
		return stream.Placement{Turn: r.turn, Branch: branch, Depth: depth}
	}
	r.emitter.Emit(stream.Packet{Placement: place(0), Kind: stream.KindAgentStart, Text: task})

	local := citations.NewMapping()
	history := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "Task: " + task},
	}

	sigKinds := []signals.Kind{signals.KindGenerateReport}
	if !r.llm.NativeReasoning() {
		sigKinds = append(sigKinds, signals.KindThink)
	}

	nudgePending := false
	cycle := 0
	for cycle < r.cfg.MaxCycles {
		if r.cfg.SoftCeiling > 0 && time.Since(start) > r.cfg.SoftCeiling {
			r.log.Info("research agent soft ceiling reached, forcing report",
				zap.Int("branch", branch), zap.Int("cycle", cycle))
			break
		}
		if nudgePending {
			history = append(history, llm.Message{Role: llm.RoleUser, Content: fetchNudge})
			nudgePending = false
		}

		resp, err := r.llm.Call(ctx, llm.Request{
			Messages:  history,
			Tools:     append(r.reg.Defs(), signals.Defs(sigKinds...)...),
			Choice:    llm.ChoiceRequired,
			MaxTokens: r.cfg.CycleMaxTokens,
			LowEffort: true,
		})
		if err != nil {
			return nil, fmt.Errorf("research cycle %d: %w", cycle+1, err)
		}

		finished := false
		thought := ""
		for _, sig := range signals.Detect(resp) {
			switch sig.Kind {
			case signals.KindGenerateReport:
				finished = true
			case signals.KindThink:
				thought = sig.Thought
			}
		}
		if finished {
			break
		}
		if thought != "" {
			// the thought is kept either way; whether the cycle is free
			// depends on whether real tool calls came with it
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: thought})
		}

		real := realCalls(resp)
		if len(real) == 0 && thought != "" {
			// thinking alone is free: the cycle does not count against the budget
			history = append(history, llm.Message{Role: llm.RoleUser, Content: "Noted. Continue."})
			continue
		}
		if len(real) == 0 {
			// must-choose bypassed and nothing selected; treat the text as a
			// scratchpad line and move on, the low token cap keeps this cheap
			if resp.Text != "" {
				history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})
			}
			cycle++
			continue
		}

		// One real-tool type per cycle: a batch of same-type calls is fine,
		// mixed types are not (the placement-tagged stream cannot interleave
		// two tool sections in one lane). Extra types are dropped with a note.
		executed, note := r.executeCycle(ctx, real, local, place(1))
		if note != "" {
			history = append(history, llm.Message{Role: llm.RoleUser, Content: note})
		}
		for _, line := range executed {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: line.summary})
			history = append(history, llm.Message{Role: llm.RoleUser, Content: line.output})
			if line.tool == "web_search" {
				nudgePending = true
			}
		}
		cycle++
	}

	text, err := r.generateReport(ctx, task, history, place(1))
	if err != nil {
		return nil, err
	}
	r.emitter.Emit(stream.Packet{Placement: place(1), Kind: stream.KindReportCited, CitedDocs: local.Documents()})
	r.emitter.Emit(stream.Packet{Placement: place(0), Kind: stream.KindSectionEnd})
	return &Report{Task: task, Text: text, Citations: local}, nil
}

type executedCall struct {
	tool    string
	summary string
	output  string
}

// executeCycle runs every call of the cycle's first tool type, sequentially.
// Returns the executions plus a note when mixed types were requested.
func (r *Researcher) executeCycle(ctx context.Context, calls []llm.ToolCall, local *citations.Mapping, place stream.Placement) ([]executedCall, string) {
	chosen := calls[0].Name
	note := ""
	var sameType []llm.ToolCall
	for _, c := range calls {
		if c.Name == chosen {
			sameType = append(sameType, c)
		}
	}
	if len(sameType) < len(calls) {
		note = fmt.Sprintf("Only one tool type can run per cycle; executed %s and dropped the rest. Request the others next cycle.", chosen)
	}

	var out []executedCall
	for _, call := range sameType {
		res := r.executeOne(ctx, call, local)
		out = append(out, res)
	}
	return out, note
}

func (r *Researcher) executeOne(ctx context.Context, call llm.ToolCall, local *citations.Mapping) executedCall {
	summary := fmt.Sprintf("Calling %s(%s)", call.Name, compactArgs(call.Args))

	tool, ok := r.reg.Get(call.Name)
	if !ok {
		return executedCall{tool: call.Name, summary: summary, output: "Unknown tool: " + call.Name}
	}

	// stale-tolerant dedup: a concurrent agent may have fetched the same URL
	// a moment ago, in which case skipping is the cheap choice
	if call.Name == "web_fetch" {
		if u, _ := call.Args["url"].(string); u != "" {
			if r.state.AlreadyFetched(u) {
				return executedCall{tool: call.Name, summary: summary,
					output: "This URL was already fetched this turn. Use the content gathered so far or pick another URL."}
			}
			r.state.MarkFetched(u)
		}
	}

	res, err := tool.Execute(ctx, call.Args)
	if err != nil {
		r.log.Warn("tool execution failed", zap.String("tool", call.Name), zap.Error(err))
		return executedCall{tool: call.Name, summary: summary, output: "Tool error: " + err.Error()}
	}

	r.state.AppendRecord(tools.Record{Tool: call.Name, Args: call.Args, Output: res.Output, Docs: res.Docs, At: time.Now()})

	// surfaced documents enter the local scope; markers are never rewritten
	// here, so the numbers the model sees stay stable
	var cited []string
	for _, d := range res.Docs {
		n := local.Add(d)
		cited = append(cited, fmt.Sprintf("[%d] %s (%s)", n, d.Title, d.URL))
	}
	output := res.Output
	if len(cited) > 0 {
		output += "\n\nCitable documents:\n" + strings.Join(cited, "\n")
	}
	return executedCall{tool: call.Name, summary: summary, output: output}
}

// generateReport is a dedicated single call with no tools, bounded by its own
// timeout independent of the loop's ceilings.
func (r *Researcher) generateReport(ctx context.Context, task string, history []llm.Message, place stream.Placement) (string, error) {
	if r.cfg.ReportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ReportTimeout)
		defer cancel()
	}

	transcript := transcriptString(history)
	if r.cfg.HistoryTokens > 0 {
		transcript = llm.ClampTokens(transcript, r.cfg.HistoryTokens)
	}
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: transcript + "\n\n" + fmt.Sprintf(reportPrompt, task)},
	}

	r.emitter.Emit(stream.Packet{Placement: place, Kind: stream.KindReportStart})
	resp, err := r.llm.Stream(ctx, llm.Request{
		Messages:  msgs,
		Choice:    llm.ChoiceNone,
		MaxTokens: r.cfg.ReportMaxTokens,
	}, func(d llm.Delta) {
		r.emitter.Emit(stream.Packet{Placement: place, Kind: stream.KindReportDelta, Text: d.Text})
	})
	if err != nil {
		return "", fmt.Errorf("report generation: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func realCalls(resp *llm.Response) []llm.ToolCall {
	var out []llm.ToolCall
	for _, c := range resp.ToolCalls {
		if !signals.IsSignal(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func transcriptString(history []llm.Message) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		s := fmt.Sprintf("%v", v)
		if len(s) > 80 {
			s = s[:80] + "..."
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, ", ")
}
