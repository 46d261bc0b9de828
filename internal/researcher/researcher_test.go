package researcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/stream"
	"github.com/example/research-orchestrator/internal/tools"
)

type fakeTool struct {
	name   string
	output string
	docs   []citations.Document
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Def() llm.ToolDef {
	return llm.ToolDef{Name: f.name, Description: "test tool"}
}

func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &tools.Result{Output: f.output, Docs: f.docs}, nil
}

func searchCall(queries ...string) llm.ToolCall {
	args := make([]any, len(queries))
	for i, q := range queries {
		args[i] = q
	}
	return llm.ToolCall{Name: "web_search", Args: map[string]any{"queries": args}}
}

func reportSignal() llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{Name: "generate_report"}}}
}

func newTestResearcher(client llm.Client, reg *tools.Registry, state *tools.TurnState, cfg Config) *Researcher {
	return New(client, reg, state, stream.Discard, zap.NewNop(), cfg, 1)
}

func TestRunFinishesWithReport(t *testing.T) {
	search := &fakeTool{name: "web_search", output: "snippet about topic",
		docs: []citations.Document{{ID: "d1", Title: "Doc 1", URL: "https://a"}}}
	reg := tools.NewRegistry()
	reg.Register(search)

	mock := llm.NewMock().
		Enqueue(llm.Response{ToolCalls: []llm.ToolCall{searchCall("topic")}}).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "Topic fact established [1]."})

	state := tools.NewTurnState()
	r := newTestResearcher(mock, reg, state, Config{MaxCycles: 4})

	rep, err := r.Run(context.Background(), "research the topic", 0)
	require.NoError(t, err)
	assert.Equal(t, "Topic fact established [1].", rep.Text)
	assert.False(t, rep.TimedOut)
	assert.EqualValues(t, 1, search.calls.Load())

	// report citation numbers are a subset of the local scope
	for _, n := range citations.Markers(rep.Text) {
		_, ok := rep.Citations.Get(n)
		assert.True(t, ok, "marker [%d] missing from local mapping", n)
	}
	// the surfaced document landed in the shared container
	assert.Len(t, state.Records(), 1)
}

func TestSearchNudgeInjectedOnce(t *testing.T) {
	search := &fakeTool{name: "web_search", output: "snippets"}
	reg := tools.NewRegistry()
	reg.Register(search)

	mock := llm.NewMock().
		Enqueue(llm.Response{ToolCalls: []llm.ToolCall{searchCall("q")}}).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "done"})

	r := newTestResearcher(mock, reg, tools.NewTurnState(), Config{MaxCycles: 4})
	_, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)

	// the second decision call carries the one-shot fetch reminder
	second := mock.Requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Content == fetchNudge {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSoftCeilingForcesReportFromGatheredHistory(t *testing.T) {
	search := &fakeTool{name: "web_search", output: "gathered facts", delay: 5 * time.Millisecond,
		docs: []citations.Document{{ID: "d1", Title: "Doc 1"}, {ID: "d2", Title: "Doc 2"}}}
	reg := tools.NewRegistry()
	reg.Register(search)

	mock := llm.NewMock().
		Enqueue(llm.Response{ToolCalls: []llm.ToolCall{searchCall("q")}}).
		Enqueue(llm.Response{Text: "Facts from the two sources [1][2]."})

	r := newTestResearcher(mock, reg, tools.NewTurnState(), Config{
		MaxCycles:   10,
		SoftCeiling: time.Millisecond,
	})
	rep, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)

	// loop stopped after one cycle even though the budget allowed ten
	assert.EqualValues(t, 1, search.calls.Load())
	assert.Equal(t, "Facts from the two sources [1][2].", rep.Text)
	assert.Equal(t, 2, rep.Citations.Len())
	assert.False(t, rep.TimedOut)
}

// blockingClient hangs every call until its context is cancelled.
type blockingClient struct{}

func (blockingClient) Call(ctx context.Context, req llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b blockingClient) Stream(ctx context.Context, req llm.Request, onDelta func(llm.Delta)) (*llm.Response, error) {
	return b.Call(ctx, req)
}

func (blockingClient) NativeReasoning() bool { return false }

func TestHardCeilingReturnsStub(t *testing.T) {
	reg := tools.NewRegistry()
	r := newTestResearcher(blockingClient{}, reg, tools.NewTurnState(), Config{
		MaxCycles:   4,
		HardCeiling: 20 * time.Millisecond,
	})
	rep, err := r.Run(context.Background(), "task", 2)
	require.NoError(t, err)
	assert.True(t, rep.TimedOut)
	assert.Equal(t, stubReportText, rep.Text)
	assert.Equal(t, 0, rep.Citations.Len())
}

func TestThinkCycleIsFree(t *testing.T) {
	reg := tools.NewRegistry()
	mock := llm.NewMock().
		Enqueue(llm.Response{ToolCalls: []llm.ToolCall{{Name: "think_tool", Args: map[string]any{"thought": "weigh options"}}}}).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "done"})

	// a one-cycle budget still allows think + finish: thinking is free
	r := newTestResearcher(mock, reg, tools.NewTurnState(), Config{MaxCycles: 1})
	rep, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, "done", rep.Text)
}

func TestThoughtAlongsideToolCallsKeepsBoth(t *testing.T) {
	search := &fakeTool{name: "web_search", output: "results"}
	reg := tools.NewRegistry()
	reg.Register(search)

	combined := llm.Response{ToolCalls: []llm.ToolCall{
		{Name: "think_tool", Args: map[string]any{"thought": "search before concluding"}},
		searchCall("q"),
	}}
	mock := llm.NewMock().
		Enqueue(combined).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "done"})

	r := newTestResearcher(mock, reg, tools.NewTurnState(), Config{MaxCycles: 4})
	_, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)

	// the tool call runs and the thought stays in the transcript
	assert.EqualValues(t, 1, search.calls.Load())
	second := mock.Requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Content == "search before concluding" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOneToolTypePerCycle(t *testing.T) {
	search := &fakeTool{name: "web_search", output: "results"}
	fetch := &fakeTool{name: "web_fetch", output: "page"}
	reg := tools.NewRegistry()
	reg.Register(search)
	reg.Register(fetch)

	mixed := llm.Response{ToolCalls: []llm.ToolCall{
		searchCall("a"),
		{Name: "web_fetch", Args: map[string]any{"url": "https://x"}},
		searchCall("b"),
	}}
	mock := llm.NewMock().
		Enqueue(mixed).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "done"})

	r := newTestResearcher(mock, reg, tools.NewTurnState(), Config{MaxCycles: 4})
	_, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)

	assert.EqualValues(t, 2, search.calls.Load(), "both search calls run as a batch")
	assert.EqualValues(t, 0, fetch.calls.Load(), "second tool type dropped this cycle")
}

func TestFetchDedupSkipsExecution(t *testing.T) {
	fetch := &fakeTool{name: "web_fetch", output: "page"}
	reg := tools.NewRegistry()
	reg.Register(fetch)

	state := tools.NewTurnState()
	state.MarkFetched("https://x")

	mock := llm.NewMock().
		Enqueue(llm.Response{ToolCalls: []llm.ToolCall{{Name: "web_fetch", Args: map[string]any{"url": "https://x"}}}}).
		Enqueue(reportSignal()).
		Enqueue(llm.Response{Text: "done"})

	r := newTestResearcher(mock, reg, state, Config{MaxCycles: 4})
	_, err := r.Run(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fetch.calls.Load())
}

func TestIdenticalTasksShareOnlyTheAdditiveContainer(t *testing.T) {
	state := tools.NewTurnState()
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "web_search", output: "out",
		docs: []citations.Document{{ID: "shared", Title: "S"}}})

	run := func() *Report {
		mock := llm.NewMock().
			Enqueue(llm.Response{ToolCalls: []llm.ToolCall{searchCall("q")}}).
			Enqueue(reportSignal()).
			Enqueue(llm.Response{Text: "report [1]"})
		r := newTestResearcher(mock, reg, state, Config{MaxCycles: 4})
		rep, err := r.Run(context.Background(), "identical task", 0)
		require.NoError(t, err)
		return rep
	}

	a, b := run(), run()
	// each run owns an independent citation scope
	assert.NotSame(t, a.Citations, b.Citations)
	assert.Equal(t, 1, a.Citations.Len())
	assert.Equal(t, 1, b.Citations.Len())
	// only the shared container accumulated across runs
	assert.Len(t, state.Records(), 2)
	assert.Len(t, state.Documents(), 1)
}
