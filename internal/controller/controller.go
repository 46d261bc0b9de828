// Package controller drives one turn through the phase state machine:
// clarify, plan, execute, synthesize. Phases advance strictly forward; a
// clarification halts the turn instead of branching it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/config"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/orchestrator"
	"github.com/example/research-orchestrator/internal/researcher"
	"github.com/example/research-orchestrator/internal/signals"
	"github.com/example/research-orchestrator/internal/store"
	"github.com/example/research-orchestrator/internal/stream"
	"github.com/example/research-orchestrator/internal/tools"
)

// ClarificationPrefix marks an assistant message as a clarification question.
// Its presence in the history tells a later turn that the round already
// happened, so clarification never loops.
const ClarificationPrefix = "QUESTION: "

const clarifySystemPrompt = `You triage incoming research questions. If the question is specific
enough to research, call generate_plan. If one missing detail would change the whole research
direction, ask exactly one short clarifying question as plain text instead. Never ask about
details you could resolve by researching.`

const planSystemPrompt = `Write a research plan for the question as a short numbered list of
steps, at most %d. Each step is one sentence. Output only the list.`

const synthesisSystemPrompt = `Write the final answer to the question from the research reports
below. Preserve inline citation markers like [1] exactly where the reports use them, and only
use numbers that appear in the source list. Do not invent citations.`

// ErrEmptyPlan is fatal: the executing phase has nothing to work from.
var ErrEmptyPlan = errors.New("planning produced an empty plan")

// TurnInput is one user turn plus the conversational context it arrived with.
type TurnInput struct {
	ID          string
	Query       string
	History     []llm.Message // prior turns, oldest first
	SkipClarify bool          // caller opts out of the clarification round
}

// TurnOutcome is everything a finished turn produced.
type TurnOutcome struct {
	TurnID            string
	Clarification     string // set iff ClarificationOnly
	ClarificationOnly bool
	Plan              string
	Answer            string
	Forced            bool
	Citations         []citations.NumberedDocument
	Cycles            []orchestrator.Cycle
}

type Controller struct {
	llm   llm.Client
	store store.Store
	hub   *stream.Hub
	log   *zap.Logger
	cfg   config.Config

	// NewRegistry builds the tool set one executing phase uses. Tests swap
	// it; the default is the web search and fetch pair.
	NewRegistry func() *tools.Registry
}

func New(client llm.Client, st store.Store, hub *stream.Hub, log *zap.Logger, cfg config.Config) *Controller {
	return &Controller{
		llm:   client,
		store: st,
		hub:   hub,
		log:   log,
		cfg:   cfg,
		NewRegistry: func() *tools.Registry {
			reg := tools.NewRegistry()
			reg.Register(tools.NewWebSearchTool())
			reg.Register(tools.NewWebFetchTool())
			return reg
		},
	}
}

// RunTurn executes one full turn. A clarification question is a complete,
// successful turn with ClarificationOnly set.
func (c *Controller) RunTurn(ctx context.Context, in TurnInput) (*TurnOutcome, error) {
	emitter := c.hub.Emitter(in.ID)
	out := &TurnOutcome{TurnID: in.ID}

	if c.shouldClarify(in) {
		question, proceed, err := c.clarify(ctx, in)
		if err != nil {
			return nil, err
		}
		if !proceed {
			out.Clarification = question
			out.ClarificationOnly = true
			c.emitAnswer(emitter, question)
			c.persist(ctx, in, out)
			return out, nil
		}
	}

	plan, err := c.plan(ctx, in, emitter)
	if err != nil {
		return nil, err
	}
	out.Plan = plan

	exec, err := c.execute(ctx, in, plan, emitter)
	if err != nil {
		return nil, err
	}
	out.Forced = exec.Forced
	out.Cycles = exec.Cycles
	out.Citations = exec.Citations.Documents()

	answer, err := c.synthesize(ctx, in, plan, exec, emitter)
	if err != nil {
		return nil, err
	}
	out.Answer = answer

	c.persist(ctx, in, out)
	return out, nil
}

// shouldClarify is false when the caller opted out or when a prior assistant
// message already asked; one clarification round per conversation, maximum.
func (c *Controller) shouldClarify(in TurnInput) bool {
	if in.SkipClarify {
		return false
	}
	for _, m := range in.History {
		if m.Role == llm.RoleAssistant && strings.HasPrefix(m.Content, ClarificationPrefix) {
			return false
		}
	}
	return true
}

// clarify returns (question, false, nil) when the model asked instead of
// proceeding. The generate_plan signal carries no payload; its presence alone
// advances the phase.
func (c *Controller) clarify(ctx context.Context, in TurnInput) (string, bool, error) {
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: clarifySystemPrompt}}, in.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Query})

	resp, err := c.llm.Call(ctx, llm.Request{
		Messages:  messages,
		Tools:     signals.Defs(signals.KindGeneratePlan),
		Choice:    llm.ChoiceAuto,
		MaxTokens: c.cfg.DecisionMaxTokens,
	})
	if err != nil {
		return "", false, fmt.Errorf("clarify: %w", err)
	}
	for _, sig := range signals.Detect(resp) {
		if sig.Kind == signals.KindGeneratePlan {
			return "", true, nil
		}
	}
	question := strings.TrimSpace(resp.Text)
	if question == "" {
		// nothing asked and nothing signalled; proceed rather than stall
		c.log.Warn("clarify returned neither signal nor text", zap.String("turn", in.ID))
		return "", true, nil
	}
	if !strings.HasPrefix(question, ClarificationPrefix) {
		question = ClarificationPrefix + question
	}
	return question, false, nil
}

func (c *Controller) plan(ctx context.Context, in TurnInput, emitter stream.Emitter) (string, error) {
	emitter.Emit(stream.Packet{Kind: stream.KindPlanStart})

	messages := append([]llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(planSystemPrompt, c.cfg.MaxPlanSteps)},
	}, in.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Query})

	resp, err := c.llm.Stream(ctx, llm.Request{
		Messages: messages,
		Choice:   llm.ChoiceNone,
	}, func(d llm.Delta) {
		if d.Kind == llm.DeltaText {
			emitter.Emit(stream.Packet{Kind: stream.KindPlanDelta, Text: d.Text})
		}
	})
	if err != nil {
		return "", fmt.Errorf("plan: %w", err)
	}
	plan := strings.TrimSpace(resp.Text)
	if plan == "" {
		return "", ErrEmptyPlan
	}
	emitter.Emit(stream.Packet{Kind: stream.KindSectionEnd})
	// stored verbatim; the orchestrator treats it as advisory text
	return plan, nil
}

func (c *Controller) execute(ctx context.Context, in TurnInput, plan string, emitter stream.Emitter) (*orchestrator.Outcome, error) {
	reg := c.NewRegistry()
	state := tools.NewTurnState()

	spawn := func(turn int) orchestrator.Agent {
		return researcher.New(c.llm, reg, state, emitter, c.log, researcher.Config{
			MaxCycles:       c.cfg.MaxResearchCycles,
			SoftCeiling:     c.cfg.AgentSoftCeiling,
			HardCeiling:     c.cfg.AgentHardCeiling,
			ReportTimeout:   c.cfg.ReportTimeout,
			ReportMaxTokens: c.cfg.ReportMaxTokens,
			CycleMaxTokens:  c.cfg.DecisionMaxTokens,
			HistoryTokens:   c.cfg.HistoryMaxTokens,
		}, turn)
	}

	orch := orchestrator.New(c.llm, spawn, emitter, c.log, orchestrator.Config{
		MaxCycles:         c.cfg.MaxCycles,
		MaxParallelAgents: c.cfg.MaxParallelAgents,
		PhaseCeiling:      c.cfg.PhaseCeiling,
		DecisionMaxTokens: c.cfg.DecisionMaxTokens,
	})
	return orch.Run(ctx, in.Query, plan)
}

func (c *Controller) synthesize(ctx context.Context, in TurnInput, plan string, exec *orchestrator.Outcome, emitter stream.Emitter) (string, error) {
	if c.cfg.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SynthesisTimeout)
		defer cancel()
	}

	emitter.Emit(stream.Packet{Kind: stream.KindAnswerStart})

	var sources strings.Builder
	for _, nd := range exec.Citations.Documents() {
		fmt.Fprintf(&sources, "[%d] %s — %s\n", nd.Number, nd.Document.Title, nd.Document.URL)
	}
	history := llm.ClampTokens(exec.HistoryString(), c.cfg.HistoryMaxTokens)

	prompt := fmt.Sprintf("Question: %s\n\nResearch plan:\n%s\n\nResearch reports:\n%s\n\nSources:\n%s",
		in.Query, plan, history, sources.String())

	resp, err := c.llm.Stream(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesisSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Choice: llm.ChoiceNone,
	}, func(d llm.Delta) {
		switch d.Kind {
		case llm.DeltaText:
			emitter.Emit(stream.Packet{Kind: stream.KindAnswerDelta, Text: d.Text})
		case llm.DeltaReasoning:
			emitter.Emit(stream.Packet{Kind: stream.KindReasoningDelta, Text: d.Text})
		}
	})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	emitter.Emit(stream.Packet{Kind: stream.KindSectionEnd})
	return strings.TrimSpace(resp.Text), nil
}

// emitAnswer pushes a non-streamed answer (the clarification case) through
// the same packet kinds a streamed one uses.
func (c *Controller) emitAnswer(emitter stream.Emitter, text string) {
	emitter.Emit(stream.Packet{Kind: stream.KindAnswerStart})
	emitter.Emit(stream.Packet{Kind: stream.KindAnswerDelta, Text: text})
	emitter.Emit(stream.Packet{Kind: stream.KindSectionEnd})
}

// persist hands the turn off for storage. A storage failure is logged, never
// surfaced: the user already has the answer.
func (c *Controller) persist(ctx context.Context, in TurnInput, out *TurnOutcome) {
	if c.store == nil {
		return
	}
	rec := &store.TurnRecord{
		TurnID:            in.ID,
		Query:             in.Query,
		Plan:              out.Plan,
		Answer:            out.Answer,
		ClarificationOnly: out.ClarificationOnly,
		Forced:            out.Forced,
		Cycles:            out.Cycles,
		Citations:         out.Citations,
		CreatedAt:         time.Now(),
	}
	if out.ClarificationOnly {
		rec.Answer = out.Clarification
	}
	if err := c.store.SaveTurn(ctx, rec); err != nil {
		c.log.Error("persist turn", zap.String("turn", in.ID), zap.Error(err))
	}
}
