// Package config reads the engine's knobs from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every budget and ceiling. The three time ceilings are
// independent and not nested: worst-case turn runtime is the sum of the
// largest applicable ceilings per level plus the synthesis timeout. That is a
// documented property of the design, not a bound this package enforces.
type Config struct {
	Addr   string
	DBPath string

	MaxCycles         int // orchestrator cycles; halved when the model reasons natively
	MaxResearchCycles int // per-agent tool-loop cycles
	MaxParallelAgents int // delegations honoured per orchestrator cycle
	MaxPlanSteps      int

	AgentSoftCeiling time.Duration // stop the tool loop, still write a real report
	AgentHardCeiling time.Duration // whole-agent deadline, stub result past it
	PhaseCeiling     time.Duration // orchestrator ceiling from phase start
	ReportTimeout    time.Duration // report-generation call, independent of the loop
	SynthesisTimeout time.Duration

	ReportMaxTokens   int // intermediate report length cap
	DecisionMaxTokens int // cheap safety net against degenerate repeated output
	HistoryMaxTokens  int // clamp applied before report/synthesis calls
}

func FromEnv() Config {
	return Config{
		Addr:   envStr("ADDR", ":8080"),
		DBPath: envStr("DB_PATH", "research.db"),

		MaxCycles:         envInt("MAX_CYCLES", 8),
		MaxResearchCycles: envInt("MAX_RESEARCH_CYCLES", 6),
		MaxParallelAgents: envInt("MAX_PARALLEL_AGENTS", 3),
		MaxPlanSteps:      envInt("MAX_PLAN_STEPS", 6),

		AgentSoftCeiling: envDuration("AGENT_SOFT_CEILING", 12*time.Minute),
		AgentHardCeiling: envDuration("AGENT_HARD_CEILING", 30*time.Minute),
		PhaseCeiling:     envDuration("PHASE_CEILING", 30*time.Minute),
		ReportTimeout:    envDuration("REPORT_TIMEOUT", 5*time.Minute),
		SynthesisTimeout: envDuration("SYNTHESIS_TIMEOUT", 5*time.Minute),

		ReportMaxTokens:   envInt("REPORT_MAX_TOKENS", 10000),
		DecisionMaxTokens: envInt("DECISION_MAX_TOKENS", 1500),
		HistoryMaxTokens:  envInt("HISTORY_MAX_TOKENS", 60000),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
