// Package store receives the engine's persistence hand-off: per-cycle records
// and the turn-level result. The engine only writes; reading back is the
// consumer's business.
package store

import (
	"context"
	"time"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/orchestrator"
)

// TurnRecord is everything persisted for one finished turn.
type TurnRecord struct {
	TurnID            string
	Query             string
	Plan              string
	Answer            string
	ClarificationOnly bool
	Forced            bool
	Cycles            []orchestrator.Cycle
	Citations         []citations.NumberedDocument
	CreatedAt         time.Time
}

type Store interface {
	SaveTurn(ctx context.Context, rec *TurnRecord) error
}
