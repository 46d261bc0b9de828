package tools

import (
	"sync"

	"github.com/example/research-orchestrator/internal/citations"
)

// TurnState is the session-scoped container shared by every research agent
// running within one orchestrator cycle. Agents may only add to it; the one
// concurrent read (the URL dedup check) tolerates being slightly stale.
type TurnState struct {
	mu      sync.Mutex
	records []Record
	docs    []citations.Document
	seenDoc map[string]struct{}
	fetched map[string]struct{}
}

func NewTurnState() *TurnState {
	return &TurnState{
		seenDoc: map[string]struct{}{},
		fetched: map[string]struct{}{},
	}
}

// AppendRecord adds one completed tool invocation.
func (s *TurnState) AppendRecord(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	for _, d := range rec.Docs {
		if _, seen := s.seenDoc[d.ID]; seen {
			continue
		}
		s.seenDoc[d.ID] = struct{}{}
		s.docs = append(s.docs, d)
	}
	s.mu.Unlock()
}

// MarkFetched records that a URL's content has been pulled this turn.
func (s *TurnState) MarkFetched(url string) {
	s.mu.Lock()
	s.fetched[url] = struct{}{}
	s.mu.Unlock()
}

// AlreadyFetched reports whether a URL was fetched this turn. Concurrent
// agents may race this check; a stale false only costs a duplicate fetch.
func (s *TurnState) AlreadyFetched(url string) bool {
	s.mu.Lock()
	_, ok := s.fetched[url]
	s.mu.Unlock()
	return ok
}

// Records returns a snapshot of the appended invocations.
func (s *TurnState) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Documents returns a snapshot of every document surfaced this turn.
func (s *TurnState) Documents() []citations.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]citations.Document, len(s.docs))
	copy(out, s.docs)
	return out
}
