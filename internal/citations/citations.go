// Package citations tracks which cited-document number maps to which document
// within one numbering scope, and merges independent scopes without collision.
package citations

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Document is one cited source.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Mapping is one citation scope: a bidirectional number<->document assignment.
// Numbers start at 1. While a scope accumulates, numbers already handed out are
// never rewritten, so in-text markers stay stable mid-stream.
type Mapping struct {
	byNumber map[int]Document
	byDoc    map[string]int
	next     int
}

func NewMapping() *Mapping {
	return &Mapping{byNumber: map[int]Document{}, byDoc: map[string]int{}, next: 1}
}

// Add assigns the next free number to doc, or returns the number it already has.
func (m *Mapping) Add(doc Document) int {
	if n, ok := m.byDoc[doc.ID]; ok {
		return n
	}
	for {
		if _, taken := m.byNumber[m.next]; !taken {
			break
		}
		m.next++
	}
	n := m.next
	m.byNumber[n] = doc
	m.byDoc[doc.ID] = n
	m.next++
	return n
}

// Get returns the document for a number.
func (m *Mapping) Get(n int) (Document, bool) {
	d, ok := m.byNumber[n]
	return d, ok
}

// NumberFor returns the number assigned to a document ID.
func (m *Mapping) NumberFor(docID string) (int, bool) {
	n, ok := m.byDoc[docID]
	return n, ok
}

// Len returns how many documents the scope holds.
func (m *Mapping) Len() int { return len(m.byNumber) }

// Numbers returns the assigned numbers in ascending order.
func (m *Mapping) Numbers() []int {
	out := make([]int, 0, len(m.byNumber))
	for n := range m.byNumber {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Documents returns number->document for the whole scope, ordered by number.
func (m *Mapping) Documents() []NumberedDocument {
	out := make([]NumberedDocument, 0, len(m.byNumber))
	for _, n := range m.Numbers() {
		out = append(out, NumberedDocument{Number: n, Document: m.byNumber[n]})
	}
	return out
}

type NumberedDocument struct {
	Number   int      `json:"number"`
	Document Document `json:"document"`
}

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// Markers returns the distinct citation numbers referenced in text.
func Markers(text string) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, match := range markerRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Merge folds one completed agent's scope into the accumulated scope.
//
// A local number collides when the existing mapping already uses it for a
// different document; colliding markers are rewritten to the next unused
// number, everything else passes through unchanged. Merging text that already
// carries the accumulated numbering is a no-op, so the operation is idempotent.
// The existing mapping is extended in place.
func Merge(text string, existing *Mapping, local *Mapping) (string, *Mapping) {
	if existing == nil {
		existing = NewMapping()
	}
	if local == nil {
		return text, existing
	}

	remap := make(map[int]int, local.Len())

	// First pass: non-colliding numbers keep their slots so their markers
	// never move.
	for _, nd := range local.Documents() {
		if prior, ok := existing.byDoc[nd.Document.ID]; ok {
			// document already merged; reuse its global number
			remap[nd.Number] = prior
			continue
		}
		if _, taken := existing.byNumber[nd.Number]; taken {
			continue
		}
		existing.byNumber[nd.Number] = nd.Document
		existing.byDoc[nd.Document.ID] = nd.Number
		remap[nd.Number] = nd.Number
	}

	// Second pass: colliding numbers get the next unused global slot.
	for _, nd := range local.Documents() {
		if _, done := remap[nd.Number]; done {
			continue
		}
		remap[nd.Number] = existing.Add(nd.Document)
	}

	rewritten := markerRe.ReplaceAllStringFunc(text, func(marker string) string {
		n, err := strconv.Atoi(strings.Trim(marker, "[]"))
		if err != nil {
			return marker
		}
		if to, ok := remap[n]; ok && to != n {
			return fmt.Sprintf("[%d]", to)
		}
		return marker
	})
	return rewritten, existing
}
