package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id string) Document {
	return Document{ID: id, Title: "title " + id, URL: "https://example.com/" + id}
}

func TestMappingAddIsStable(t *testing.T) {
	m := NewMapping()
	assert.Equal(t, 1, m.Add(doc("a")))
	assert.Equal(t, 2, m.Add(doc("b")))
	// re-adding never renumbers
	assert.Equal(t, 1, m.Add(doc("a")))
	assert.Equal(t, 2, m.Len())
}

func TestMarkers(t *testing.T) {
	text := "Fact one [1]. Fact two [2], repeated [1]. Not a marker [x]."
	assert.Equal(t, []int{1, 2}, Markers(text))
}

func TestMergeCollisionRenumbers(t *testing.T) {
	existing := NewMapping()
	existing.Add(doc("a")) // 1

	local := NewMapping()
	local.Add(doc("b")) // 1 locally, collides
	local.Add(doc("c")) // 2

	text, merged := Merge("b says [1], c says [2]", existing, local)
	assert.Equal(t, "b says [3], c says [2]", text)

	nB, ok := merged.NumberFor("b")
	require.True(t, ok)
	assert.Equal(t, 3, nB)
	nC, ok := merged.NumberFor("c")
	require.True(t, ok)
	assert.Equal(t, 2, nC)
}

func TestMergeNoDuplicateNumbers(t *testing.T) {
	existing := NewMapping()
	existing.Add(doc("a"))
	existing.Add(doc("b"))

	local := NewMapping()
	local.Add(doc("c"))
	local.Add(doc("d"))
	local.Add(doc("e"))

	_, merged := Merge("[1][2][3]", existing, local)

	seenDoc := map[string]struct{}{}
	for _, nd := range merged.Documents() {
		_, dup := seenDoc[nd.Document.ID]
		require.False(t, dup, "document %s mapped twice", nd.Document.ID)
		seenDoc[nd.Document.ID] = struct{}{}
	}
	assert.Equal(t, 5, merged.Len())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, merged.Numbers())
}

func TestMergeIdempotentOnMergedText(t *testing.T) {
	existing := NewMapping()
	existing.Add(doc("a"))

	local := NewMapping()
	local.Add(doc("b"))

	text, merged := Merge("see [1]", existing, local)
	assert.Equal(t, "see [2]", text)

	// Re-merging already-merged text against the output mapping changes nothing.
	again := NewMapping()
	again.Add(doc("a"))
	again.Add(doc("b"))
	text2, merged2 := Merge(text, merged, again)
	assert.Equal(t, text, text2)
	assert.Equal(t, merged.Len(), merged2.Len())
}

func TestMergeSharedDocumentReusesNumber(t *testing.T) {
	existing := NewMapping()
	existing.Add(doc("a")) // 1

	local := NewMapping()
	local.Add(doc("b")) // 1
	local.Add(doc("a")) // 2, same doc as existing 1

	text, merged := Merge("[1] and [2]", existing, local)
	assert.Equal(t, "[2] and [1]", text)
	assert.Equal(t, 2, merged.Len())
}

func TestMergeNilScopes(t *testing.T) {
	text, merged := Merge("plain [1]", nil, nil)
	assert.Equal(t, "plain [1]", text)
	require.NotNil(t, merged)
	assert.Equal(t, 0, merged.Len())
}
