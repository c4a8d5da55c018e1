package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailprobe/mailprobe/pkg/types"
)

func TestPageRequestValidate(t *testing.T) {
	assert.NoError(t, PageRequest{Index: 0, Size: 10}.Validate())
	assert.NoError(t, PageRequest{Index: 3, Size: 100}.Validate())
	assert.Error(t, PageRequest{Index: -1, Size: 10}.Validate())
	assert.Error(t, PageRequest{Index: 0, Size: 25}.Validate())
	assert.Error(t, PageRequest{Index: 0, Size: 0}.Validate())
}

func TestAggregatorDeduplicates(t *testing.T) {
	agg := NewAggregator()

	first := msg("INBOX", 1, nil)
	assert.True(t, agg.Add(first))
	assert.False(t, agg.Add(first), "same stable id must be dropped")

	// Same message found again via the fallback path in another scan.
	dup := first
	dup.Subject = "rewritten but same id"
	assert.False(t, agg.Add(dup))

	assert.Equal(t, 1, agg.Len())
}

func TestAggregatorSortsNewestFirst(t *testing.T) {
	agg := NewAggregator()
	agg.Add(msg("INBOX", 5, nil))
	agg.Add(msg("INBOX", 1, nil))
	agg.Add(msg("INBOX", 3, nil))

	total := agg.Finalize()
	require.Equal(t, 3, total)

	page := agg.Page(0, 10)
	require.Len(t, page.Items, 3)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].Received.After(page.Items[i-1].Received),
			"items must be ordered newest first")
	}
}

func TestAggregatorPagination(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 25; i++ {
		agg.Add(msg("INBOX", i, nil))
	}
	total := agg.Finalize()
	require.Equal(t, 25, total)

	first := agg.Page(0, 10)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, 25, first.TotalCount)
	assert.Equal(t, 0, first.PageIndex)
	assert.Equal(t, 10, first.PageSize)

	last := agg.Page(2, 10)
	assert.Len(t, last.Items, 5)
	assert.Equal(t, 25, last.TotalCount)

	// Beyond the end: empty page, correct total.
	beyond := agg.Page(9, 10)
	assert.Empty(t, beyond.Items)
	assert.NotNil(t, beyond.Items)
	assert.Equal(t, 25, beyond.TotalCount)

	// Pages do not overlap.
	seen := make(map[string]bool)
	for idx := 0; idx < 3; idx++ {
		for _, item := range agg.Page(idx, 10).Items {
			assert.False(t, seen[item.StableID], "item %s appears on two pages", item.StableID)
			seen[item.StableID] = true
		}
	}
	assert.Len(t, seen, 25)
}

func TestAggregatorPageIsIdempotent(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 7; i++ {
		agg.Add(msg("INBOX", i, nil))
	}
	agg.Finalize()

	a := agg.Page(0, 10)
	b := agg.Page(0, 10)
	assert.Equal(t, a, b)
}

func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator()
	assert.Equal(t, 0, agg.Finalize())

	page := agg.Page(0, 50)
	assert.Equal(t, 0, page.TotalCount)
	assert.Empty(t, page.Items)
	assert.Equal(t, []types.MessageSummary{}, page.Items)
}
