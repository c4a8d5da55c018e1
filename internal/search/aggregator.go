package search

import (
	"fmt"
	"sort"

	"github.com/mailprobe/mailprobe/pkg/types"
)

// PageSizes is the set of page sizes a caller may request.
var PageSizes = []int{10, 20, 50, 100}

// PageRequest selects one page of the finalized result set.
type PageRequest struct {
	Index int
	Size  int
}

// Validate rejects negative indexes and sizes outside PageSizes.
func (p PageRequest) Validate() error {
	if p.Index < 0 {
		return fmt.Errorf("page index must not be negative")
	}
	for _, size := range PageSizes {
		if p.Size == size {
			return nil
		}
	}
	return fmt.Errorf("page size %d not allowed, pick one of %v", p.Size, PageSizes)
}

// Aggregator accumulates message summaries across folders, suppresses
// duplicates by stable identifier, and serves deterministic pages once
// finalized. It is owned by a single search worker and needs no
// locking.
type Aggregator struct {
	seen      map[string]struct{}
	items     []types.MessageSummary
	finalized bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[string]struct{})}
}

// Add appends a summary unless its stable identifier was seen before.
// A message matched by both the pushed query and a fallback scan is
// counted exactly once. Reports whether the summary was kept.
func (a *Aggregator) Add(m types.MessageSummary) bool {
	if _, dup := a.seen[m.StableID]; dup {
		return false
	}
	a.seen[m.StableID] = struct{}{}
	a.items = append(a.items, m)
	return true
}

// Len returns the number of accumulated summaries.
func (a *Aggregator) Len() int {
	return len(a.items)
}

// Finalize sorts by received time, newest first, and returns the total
// match count. Ties keep insertion order so repeated finalization is
// stable.
func (a *Aggregator) Finalize() int {
	sort.SliceStable(a.items, func(i, j int) bool {
		return a.items[i].Received.After(a.items[j].Received)
	})
	a.finalized = true
	return len(a.items)
}

// Page slices one page out of the finalized set. Requests beyond the
// end return an empty page that still carries the correct total count.
// Calling Page twice with the same arguments yields identical output.
func (a *Aggregator) Page(index, size int) types.ResultPage {
	page := types.ResultPage{
		TotalCount: len(a.items),
		PageIndex:  index,
		PageSize:   size,
		Items:      []types.MessageSummary{},
	}

	start := index * size
	if start >= len(a.items) || size <= 0 {
		return page
	}
	end := start + size
	if end > len(a.items) {
		end = len(a.items)
	}
	page.Items = append(page.Items, a.items[start:end]...)
	return page
}
