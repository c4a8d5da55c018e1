// Package search holds the search engine proper: criteria, folder
// resolution, query building, aggregation, and the orchestrator that
// runs a search on a background worker.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// Criteria is the flat search record supplied by the caller. All fields
// are optional; an empty FolderPath falls back to the configured
// default root.
type Criteria struct {
	FolderPath string          `json:"folder_path,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Sender     string          `json:"sender,omitempty"`
	ReadState  types.ReadState `json:"read_state,omitempty"`

	// AttachmentsRequired and NoAttachmentsOnly can both be set; in that
	// case AttachmentsRequired wins. That precedence is deliberate and
	// covered by tests.
	AttachmentsRequired bool   `json:"attachments_required,omitempty"`
	NoAttachmentsOnly   bool   `json:"no_attachments_only,omitempty"`
	AttachmentName      string `json:"attachment_name,omitempty"`
	AttachmentExt       string `json:"attachment_ext,omitempty"`

	// Period and From/To are mutually exclusive; an explicit range wins
	// when both are given.
	Period datetime.Period `json:"period,omitempty"`
	From   time.Time       `json:"from,omitempty"`
	To     time.Time       `json:"to,omitempty"`

	// ExcludedFolders lists folder paths skipped during resolution.
	// With ExcludeMode set, the same list flips into an allow-list: only
	// the named folders and their descendants are searched.
	ExcludedFolders []string `json:"excluded_folders,omitempty"`
	ExcludeMode     bool     `json:"exclude_mode,omitempty"`
}

// Validate checks internal consistency.
func (c *Criteria) Validate() error {
	if !c.From.IsZero() && !c.To.IsZero() && c.From.After(c.To) {
		return fmt.Errorf("date range start %s is after end %s", c.From.Format("2006-01-02"), c.To.Format("2006-01-02"))
	}
	switch c.Period {
	case datetime.PeriodNone, datetime.PeriodLastWeek, datetime.PeriodLastMonth,
		datetime.PeriodLast3Months, datetime.PeriodLast6Months:
	default:
		return fmt.Errorf("unknown period %q", c.Period)
	}
	switch c.ReadState {
	case "", types.ReadStateAny, types.ReadStateRead, types.ReadStateUnread:
	default:
		return fmt.Errorf("unknown read state %q", c.ReadState)
	}
	return nil
}

// DateRange resolves the effective received-time window. An explicit
// From/To pair beats the named period.
func (c *Criteria) DateRange(now time.Time) (from, to time.Time) {
	if !c.From.IsZero() || !c.To.IsZero() {
		return c.From, c.To
	}
	return datetime.PeriodStart(c.Period, now), time.Time{}
}

// Matches applies every locally evaluable filter to a summary, cheapest
// and most selective first, short-circuiting on the first miss. The
// orchestrator runs this chain over results of both the push-down and
// the fallback path, so the two paths always agree.
func (c *Criteria) Matches(m *types.MessageSummary, now time.Time) bool {
	switch c.ReadState {
	case types.ReadStateRead:
		if !m.Read {
			return false
		}
	case types.ReadStateUnread:
		if m.Read {
			return false
		}
	}

	if c.AttachmentsRequired {
		if m.AttachmentCount == 0 {
			return false
		}
	} else if c.NoAttachmentsOnly {
		if m.AttachmentCount > 0 {
			return false
		}
	}

	if c.AttachmentName != "" && !matchesAttachmentName(m.AttachmentNames, c.AttachmentName) {
		return false
	}
	if c.AttachmentExt != "" && !matchesAttachmentExt(m.AttachmentNames, c.AttachmentExt) {
		return false
	}

	if c.Subject != "" && !containsFold(m.Subject, c.Subject) {
		return false
	}
	if c.Sender != "" && !containsFold(m.Sender, c.Sender) {
		return false
	}

	from, to := c.DateRange(now)
	if !from.IsZero() && m.Received.Before(from) {
		return false
	}
	if !to.IsZero() && m.Received.After(to) {
		return false
	}

	return true
}

func matchesAttachmentName(names []string, substr string) bool {
	for _, name := range names {
		if containsFold(name, substr) {
			return true
		}
	}
	return false
}

func matchesAttachmentExt(names []string, ext string) bool {
	suffix := "." + strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, name := range names {
		if strings.HasSuffix(strings.ToLower(name), suffix) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
