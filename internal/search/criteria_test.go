package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/pkg/types"
)

var testNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func summary(mutate func(*types.MessageSummary)) *types.MessageSummary {
	m := &types.MessageSummary{
		StableID: "<msg-1@example.com>",
		Subject:  "Quarterly invoice attached",
		Sender:   "Billing <billing@example.com>",
		Received: testNow.AddDate(0, 0, -2),
		Read:     true,
	}
	if mutate != nil {
		mutate(m)
	}
	return m
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		wantErr  bool
	}{
		{name: "empty is fine", criteria: Criteria{}},
		{name: "known period", criteria: Criteria{Period: datetime.PeriodLastWeek}},
		{name: "unknown period", criteria: Criteria{Period: "yesterday"}, wantErr: true},
		{name: "unknown read state", criteria: Criteria{ReadState: "maybe"}, wantErr: true},
		{
			name:    "inverted range",
			criteria: Criteria{From: testNow, To: testNow.AddDate(0, 0, -1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDateRangeExplicitBeatsPeriod(t *testing.T) {
	from := testNow.AddDate(0, 0, -30)
	c := Criteria{Period: datetime.PeriodLastWeek, From: from}

	gotFrom, gotTo := c.DateRange(testNow)
	assert.Equal(t, from, gotFrom)
	assert.True(t, gotTo.IsZero())
}

func TestMatchesReadState(t *testing.T) {
	read := summary(nil)
	unread := summary(func(m *types.MessageSummary) { m.Read = false })

	c := Criteria{ReadState: types.ReadStateUnread}
	assert.False(t, c.Matches(read, testNow))
	assert.True(t, c.Matches(unread, testNow))

	c.ReadState = types.ReadStateRead
	assert.True(t, c.Matches(read, testNow))
	assert.False(t, c.Matches(unread, testNow))

	c.ReadState = types.ReadStateAny
	assert.True(t, c.Matches(read, testNow))
	assert.True(t, c.Matches(unread, testNow))
}

func TestMatchesAttachmentPresence(t *testing.T) {
	with := summary(func(m *types.MessageSummary) {
		m.AttachmentCount = 1
		m.AttachmentNames = []string{"invoice.pdf"}
	})
	without := summary(nil)

	c := Criteria{AttachmentsRequired: true}
	assert.True(t, c.Matches(with, testNow))
	assert.False(t, c.Matches(without, testNow))

	c = Criteria{NoAttachmentsOnly: true}
	assert.False(t, c.Matches(with, testNow))
	assert.True(t, c.Matches(without, testNow))
}

func TestMatchesAttachmentConflictRequiredWins(t *testing.T) {
	// Both flags set: required wins, so messages with attachments pass.
	c := Criteria{AttachmentsRequired: true, NoAttachmentsOnly: true}

	with := summary(func(m *types.MessageSummary) { m.AttachmentCount = 2 })
	without := summary(nil)

	assert.True(t, c.Matches(with, testNow))
	assert.False(t, c.Matches(without, testNow))
}

func TestMatchesAttachmentNameAndExt(t *testing.T) {
	m := summary(func(m *types.MessageSummary) {
		m.AttachmentCount = 2
		m.AttachmentNames = []string{"Faktura-2024-03.PDF", "notes.txt"}
	})

	assert.True(t, Criteria{AttachmentName: "faktura"}.matchesPtr(m))
	assert.False(t, Criteria{AttachmentName: "receipt"}.matchesPtr(m))

	assert.True(t, Criteria{AttachmentExt: "pdf"}.matchesPtr(m))
	assert.True(t, Criteria{AttachmentExt: ".TXT"}.matchesPtr(m))
	assert.False(t, Criteria{AttachmentExt: "docx"}.matchesPtr(m))
}

// matchesPtr keeps the table tests above readable.
func (c Criteria) matchesPtr(m *types.MessageSummary) bool {
	return c.Matches(m, testNow)
}

func TestMatchesSubjectAndSenderCaseInsensitive(t *testing.T) {
	m := summary(nil)

	assert.True(t, Criteria{Subject: "INVOICE"}.matchesPtr(m))
	assert.False(t, Criteria{Subject: "payslip"}.matchesPtr(m))
	assert.True(t, Criteria{Sender: "billing@EXAMPLE.com"}.matchesPtr(m))
	assert.False(t, Criteria{Sender: "noreply"}.matchesPtr(m))
}

func TestMatchesDateWindow(t *testing.T) {
	old := summary(func(m *types.MessageSummary) { m.Received = testNow.AddDate(0, 0, -20) })
	fresh := summary(nil)

	c := Criteria{Period: datetime.PeriodLastWeek}
	assert.True(t, c.Matches(fresh, testNow))
	assert.False(t, c.Matches(old, testNow))

	c = Criteria{From: testNow.AddDate(0, 0, -30), To: testNow.AddDate(0, 0, -10)}
	assert.True(t, c.Matches(old, testNow))
	assert.False(t, c.Matches(fresh, testNow))
}

func TestMatchesCombinedCriteria(t *testing.T) {
	m := summary(func(m *types.MessageSummary) {
		m.Read = false
		m.AttachmentCount = 1
		m.AttachmentNames = []string{"faktura.pdf"}
	})

	c := Criteria{
		Subject:             "invoice",
		Sender:              "billing",
		ReadState:           types.ReadStateUnread,
		AttachmentsRequired: true,
		AttachmentExt:       "pdf",
		Period:              datetime.PeriodLastWeek,
	}
	require.True(t, c.Matches(m, testNow))

	m.Read = true
	assert.False(t, c.Matches(m, testNow))
}
