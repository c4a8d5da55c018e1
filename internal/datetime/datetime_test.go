package datetime

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailprobe/mailprobe/pkg/types"
)

func testNormalizer() *Normalizer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	n := New(logger)
	n.Now = func() time.Time {
		return time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	}
	return n
}

func TestParseCommonFormats(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{
			name: "rfc1123z",
			raw:  "Tue, 05 Mar 2024 10:30:00 +0100",
			want: time.Date(2024, time.March, 5, 10, 30, 0, 0, time.FixedZone("", 3600)),
		},
		{
			name: "single digit day",
			raw:  "Tue, 5 Mar 2024 10:30:00 +0100",
			want: time.Date(2024, time.March, 5, 10, 30, 0, 0, time.FixedZone("", 3600)),
		},
		{
			name: "rfc3339",
			raw:  "2024-03-05T10:30:00Z",
			want: time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "bare date",
			raw:  "2024-03-05",
			want: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Parse(tt.raw)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseGarbageDegradesToNow(t *testing.T) {
	n := testNormalizer()

	for _, raw := range []string{"", "   ", "not a date", "32-Foo-2024"} {
		got := n.Parse(raw)
		require.True(t, got.Equal(n.Now().UTC()), "raw %q should degrade to now, got %s", raw, got)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
	}{
		{PeriodLastWeek, time.Date(2024, time.March, 8, 12, 0, 0, 0, time.UTC)},
		{PeriodLastMonth, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
		{PeriodLast3Months, time.Date(2023, time.December, 15, 12, 0, 0, 0, time.UTC)},
		{PeriodLast6Months, time.Date(2023, time.September, 15, 12, 0, 0, 0, time.UTC)},
		{PeriodNone, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.period, now))
		})
	}
}

func TestPeriodStartLastMonthIsFirstOfCurrentMonth(t *testing.T) {
	// A search on the 1st still starts the window that same day.
	now := time.Date(2024, time.July, 1, 3, 0, 0, 0, time.UTC)
	got := PeriodStart(PeriodLastMonth, now)
	assert.Equal(t, time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestFormatForProtocol(t *testing.T) {
	instant := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "05-Mar-2024", FormatForProtocol(instant, types.ProtocolIMAP))
	assert.Equal(t, "2024-03-05T09:30:00Z", FormatForProtocol(instant, types.ProtocolExchange))
	assert.Equal(t, "", FormatForProtocol(instant, types.ProtocolPOP3))
}
