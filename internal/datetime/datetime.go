// Package datetime normalizes the date handling every protocol client
// needs: tolerant parsing of server-supplied date headers, period math
// for the named search windows, and protocol-specific date literals.
package datetime

import (
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/pkg/types"
)

// Period is a named relative date window.
type Period string

const (
	PeriodNone        Period = ""
	PeriodLastWeek    Period = "last-week"
	PeriodLastMonth   Period = "last-month"
	PeriodLast3Months Period = "last-3-months"
	PeriodLast6Months Period = "last-6-months"
)

// layouts tried after net/mail parsing fails. Servers in the wild
// produce all of these.
var layouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer parses and formats message timestamps. It never returns an
// error: a garbled date header degrades to "now" so a single bad
// message cannot abort a multi-thousand-message search.
type Normalizer struct {
	logger *logrus.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

// New creates a Normalizer.
func New(logger *logrus.Logger) *Normalizer {
	return &Normalizer{
		logger: logger,
		Now:    time.Now,
	}
}

// Parse converts a raw date header into a timezone-aware instant.
// Unparsable input returns the current time and is logged at debug.
func (n *Normalizer) Parse(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return n.Now().UTC()
	}

	if t, err := mail.ParseDate(raw); err == nil {
		return t
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}

	n.logger.WithField("raw", raw).Debug("Unparsable date header, using current time")
	return n.Now().UTC()
}

// PeriodStart computes the lower bound of a named period relative to
// now. PeriodNone returns the zero time (no lower bound).
func PeriodStart(p Period, now time.Time) time.Time {
	switch p {
	case PeriodLastWeek:
		return now.AddDate(0, 0, -7)
	case PeriodLastMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case PeriodLast3Months:
		return now.AddDate(0, -3, 0)
	case PeriodLast6Months:
		return now.AddDate(0, -6, 0)
	default:
		return time.Time{}
	}
}

// FormatForProtocol renders an instant in the date-literal syntax the
// protocol's query language expects. POP3 has no query language and
// gets an empty string.
func FormatForProtocol(t time.Time, proto types.Protocol) string {
	switch proto {
	case types.ProtocolIMAP:
		return t.Format("02-Jan-2006")
	case types.ProtocolExchange:
		return t.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}
