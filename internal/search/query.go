package search

import (
	"time"

	"github.com/mailprobe/mailprobe/internal/protocol"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// capability is the fixed table of criteria fields each protocol can
// evaluate server-side. Anything not pushable is deferred to the local
// filter chain, never dropped.
type capability struct {
	subject bool
	sender  bool
	date    bool
	read    bool
}

var capabilities = map[types.Protocol]capability{
	types.ProtocolExchange: {subject: true, sender: true, date: true, read: true},
	types.ProtocolIMAP:     {subject: true, sender: true, date: true, read: true},
	types.ProtocolPOP3:     {},
}

// BuildQuery translates criteria into the protocol-neutral push-down
// query. It returns nil when the protocol supports no server-side
// filtering at all (POP3), which forces the orchestrator into the
// fetch-all-then-filter path for that folder. Pushable fields are
// combined as a logical AND by each protocol implementation.
func BuildQuery(c *Criteria, proto types.Protocol, now time.Time) *protocol.PushQuery {
	caps, ok := capabilities[proto]
	if !ok || caps == (capability{}) {
		return nil
	}

	query := &protocol.PushQuery{}
	if caps.subject {
		query.Subject = c.Subject
	}
	if caps.sender {
		query.Sender = c.Sender
	}
	if caps.date {
		query.Since, query.Before = c.DateRange(now)
	}
	if caps.read {
		query.ReadState = c.ReadState
	}
	return query
}
