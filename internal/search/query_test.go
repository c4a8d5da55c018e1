package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/pkg/types"
)

func TestBuildQueryPOP3ReturnsNil(t *testing.T) {
	c := &Criteria{Subject: "invoice", Sender: "billing"}
	assert.Nil(t, BuildQuery(c, types.ProtocolPOP3, testNow),
		"pop3 supports no push-down at all")
}

func TestBuildQueryPushesSupportedFields(t *testing.T) {
	c := &Criteria{
		Subject:   "invoice",
		Sender:    "billing",
		ReadState: types.ReadStateUnread,
		Period:    datetime.PeriodLastWeek,
	}

	for _, proto := range []types.Protocol{types.ProtocolIMAP, types.ProtocolExchange} {
		query := BuildQuery(c, proto, testNow)
		require.NotNil(t, query, "%s should push", proto)
		assert.Equal(t, "invoice", query.Subject)
		assert.Equal(t, "billing", query.Sender)
		assert.Equal(t, types.ReadStateUnread, query.ReadState)
		assert.Equal(t, testNow.AddDate(0, 0, -7), query.Since)
		assert.True(t, query.Before.IsZero())
	}
}

func TestBuildQueryLeavesLocalOnlyFieldsOut(t *testing.T) {
	// Attachment filters are never pushable; the query only carries the
	// four protocol-supported fields.
	c := &Criteria{AttachmentsRequired: true, AttachmentExt: "pdf"}
	query := BuildQuery(c, types.ProtocolIMAP, testNow)
	require.NotNil(t, query)
	assert.True(t, query.Empty())
}

func TestBuildQueryUnknownProtocol(t *testing.T) {
	assert.Nil(t, BuildQuery(&Criteria{}, types.Protocol("nntp"), testNow))
}
