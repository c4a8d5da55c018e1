package protocol

import (
	"context"
	"fmt"

	"github.com/jhillyerd/enmime"
	"github.com/knadh/go-pop3"
	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// pop3Mailbox is the degenerate mailbox: exactly one folder, no
// subfolders, no server-side queries. POP3 carries no read flag either,
// so every message reports as read.
type pop3Mailbox struct {
	account *config.Account
	conn    *pop3.Conn
	logger  *logrus.Logger
	norm    *datetime.Normalizer
}

func dialPOP3(ctx context.Context, account *config.Account, opts Options) (Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindCancelled, "dial aborted", err)
	}

	port := account.Port
	if port == 0 {
		port = 995
	}

	p := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		TLSEnabled:  account.UseTLS(),
		DialTimeout: opts.ConnectTimeout,
	})

	conn, err := p.NewConn()
	if err != nil {
		return nil, NewError(KindUnreachable,
			fmt.Sprintf("failed to connect to POP3 server %s:%d", account.Host, port), err)
	}

	if err := conn.Auth(account.Username, account.Password); err != nil {
		conn.Quit() //nolint:errcheck
		return nil, NewError(KindAuthentication, "POP3 login rejected for "+account.Username, err)
	}

	opts.Logger.WithFields(account.LogFields()).Info("Connected to POP3 server")

	return &pop3Mailbox{
		account: account,
		conn:    conn,
		logger:  opts.Logger,
		norm:    datetime.New(opts.Logger),
	}, nil
}

func (m *pop3Mailbox) Kind() types.Protocol {
	return types.ProtocolPOP3
}

func (m *pop3Mailbox) Close() error {
	if m.conn != nil {
		return m.conn.Quit()
	}
	return nil
}

func (m *pop3Mailbox) RootFolders(ctx context.Context) ([]types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []types.Folder{{Name: "INBOX", Path: "INBOX", Native: "INBOX"}}, nil
}

func (m *pop3Mailbox) Children(ctx context.Context, folder types.Folder) ([]types.Folder, error) {
	return nil, nil
}

// Search always fails: POP3 has no server-side query language. The
// query builder returns a nil query for POP3, so the orchestrator goes
// straight to FetchAll.
func (m *pop3Mailbox) Search(ctx context.Context, folder types.Folder, query *PushQuery, limit int) ([]types.MessageSummary, error) {
	return nil, fmt.Errorf("pop3 does not support server-side search")
}

// FetchAll downloads the limit most recent messages and summarizes them
// from their MIME envelopes.
func (m *pop3Mailbox) FetchAll(ctx context.Context, folder types.Folder, limit int) ([]types.MessageSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := m.conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Message numbers grow with arrival order; the newest sit at the end.
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	summaries := make([]types.MessageSummary, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		buf, err := m.conn.RetrRaw(id.ID)
		if err != nil {
			m.logger.WithError(err).WithField("msg", id.ID).Warn("Failed to retrieve POP3 message")
			continue
		}

		env, err := enmime.ReadEnvelope(buf)
		if err != nil {
			m.logger.WithError(err).WithField("msg", id.ID).Warn("Failed to parse POP3 message")
			continue
		}

		summaries = append(summaries, m.summarize(env, id.UID))
	}
	return summaries, nil
}

func (m *pop3Mailbox) summarize(env *enmime.Envelope, uid string) types.MessageSummary {
	var names []string
	for _, att := range env.Attachments {
		if att.FileName != "" {
			names = append(names, att.FileName)
		}
	}

	summary := types.MessageSummary{
		Subject:         env.GetHeader("Subject"),
		Sender:          env.GetHeader("From"),
		Received:        m.norm.Parse(env.GetHeader("Date")),
		Read:            true,
		AttachmentCount: len(env.Attachments),
		AttachmentNames: names,
		FolderPath:      "INBOX",
		Ref: types.MessageRef{
			Protocol:  types.ProtocolPOP3,
			Folder:    "INBOX",
			ItemID:    uid,
			MessageID: env.GetHeader("Message-Id"),
		},
	}

	summary.StableID = summary.Ref.MessageID
	if summary.StableID == "" {
		summary.StableID = "pop3:INBOX:" + uid
	}
	return summary
}
