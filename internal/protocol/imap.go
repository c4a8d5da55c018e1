package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// imapMailbox wraps an IMAP connection. The full mailbox listing is
// fetched once per connection and the folder tree is derived from the
// hierarchy delimiter, so one search sees one consistent snapshot.
type imapMailbox struct {
	account *config.Account
	client  *client.Client
	logger  *logrus.Logger

	delim   string
	listing []*imap.MailboxInfo
}

func dialIMAP(ctx context.Context, account *config.Account, opts Options) (Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindCancelled, "dial aborted", err)
	}

	port := account.Port
	if port == 0 {
		port = 993
	}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	var cl *client.Client
	var err error
	if account.UseTLS() {
		cl, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{
			ServerName: account.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, NewError(KindUnreachable, "failed to connect to IMAP server "+addr, err)
	}

	cl.Timeout = opts.OpTimeout

	if err := cl.Login(account.Username, account.Password); err != nil {
		cl.Logout() //nolint:errcheck
		return nil, NewError(KindAuthentication, "IMAP login rejected for "+account.Username, err)
	}

	opts.Logger.WithFields(account.LogFields()).Info("Connected to IMAP server")

	return &imapMailbox{
		account: account,
		client:  cl,
		logger:  opts.Logger,
	}, nil
}

func (m *imapMailbox) Kind() types.Protocol {
	return types.ProtocolIMAP
}

func (m *imapMailbox) Close() error {
	if m.client != nil {
		return m.client.Logout()
	}
	return nil
}

// loadListing fetches the complete mailbox list once per connection.
func (m *imapMailbox) loadListing() error {
	if m.listing != nil {
		return nil
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- m.client.List("", "*", mailboxes)
	}()

	var listing []*imap.MailboxInfo
	for info := range mailboxes {
		listing = append(listing, info)
		if m.delim == "" && info.Delimiter != "" {
			m.delim = info.Delimiter
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	if m.delim == "" {
		m.delim = "/"
	}
	m.listing = listing
	return nil
}

// pathOf maps a native mailbox name to the "/"-separated folder path.
func (m *imapMailbox) pathOf(native string) string {
	if m.delim == "/" {
		return native
	}
	return strings.ReplaceAll(native, m.delim, "/")
}

func (m *imapMailbox) folderFor(info *imap.MailboxInfo) types.Folder {
	name := info.Name
	if idx := strings.LastIndex(name, m.delim); idx >= 0 {
		name = name[idx+len(m.delim):]
	}
	return types.Folder{
		Name:        name,
		Path:        m.pathOf(info.Name),
		Native:      info.Name,
		HasChildren: m.hasChildren(info.Name),
	}
}

func (m *imapMailbox) hasChildren(native string) bool {
	prefix := native + m.delim
	for _, info := range m.listing {
		if strings.HasPrefix(info.Name, prefix) {
			return true
		}
	}
	return false
}

func (m *imapMailbox) RootFolders(ctx context.Context) ([]types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.loadListing(); err != nil {
		return nil, err
	}

	var roots []types.Folder
	for _, info := range m.listing {
		if strings.Contains(info.Name, m.delim) {
			continue
		}
		roots = append(roots, m.folderFor(info))
	}
	return roots, nil
}

func (m *imapMailbox) Children(ctx context.Context, folder types.Folder) ([]types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.loadListing(); err != nil {
		return nil, err
	}

	prefix := folder.Native + m.delim
	var children []types.Folder
	for _, info := range m.listing {
		if !strings.HasPrefix(info.Name, prefix) {
			continue
		}
		if strings.Contains(info.Name[len(prefix):], m.delim) {
			continue
		}
		children = append(children, m.folderFor(info))
	}
	return children, nil
}

// Search runs a server-side UID SEARCH and fetches summaries for the
// limit most recent hits.
func (m *imapMailbox) Search(ctx context.Context, folder types.Folder, query *PushQuery, limit int) ([]types.MessageSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mbox, err := m.client.Select(folder.Native, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder.Path, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	uids, err := m.client.UidSearch(searchCriteria(query))
	if err != nil {
		return nil, fmt.Errorf("search failed in folder %s: %w", folder.Path, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// UID SEARCH results come back ascending; the newest are at the end.
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	return m.fetchSummaries(folder, seqSet, true)
}

// FetchAll fetches summaries for the limit most recent messages with no
// server-side filtering.
func (m *imapMailbox) FetchAll(ctx context.Context, folder types.Folder, limit int) ([]types.MessageSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mbox, err := m.client.Select(folder.Native, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder.Path, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	start := uint32(1)
	if limit > 0 && mbox.Messages > uint32(limit) {
		start = mbox.Messages - uint32(limit) + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, mbox.Messages)

	return m.fetchSummaries(folder, seqSet, false)
}

// searchCriteria renders a PushQuery into IMAP search keys.
func searchCriteria(query *PushQuery) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if query == nil {
		return criteria
	}

	if query.Subject != "" {
		criteria.Header.Add("Subject", query.Subject)
	}
	if query.Sender != "" {
		criteria.Header.Add("From", query.Sender)
	}
	if !query.Since.IsZero() {
		criteria.Since = query.Since
	}
	if !query.Before.IsZero() {
		// SINCE/BEFORE have day granularity; widen by a day so the upper
		// bound stays inclusive.
		criteria.Before = query.Before.AddDate(0, 0, 1)
	}
	switch query.ReadState {
	case types.ReadStateRead:
		criteria.WithFlags = []string{imap.SeenFlag}
	case types.ReadStateUnread:
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	return criteria
}

func (m *imapMailbox) fetchSummaries(folder types.Folder, seqSet *imap.SeqSet, byUID bool) ([]types.MessageSummary, error) {
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		imap.FetchBodyStructure,
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- m.client.UidFetch(seqSet, items, messages)
		} else {
			done <- m.client.Fetch(seqSet, items, messages)
		}
	}()

	var summaries []types.MessageSummary
	for msg := range messages {
		summary := m.summarize(msg, folder)
		if summary != nil {
			summaries = append(summaries, *summary)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return summaries, nil
}

func (m *imapMailbox) summarize(msg *imap.Message, folder types.Folder) *types.MessageSummary {
	if msg == nil || msg.Envelope == nil {
		return nil
	}

	count, names := attachmentInfo(msg.BodyStructure)

	received := msg.InternalDate
	if received.IsZero() {
		received = msg.Envelope.Date
	}

	summary := &types.MessageSummary{
		Subject:         msg.Envelope.Subject,
		Sender:          formatAddress(msg.Envelope.From),
		Received:        received,
		Read:            hasFlag(msg.Flags, imap.SeenFlag),
		AttachmentCount: count,
		AttachmentNames: names,
		FolderPath:      folder.Path,
		Ref: types.MessageRef{
			Protocol:  types.ProtocolIMAP,
			Folder:    folder.Native,
			UID:       msg.Uid,
			MessageID: msg.Envelope.MessageId,
		},
	}

	summary.StableID = msg.Envelope.MessageId
	if summary.StableID == "" {
		summary.StableID = fmt.Sprintf("imap:%s:%d", folder.Native, msg.Uid)
	}
	return summary
}

// attachmentInfo walks a BODYSTRUCTURE tree counting attachment parts
// and collecting their filenames.
func attachmentInfo(bs *imap.BodyStructure) (int, []string) {
	if bs == nil {
		return 0, nil
	}

	var count int
	var names []string
	var walk func(part *imap.BodyStructure)
	walk = func(part *imap.BodyStructure) {
		if part == nil {
			return
		}
		if len(part.Parts) > 0 {
			for _, child := range part.Parts {
				walk(child)
			}
			return
		}

		name := part.DispositionParams["filename"]
		if name == "" {
			name = part.Params["name"]
		}
		if strings.EqualFold(part.Disposition, "attachment") || name != "" {
			count++
			if name != "" {
				names = append(names, name)
			}
		}
	}
	walk(bs)
	return count, names
}

func formatAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	addr := addrs[0]
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}
