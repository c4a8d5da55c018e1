package protocol

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// exchangeMailbox talks EWS SOAP directly. It only needs four
// operations (GetFolder, FindFolder, FindItem, GetItem), so the
// envelopes are built by hand rather than through a generated client.
type exchangeMailbox struct {
	account *config.Account
	client  *http.Client
	logger  *logrus.Logger
	norm    *datetime.Normalizer
	url     string
}

// wellKnownFolders maps display names to EWS distinguished folder ids,
// in the order they are reported as roots.
var wellKnownFolders = []struct {
	display string
	id      string
}{
	{"Inbox", "inbox"},
	{"Sent Items", "sentitems"},
	{"Drafts", "drafts"},
	{"Junk Email", "junkemail"},
	{"Deleted Items", "deleteditems"},
	{"Archive", "archivemsgfolderroot"},
}

func dialExchange(ctx context.Context, account *config.Account, opts Options) (Mailbox, error) {
	url := account.EWSURL
	if url == "" {
		url = fmt.Sprintf("https://%s/EWS/Exchange.asmx", account.Host)
	}

	m := &exchangeMailbox{
		account: account,
		client:  &http.Client{Timeout: opts.OpTimeout},
		logger:  opts.Logger,
		norm:    datetime.New(opts.Logger),
		url:     url,
	}

	// Probe credentials and reachability up front so connection failures
	// surface as a single structured error instead of per-folder noise.
	probeCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if _, err := m.getDistinguishedFolder(probeCtx, "inbox"); err != nil {
		if kind, ok := KindOf(err); ok && kind == KindAuthentication {
			return nil, err
		}
		return nil, NewError(KindUnreachable, "failed to reach EWS endpoint "+url, err)
	}

	opts.Logger.WithFields(account.LogFields()).Info("Connected to Exchange server")
	return m, nil
}

func (m *exchangeMailbox) Kind() types.Protocol {
	return types.ProtocolExchange
}

func (m *exchangeMailbox) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

func (m *exchangeMailbox) RootFolders(ctx context.Context) ([]types.Folder, error) {
	var roots []types.Folder
	for _, wk := range wellKnownFolders {
		folder, err := m.getDistinguishedFolder(ctx, wk.id)
		if err != nil {
			// Not every mailbox has every well-known folder (archives in
			// particular). Missing ones are skipped, not fatal.
			m.logger.WithError(err).WithField("folder", wk.display).Debug("Well-known folder unavailable")
			continue
		}
		folder.Name = wk.display
		folder.Path = wk.display
		roots = append(roots, *folder)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no well-known folders accessible")
	}
	return roots, nil
}

func (m *exchangeMailbox) Children(ctx context.Context, folder types.Folder) ([]types.Folder, error) {
	body := fmt.Sprintf(`<m:FindFolder Traversal="Shallow">
  <m:FolderShape><t:BaseShape>Default</t:BaseShape></m:FolderShape>
  <m:ParentFolderIds><t:FolderId Id=%q/></m:ParentFolderIds>
</m:FindFolder>`, folder.Native)

	data, err := m.soapCall(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("FindFolder failed for %s: %w", folder.Path, err)
	}

	raw, err := decodeAll[ewsFolder](data, "Folder")
	if err != nil {
		return nil, fmt.Errorf("failed to parse FindFolder response: %w", err)
	}

	children := make([]types.Folder, 0, len(raw))
	for _, f := range raw {
		children = append(children, types.Folder{
			Name:        f.DisplayName,
			Path:        JoinPath(folder.Path, f.DisplayName),
			Native:      f.FolderID.ID,
			HasChildren: f.ChildFolderCount > 0,
		})
	}
	return children, nil
}

func (m *exchangeMailbox) Search(ctx context.Context, folder types.Folder, query *PushQuery, limit int) ([]types.MessageSummary, error) {
	return m.findItems(ctx, folder, query, limit)
}

func (m *exchangeMailbox) FetchAll(ctx context.Context, folder types.Folder, limit int) ([]types.MessageSummary, error) {
	return m.findItems(ctx, folder, nil, limit)
}

func (m *exchangeMailbox) findItems(ctx context.Context, folder types.Folder, query *PushQuery, limit int) ([]types.MessageSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	b.WriteString(`<m:FindItem Traversal="Shallow">
  <m:ItemShape>
    <t:BaseShape>IdOnly</t:BaseShape>
    <t:AdditionalProperties>
      <t:FieldURI FieldURI="item:Subject"/>
      <t:FieldURI FieldURI="item:DateTimeReceived"/>
      <t:FieldURI FieldURI="message:From"/>
      <t:FieldURI FieldURI="message:IsRead"/>
      <t:FieldURI FieldURI="item:HasAttachments"/>
      <t:FieldURI FieldURI="message:InternetMessageId"/>
    </t:AdditionalProperties>
  </m:ItemShape>
`)
	fmt.Fprintf(&b, `  <m:IndexedPageItemView MaxEntriesReturned="%d" Offset="0" BasePoint="Beginning"/>
`, limit)
	if restriction := buildRestriction(query); restriction != "" {
		b.WriteString(restriction)
	}
	b.WriteString(`  <m:SortOrder>
    <t:FieldOrder Order="Descending"><t:FieldURI FieldURI="item:DateTimeReceived"/></t:FieldOrder>
  </m:SortOrder>
`)
	fmt.Fprintf(&b, `  <m:ParentFolderIds><t:FolderId Id=%q/></m:ParentFolderIds>
</m:FindItem>`, folder.Native)

	data, err := m.soapCall(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("FindItem failed for %s: %w", folder.Path, err)
	}

	raw, err := decodeAll[ewsMessage](data, "Message")
	if err != nil {
		return nil, fmt.Errorf("failed to parse FindItem response: %w", err)
	}

	summaries := make([]types.MessageSummary, 0, len(raw))
	var withAttachments []string
	for _, item := range raw {
		summary := types.MessageSummary{
			Subject:    item.Subject,
			Sender:     item.From.Mailbox.String(),
			Received:   m.norm.Parse(item.DateTimeReceived),
			Read:       item.IsRead,
			FolderPath: folder.Path,
			Ref: types.MessageRef{
				Protocol:  types.ProtocolExchange,
				Folder:    folder.Native,
				ItemID:    item.ItemID.ID,
				MessageID: item.InternetMessageID,
			},
		}
		summary.StableID = item.InternetMessageID
		if summary.StableID == "" {
			summary.StableID = "ews:" + item.ItemID.ID
		}
		if item.HasAttachments {
			withAttachments = append(withAttachments, item.ItemID.ID)
		}
		summaries = append(summaries, summary)
	}

	if len(withAttachments) > 0 {
		names, err := m.attachmentNames(ctx, withAttachments)
		if err != nil {
			// Filters on attachment names still run locally against what
			// we know; a failed lookup degrades to count-only information.
			m.logger.WithError(err).Warn("Failed to fetch attachment metadata")
		}
		for i := range summaries {
			if info, ok := names[summaries[i].Ref.ItemID]; ok {
				summaries[i].AttachmentCount = info.count
				summaries[i].AttachmentNames = info.names
			} else if hasItem(withAttachments, summaries[i].Ref.ItemID) {
				summaries[i].AttachmentCount = 1
			}
		}
	}
	return summaries, nil
}

// buildRestriction renders the pushable criteria as an EWS Restriction.
func buildRestriction(query *PushQuery) string {
	if query == nil || query.Empty() {
		return ""
	}

	var parts []string
	if query.Subject != "" {
		parts = append(parts, fmt.Sprintf(
			`<t:Contains ContainmentMode="Substring" ContainmentComparison="IgnoreCase"><t:FieldURI FieldURI="item:Subject"/><t:Constant Value="%s"/></t:Contains>`,
			xmlEscape(query.Subject)))
	}
	if query.Sender != "" {
		parts = append(parts, fmt.Sprintf(
			`<t:Contains ContainmentMode="Substring" ContainmentComparison="IgnoreCase"><t:FieldURI FieldURI="message:From"/><t:Constant Value="%s"/></t:Contains>`,
			xmlEscape(query.Sender)))
	}
	if !query.Since.IsZero() {
		parts = append(parts, fmt.Sprintf(
			`<t:IsGreaterThanOrEqualTo><t:FieldURI FieldURI="item:DateTimeReceived"/><t:FieldURIOrConstant><t:Constant Value=%q/></t:FieldURIOrConstant></t:IsGreaterThanOrEqualTo>`,
			datetime.FormatForProtocol(query.Since, types.ProtocolExchange)))
	}
	if !query.Before.IsZero() {
		parts = append(parts, fmt.Sprintf(
			`<t:IsLessThan><t:FieldURI FieldURI="item:DateTimeReceived"/><t:FieldURIOrConstant><t:Constant Value=%q/></t:FieldURIOrConstant></t:IsLessThan>`,
			datetime.FormatForProtocol(query.Before, types.ProtocolExchange)))
	}
	switch query.ReadState {
	case types.ReadStateRead:
		parts = append(parts,
			`<t:IsEqualTo><t:FieldURI FieldURI="message:IsRead"/><t:FieldURIOrConstant><t:Constant Value="true"/></t:FieldURIOrConstant></t:IsEqualTo>`)
	case types.ReadStateUnread:
		parts = append(parts,
			`<t:IsEqualTo><t:FieldURI FieldURI="message:IsRead"/><t:FieldURIOrConstant><t:Constant Value="false"/></t:FieldURIOrConstant></t:IsEqualTo>`)
	}

	if len(parts) == 0 {
		return ""
	}
	inner := parts[0]
	if len(parts) > 1 {
		inner = "<t:And>" + strings.Join(parts, "") + "</t:And>"
	}
	return "  <m:Restriction>" + inner + "</m:Restriction>\n"
}

type attachmentMeta struct {
	count int
	names []string
}

// attachmentNames resolves attachment filenames for a batch of items.
// FindItem cannot return the attachment collection, so this is a second
// round trip via GetItem.
func (m *exchangeMailbox) attachmentNames(ctx context.Context, itemIDs []string) (map[string]attachmentMeta, error) {
	var b strings.Builder
	b.WriteString(`<m:GetItem>
  <m:ItemShape>
    <t:BaseShape>IdOnly</t:BaseShape>
    <t:AdditionalProperties><t:FieldURI FieldURI="item:Attachments"/></t:AdditionalProperties>
  </m:ItemShape>
  <m:ItemIds>`)
	for _, id := range itemIDs {
		fmt.Fprintf(&b, `<t:ItemId Id=%q/>`, id)
	}
	b.WriteString(`</m:ItemIds>
</m:GetItem>`)

	data, err := m.soapCall(ctx, b.String())
	if err != nil {
		return nil, err
	}

	raw, err := decodeAll[ewsItemAttachments](data, "Message")
	if err != nil {
		return nil, fmt.Errorf("failed to parse GetItem response: %w", err)
	}

	out := make(map[string]attachmentMeta, len(raw))
	for _, item := range raw {
		names := append([]string{}, item.FileNames...)
		names = append(names, item.ItemNames...)
		out[item.ItemID.ID] = attachmentMeta{count: len(names), names: names}
	}
	return out, nil
}

func (m *exchangeMailbox) getDistinguishedFolder(ctx context.Context, id string) (*types.Folder, error) {
	body := fmt.Sprintf(`<m:GetFolder>
  <m:FolderShape><t:BaseShape>Default</t:BaseShape></m:FolderShape>
  <m:FolderIds><t:DistinguishedFolderId Id=%q/></m:FolderIds>
</m:GetFolder>`, id)

	data, err := m.soapCall(ctx, body)
	if err != nil {
		return nil, err
	}

	raw, err := decodeAll[ewsFolder](data, "Folder")
	if err != nil {
		return nil, fmt.Errorf("failed to parse GetFolder response: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("folder %s not present in response", id)
	}

	return &types.Folder{
		Name:        raw[0].DisplayName,
		Path:        raw[0].DisplayName,
		Native:      raw[0].FolderID.ID,
		HasChildren: raw[0].ChildFolderCount > 0,
	}, nil
}

const soapEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header><t:RequestServerVersion Version="Exchange2013"/></soap:Header>
  <soap:Body>
%s
  </soap:Body>
</soap:Envelope>`

func (m *exchangeMailbox) soapCall(ctx context.Context, body string) ([]byte, error) {
	payload := fmt.Sprintf(soapEnvelope, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.SetBasicAuth(m.account.Username, m.account.Password)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, NewError(KindAuthentication, "EWS rejected credentials for "+m.account.Username, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("EWS returned status %d", resp.StatusCode)
	}

	if err := responseError(data); err != nil {
		return nil, err
	}
	return data, nil
}

type ewsFolder struct {
	FolderID struct {
		ID string `xml:"Id,attr"`
	} `xml:"FolderId"`
	DisplayName      string `xml:"DisplayName"`
	ChildFolderCount int    `xml:"ChildFolderCount"`
}

type ewsMailbox struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
}

func (mb ewsMailbox) String() string {
	if mb.Name != "" && mb.EmailAddress != "" {
		return fmt.Sprintf("%s <%s>", mb.Name, mb.EmailAddress)
	}
	if mb.EmailAddress != "" {
		return mb.EmailAddress
	}
	return mb.Name
}

type ewsMessage struct {
	ItemID struct {
		ID string `xml:"Id,attr"`
	} `xml:"ItemId"`
	Subject          string `xml:"Subject"`
	DateTimeReceived string `xml:"DateTimeReceived"`
	From             struct {
		Mailbox ewsMailbox `xml:"Mailbox"`
	} `xml:"From"`
	IsRead            bool   `xml:"IsRead"`
	HasAttachments    bool   `xml:"HasAttachments"`
	InternetMessageID string `xml:"InternetMessageId"`
}

type ewsItemAttachments struct {
	ItemID struct {
		ID string `xml:"Id,attr"`
	} `xml:"ItemId"`
	FileNames []string `xml:"Attachments>FileAttachment>Name"`
	ItemNames []string `xml:"Attachments>ItemAttachment>Name"`
}

// responseError surfaces EWS-level failures hidden inside HTTP 200
// responses.
func responseError(data []byte) error {
	codes, err := decodeAll[string](data, "ResponseCode")
	if err != nil {
		return nil
	}
	for _, code := range codes {
		if code == "" || code == "NoError" {
			continue
		}
		detail := ""
		if texts, err := decodeAll[string](data, "MessageText"); err == nil && len(texts) > 0 {
			detail = texts[0]
		}
		return fmt.Errorf("EWS error %s: %s", code, detail)
	}
	return nil
}

// decodeAll collects every element with the given local name from an
// XML document, ignoring namespaces.
func decodeAll[T any](data []byte, local string) ([]T, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []T
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != local {
			continue
		}
		var item T
		if err := dec.DecodeElement(&item, &se); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s)) //nolint:errcheck
	return buf.String()
}

func hasItem(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
