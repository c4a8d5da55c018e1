package types

import "time"

// Protocol identifies the account kind a mailbox speaks.
type Protocol string

const (
	ProtocolExchange Protocol = "exchange"
	ProtocolIMAP     Protocol = "imap"
	ProtocolPOP3     Protocol = "pop3"
)

// ReadState selects messages by their read flag.
type ReadState string

const (
	ReadStateAny    ReadState = "any"
	ReadStateRead   ReadState = "read"
	ReadStateUnread ReadState = "unread"
)

// Folder is one node of the remote folder tree. Path always uses "/" as
// the separator regardless of protocol; Native holds the protocol's own
// handle (IMAP mailbox name with its native delimiter, EWS folder id,
// "INBOX" for POP3). A path is unique within one account snapshot.
type Folder struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Native      string `json:"-"`
	HasChildren bool   `json:"has_children,omitempty"`
}

// MessageRef is the lazy reference a consumer needs to re-fetch the full
// message or its attachments later. The search engine never fetches
// bodies itself.
type MessageRef struct {
	Protocol  Protocol `json:"protocol"`
	Folder    string   `json:"folder"`
	UID       uint32   `json:"uid,omitempty"`
	ItemID    string   `json:"item_id,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
}

// MessageSummary is a lightweight view of one message, created per
// search and discarded when the result page is superseded.
type MessageSummary struct {
	StableID        string     `json:"stable_id"`
	Subject         string     `json:"subject"`
	Sender          string     `json:"sender"`
	Received        time.Time  `json:"received"`
	Read            bool       `json:"read"`
	AttachmentCount int        `json:"attachment_count"`
	AttachmentNames []string   `json:"attachment_names,omitempty"`
	FolderPath      string     `json:"folder_path"`
	Ref             MessageRef `json:"ref"`
}

// ResultPage is one slice of the finalized result set, newest first.
type ResultPage struct {
	Items      []MessageSummary `json:"items"`
	TotalCount int              `json:"total_count"`
	PageIndex  int              `json:"page_index"`
	PageSize   int              `json:"page_size"`
}
