// Package protocol opens authenticated mailbox connections and hides
// the Exchange/IMAP/POP3 differences behind a single Mailbox interface.
// A Mailbox is owned by exactly one search worker; none of the
// implementations are safe for concurrent use.
package protocol

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// PushQuery is the protocol-neutral subset of search criteria a server
// can evaluate on its side. Each implementation renders it into its
// native filter syntax. Fields left zero mean "no restriction"; an
// all-zero query asks for everything in the folder, newest first.
type PushQuery struct {
	Subject   string
	Sender    string
	Since     time.Time
	Before    time.Time
	ReadState types.ReadState
}

// Empty reports whether the query restricts nothing.
func (q *PushQuery) Empty() bool {
	return q.Subject == "" && q.Sender == "" && q.Since.IsZero() && q.Before.IsZero() &&
		(q.ReadState == "" || q.ReadState == types.ReadStateAny)
}

// Mailbox is the uniform view of one connected account. Folder handles
// returned by one method are valid arguments to the others for the
// lifetime of the connection.
type Mailbox interface {
	// Kind reports the protocol behind this mailbox.
	Kind() types.Protocol

	// RootFolders returns the account's named top-level folders.
	RootFolders(ctx context.Context) ([]types.Folder, error)

	// Children returns the direct subfolders of a folder. POP3 always
	// returns an empty slice: its tree has depth one.
	Children(ctx context.Context, folder types.Folder) ([]types.Folder, error)

	// Search executes a push-down query in a folder and returns at most
	// limit summaries, newest first.
	Search(ctx context.Context, folder types.Folder, query *PushQuery, limit int) ([]types.MessageSummary, error)

	// FetchAll returns the limit most recent message summaries of a
	// folder without any server-side filtering.
	FetchAll(ctx context.Context, folder types.Folder, limit int) ([]types.MessageSummary, error)

	// Close releases the connection. Safe to call once from the owning
	// worker.
	Close() error
}

// Options carries the connection parameters the engine configures.
type Options struct {
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	Logger         *logrus.Logger
}

// Dial opens and authenticates a connection for the account. Failures
// are reported as *Error with kind authentication, unreachable, or
// unsupported-account-kind.
func Dial(ctx context.Context, account *config.Account, opts Options) (Mailbox, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	switch account.Kind {
	case config.KindExchange:
		return dialExchange(ctx, account, opts)
	case config.KindIMAP:
		return dialIMAP(ctx, account, opts)
	case config.KindPOP3:
		return dialPOP3(ctx, account, opts)
	default:
		return nil, NewError(KindUnsupportedAccountKind,
			"unrecognized account kind "+string(account.Kind), nil)
	}
}

// JoinPath builds a "/"-separated folder path from a parent path and a
// folder name. The "/" separator is used for every protocol.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
