package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mailprobe/mailprobe/internal/protocol"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// fakeMailbox is an in-memory Mailbox. The folder tree is a map from
// parent path to children ("" holds the roots); messages are keyed by
// folder path.
type fakeMailbox struct {
	kind     types.Protocol
	tree     map[string][]types.Folder
	messages map[string][]types.MessageSummary

	rootErr    error
	childErrs  map[string]error
	searchErrs map[string]error
	fetchErrs  map[string]error

	searchCalls []string
	fetchCalls  []string
	closed      bool
}

func newFakeMailbox(kind types.Protocol) *fakeMailbox {
	return &fakeMailbox{
		kind:       kind,
		tree:       make(map[string][]types.Folder),
		messages:   make(map[string][]types.MessageSummary),
		childErrs:  make(map[string]error),
		searchErrs: make(map[string]error),
		fetchErrs:  make(map[string]error),
	}
}

func (f *fakeMailbox) addFolder(parentPath, name string) types.Folder {
	folder := types.Folder{
		Name: name,
		Path: protocol.JoinPath(parentPath, name),
	}
	f.tree[parentPath] = append(f.tree[parentPath], folder)
	return folder
}

func (f *fakeMailbox) addMessage(folderPath string, m types.MessageSummary) {
	if m.FolderPath == "" {
		m.FolderPath = folderPath
	}
	f.messages[folderPath] = append(f.messages[folderPath], m)
}

func (f *fakeMailbox) Kind() types.Protocol { return f.kind }

func (f *fakeMailbox) RootFolders(ctx context.Context) ([]types.Folder, error) {
	if f.rootErr != nil {
		return nil, f.rootErr
	}
	return f.tree[""], nil
}

func (f *fakeMailbox) Children(ctx context.Context, folder types.Folder) ([]types.Folder, error) {
	if err := f.childErrs[folder.Path]; err != nil {
		return nil, err
	}
	return f.tree[folder.Path], nil
}

func (f *fakeMailbox) Search(ctx context.Context, folder types.Folder, query *protocol.PushQuery, limit int) ([]types.MessageSummary, error) {
	f.searchCalls = append(f.searchCalls, folder.Path)
	if err := f.searchErrs[folder.Path]; err != nil {
		return nil, err
	}

	var out []types.MessageSummary
	for _, m := range f.messages[folder.Path] {
		if matchesPush(&m, query) {
			out = append(out, m)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMailbox) FetchAll(ctx context.Context, folder types.Folder, limit int) ([]types.MessageSummary, error) {
	f.fetchCalls = append(f.fetchCalls, folder.Path)
	if err := f.fetchErrs[folder.Path]; err != nil {
		return nil, err
	}

	msgs := f.messages[folder.Path]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]types.MessageSummary(nil), msgs...), nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

// matchesPush mimics a server evaluating the pushed query.
func matchesPush(m *types.MessageSummary, q *protocol.PushQuery) bool {
	if q == nil || q.Empty() {
		return true
	}
	if q.Subject != "" && !strings.Contains(strings.ToLower(m.Subject), strings.ToLower(q.Subject)) {
		return false
	}
	if q.Sender != "" && !strings.Contains(strings.ToLower(m.Sender), strings.ToLower(q.Sender)) {
		return false
	}
	if !q.Since.IsZero() && m.Received.Before(q.Since) {
		return false
	}
	if !q.Before.IsZero() && m.Received.After(q.Before) {
		return false
	}
	switch q.ReadState {
	case types.ReadStateRead:
		if !m.Read {
			return false
		}
	case types.ReadStateUnread:
		if m.Read {
			return false
		}
	}
	return true
}

// msg builds a deterministic test summary with a unique stable id.
func msg(folderPath string, n int, mutate func(*types.MessageSummary)) types.MessageSummary {
	m := types.MessageSummary{
		StableID:   fmt.Sprintf("<%s-%d@test>", strings.ReplaceAll(folderPath, "/", "-"), n),
		Subject:    fmt.Sprintf("Message %d", n),
		Sender:     "someone@example.com",
		Received:   testNow.AddDate(0, 0, -n),
		Read:       true,
		FolderPath: folderPath,
	}
	if mutate != nil {
		mutate(&m)
	}
	return m
}
