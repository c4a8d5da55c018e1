package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/datetime"
	"github.com/mailprobe/mailprobe/internal/protocol"
	"github.com/mailprobe/mailprobe/pkg/types"
)

// ErrSearchActive is returned by Engine.Start while a previous search
// is still running. The engine never runs two searches concurrently
// because mailbox connections are not thread-safe; cancel the running
// search first.
var ErrSearchActive = errors.New("a search is already running on this engine")

// State is the orchestrator's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateDiscoveringFolders
	StateSearchingFolder
	StateAggregating
	StatePaginating
	StateComplete
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringFolders:
		return "discovering-folders"
	case StateSearchingFolder:
		return "searching-folder"
	case StateAggregating:
		return "aggregating"
	case StatePaginating:
		return "paginating"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the state ends a search.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

// ProgressEvent is an advisory status update. Per-folder events carry
// the folder path and its match count; lighter "activity" events fire
// after each protocol call so large single folders still show life.
type ProgressEvent struct {
	SearchID        string `json:"search_id"`
	Stage           string `json:"stage"`
	Message         string `json:"message"`
	FolderPath      string `json:"folder_path,omitempty"`
	FolderMatches   int    `json:"folder_matches,omitempty"`
	FoldersScanned  int    `json:"folders_scanned"`
	MessagesScanned int    `json:"messages_scanned"`
	Matches         int    `json:"matches"`
}

// Stats summarizes what the worker actually did. FoldersSearched next
// to FoldersPlanned lets a caller distinguish "all folders failed" from
// "genuinely nothing matched"; the cap flags mark possibly-truncated
// result sets.
type Stats struct {
	FoldersPlanned  int  `json:"folders_planned"`
	FoldersSearched int  `json:"folders_searched"`
	FoldersFailed   int  `json:"folders_failed"`
	TraversalErrors int  `json:"traversal_errors"`
	MessagesScanned int  `json:"messages_scanned"`
	FolderCapHit    bool `json:"folder_cap_hit,omitempty"`
	GlobalCapHit    bool `json:"global_cap_hit,omitempty"`
}

// ResultEvent is the single terminal event of a search: a page on
// success, a structured error on failure, Cancelled on cancellation.
type ResultEvent struct {
	Page      *types.ResultPage `json:"page,omitempty"`
	Err       *protocol.Error   `json:"-"`
	Cancelled bool              `json:"cancelled,omitempty"`
	Stats     Stats             `json:"stats"`
}

// DialFunc opens a mailbox connection; swapped out in tests.
type DialFunc func(ctx context.Context, account *config.Account, opts protocol.Options) (protocol.Mailbox, error)

// Engine runs searches. At most one search is active per engine
// instance at any time.
type Engine struct {
	cfg    *config.Config
	logger *logrus.Logger
	norm   *datetime.Normalizer
	dial   DialFunc

	mu     sync.Mutex
	active *Search
}

// NewEngine creates an engine with the real protocol dialer.
func NewEngine(cfg *config.Config, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger,
		norm:   datetime.New(logger),
		dial:   protocol.Dial,
	}
}

// Search is the caller's handle on one running search. The caller
// drains Progress and Result on its own goroutine; the worker never
// calls back into caller-owned state.
type Search struct {
	id     string
	engine *Engine

	cancelled atomic.Bool
	cancel    context.CancelFunc
	state     atomic.Int32
	stats     Stats

	progress chan ProgressEvent
	result   chan ResultEvent
	done     chan struct{}
}

// Start validates the request and spawns the worker. It returns
// ErrSearchActive while a previous search is still running.
func (e *Engine) Start(ctx context.Context, account *config.Account, criteria Criteria, page PageRequest) (*Search, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if criteria.FolderPath == "" {
		criteria.FolderPath = e.cfg.DefaultFolder
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrSearchActive
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s := &Search{
		id:       uuid.NewString(),
		engine:   e,
		cancel:   cancel,
		progress: make(chan ProgressEvent, 64),
		result:   make(chan ResultEvent, 1),
		done:     make(chan struct{}),
	}
	e.active = s

	go s.run(workerCtx, account, criteria, page)
	return s, nil
}

func (e *Engine) clearActive(s *Search) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == s {
		e.active = nil
	}
}

// ID identifies this search invocation in logs and events.
func (s *Search) ID() string { return s.id }

// Progress streams advisory events. The channel closes when the search
// ends; slow consumers lose events rather than stalling the worker.
func (s *Search) Progress() <-chan ProgressEvent { return s.progress }

// Result delivers exactly one terminal event, then closes.
func (s *Search) Result() <-chan ResultEvent { return s.result }

// Done closes when the worker has fully finished and the engine is
// free for the next search.
func (s *Search) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle state.
func (s *Search) State() State { return State(s.state.Load()) }

// Cancel requests cooperative cancellation. The worker checks the flag
// between folders and between messages; one outstanding protocol call
// may still finish in the background but its result is discarded.
func (s *Search) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

func (s *Search) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Search) run(ctx context.Context, account *config.Account, criteria Criteria, pageReq PageRequest) {
	defer close(s.done)
	defer s.engine.clearActive(s)
	defer close(s.progress)

	logger := s.engine.logger.WithField("search_id", s.id)
	now := s.engine.norm.Now()

	s.setState(StateConnecting)
	s.emit(ProgressEvent{Stage: "connecting", Message: "Connecting to account " + account.Name})

	mbox, err := s.engine.dial(ctx, account, protocol.Options{
		ConnectTimeout: s.engine.cfg.ConnectTimeout,
		OpTimeout:      s.engine.cfg.QueryTimeout,
		Logger:         s.engine.logger,
	})
	if err != nil {
		if s.cancelled.Load() {
			s.finishCancelled()
			return
		}
		s.finishFailed(err)
		return
	}
	defer mbox.Close()

	if s.cancelled.Load() {
		s.finishCancelled()
		return
	}

	s.setState(StateDiscoveringFolders)
	s.emit(ProgressEvent{Stage: "discovering", Message: "Resolving folder tree under " + criteria.FolderPath})

	folders, rstats, err := ResolveFolders(ctx, mbox, criteria.FolderPath,
		criteria.ExcludedFolders, criteria.ExcludeMode, s.engine.logger)
	s.stats.TraversalErrors = rstats.TraversalErrors
	if err != nil {
		if s.cancelled.Load() {
			s.finishCancelled()
			return
		}
		s.finishFailed(err)
		return
	}
	s.stats.FoldersPlanned = len(folders)

	agg := NewAggregator()
	query := BuildQuery(&criteria, mbox.Kind(), now)

	for _, folder := range folders {
		if s.cancelled.Load() {
			s.finishCancelled()
			return
		}
		if s.stats.GlobalCapHit {
			break
		}

		s.setState(StateSearchingFolder)
		msgs, err := s.searchFolder(ctx, mbox, folder, query)
		if err != nil {
			if s.cancelled.Load() {
				s.finishCancelled()
				return
			}
			s.stats.FoldersFailed++
			logger.WithError(err).WithField("folder", folder.Path).Warn("Folder search failed, continuing with remaining folders")
			continue
		}
		s.stats.FoldersSearched++

		folderMatches := 0
		for i := range msgs {
			if s.cancelled.Load() {
				s.finishCancelled()
				return
			}
			s.stats.MessagesScanned++
			if criteria.Matches(&msgs[i], now) && agg.Add(msgs[i]) {
				folderMatches++
			}
			if s.stats.MessagesScanned >= s.engine.cfg.GlobalMessageCap {
				s.stats.GlobalCapHit = true
				break
			}
		}
		if len(msgs) >= s.engine.cfg.FolderMessageCap {
			s.stats.FolderCapHit = true
		}

		s.emit(ProgressEvent{
			Stage:         "folder-complete",
			Message:       fmt.Sprintf("Searched %s: %d matches", folder.Path, folderMatches),
			FolderPath:    folder.Path,
			FolderMatches: folderMatches,
			Matches:       agg.Len(),
		})
	}

	if s.cancelled.Load() {
		s.finishCancelled()
		return
	}

	s.setState(StateAggregating)
	total := agg.Finalize()

	s.setState(StatePaginating)
	page := agg.Page(pageReq.Index, pageReq.Size)

	s.setState(StateComplete)
	logger.WithFields(logrus.Fields{
		"total":            total,
		"folders_searched": s.stats.FoldersSearched,
		"folders_failed":   s.stats.FoldersFailed,
	}).Info("Search complete")
	s.finish(ResultEvent{Page: &page, Stats: s.stats})
}

// searchFolder runs the push-down query when one exists and falls back
// to fetch-all-then-filter when the protocol cannot express the
// criteria or the server rejects the query. Either way the caller runs
// the full local filter chain over the returned summaries.
func (s *Search) searchFolder(ctx context.Context, mbox protocol.Mailbox, folder types.Folder, query *protocol.PushQuery) ([]types.MessageSummary, error) {
	limit := s.engine.cfg.FolderMessageCap

	if query != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.engine.cfg.QueryTimeout)
		msgs, err := mbox.Search(opCtx, folder, query, limit)
		cancel()
		s.emitActivity(folder.Path, len(msgs))
		if err == nil {
			return msgs, nil
		}
		s.engine.logger.WithError(err).WithField("folder", folder.Path).Warn("Push-down query failed, falling back to full scan")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.engine.cfg.QueryTimeout)
	msgs, err := mbox.FetchAll(opCtx, folder, limit)
	cancel()
	s.emitActivity(folder.Path, len(msgs))
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Search) emitActivity(folderPath string, fetched int) {
	s.emit(ProgressEvent{
		Stage:      "activity",
		Message:    fmt.Sprintf("Fetched %d summaries from %s", fetched, folderPath),
		FolderPath: folderPath,
	})
}

// emit sends a progress event without ever blocking the worker.
func (s *Search) emit(ev ProgressEvent) {
	ev.SearchID = s.id
	ev.FoldersScanned = s.stats.FoldersSearched
	ev.MessagesScanned = s.stats.MessagesScanned
	select {
	case s.progress <- ev:
	default:
	}
}

func (s *Search) finish(ev ResultEvent) {
	s.result <- ev
	close(s.result)
}

func (s *Search) finishCancelled() {
	s.setState(StateCancelled)
	s.finish(ResultEvent{
		Cancelled: true,
		Err:       protocol.NewError(protocol.KindCancelled, "search cancelled by caller", nil),
		Stats:     s.stats,
	})
}

func (s *Search) finishFailed(err error) {
	s.setState(StateFailed)
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		pe = protocol.NewError(protocol.KindUnreachable, "search failed", err)
	}
	s.engine.logger.WithError(err).WithField("search_id", s.id).Error("Search failed")
	s.finish(ResultEvent{Err: pe, Stats: s.stats})
}
