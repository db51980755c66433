package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/cobuilders/inbox/internal/events"
	"github.com/cobuilders/inbox/internal/logging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InboxWatcher keeps a viewer's inbox current. It recomputes the inbox
// whenever a message is appended to, or messages are read in, any
// conversation the viewer takes part in. Bursts of events are coalesced.
type InboxWatcher struct {
	svc      *Service
	viewer   string
	onChange func([]models.InboxEntry)
	debounce time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subID   string
	timer   *time.Timer
	latest  []models.InboxEntry
	closed  bool
	refresh sync.Mutex
}

// WatchInbox computes the inbox once, then keeps it current until Close.
// onChange may be nil; Latest always has the newest result.
func (s *Service) WatchInbox(ctx context.Context, viewer string, onChange func([]models.InboxEntry)) (*InboxWatcher, error) {
	wctx, cancel := context.WithCancel(context.Background())
	w := &InboxWatcher{
		svc:      s,
		viewer:   viewer,
		onChange: onChange,
		debounce: s.inboxDebounce,
		logger:   logging.WithViewer(s.logger.With().Str("watcher", "inbox").Logger(), viewer),
		ctx:      wctx,
		cancel:   cancel,
		subID:    "inbox-" + uuid.New().String(),
	}

	if err := s.channel.Subscribe(w.subID, events.InboxFilter(viewer), w.handleEvent); err != nil {
		cancel()
		return nil, classify(err)
	}
	if _, err := w.Refresh(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *InboxWatcher) handleEvent(event *models.Event) {
	switch event.Type {
	case models.EventTypeMessageAppended, models.EventTypeMessagesRead, models.EventTypeConversationCreated:
	default:
		return
	}

	if w.debounce <= 0 {
		w.refreshQuietly()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.refreshQuietly)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *InboxWatcher) refreshQuietly() {
	if _, err := w.Refresh(w.ctx); err != nil && w.ctx.Err() == nil {
		w.logger.Warn().Err(err).Msg("inbox refresh failed")
	}
}

// Refresh recomputes the inbox now.
func (w *InboxWatcher) Refresh(ctx context.Context) ([]models.InboxEntry, error) {
	w.refresh.Lock()
	defer w.refresh.Unlock()

	entries, err := w.svc.aggregator.ListConversations(ctx, w.viewer)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return entries, nil
	}
	w.latest = entries
	onChange := w.onChange
	w.mu.Unlock()

	if onChange != nil {
		onChange(copyEntries(entries))
	}
	return copyEntries(entries), nil
}

// Latest returns the most recently computed inbox.
func (w *InboxWatcher) Latest() []models.InboxEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyEntries(w.latest)
}

// TotalUnread sums unread counts across the latest inbox.
func (w *InboxWatcher) TotalUnread() int {
	return models.TotalUnread(w.Latest())
}

// Close stops watching. It is idempotent.
func (w *InboxWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	subID := w.subID
	w.mu.Unlock()

	w.cancel()
	if err := w.svc.channel.Unsubscribe(subID); err != nil {
		w.logger.Debug().Err(err).Msg("unsubscribe failed")
	}
}

func copyEntries(entries []models.InboxEntry) []models.InboxEntry {
	if entries == nil {
		return nil
	}
	out := make([]models.InboxEntry, len(entries))
	copy(out, entries)
	return out
}
