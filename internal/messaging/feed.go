package messaging

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cobuilders/inbox/internal/events"
	"github.com/cobuilders/inbox/internal/logging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultStreamBuffer = 256

// Feed is an open conversation handle for one viewer. It renders the
// ordered history, applies live appends exactly once per message id and
// marks inbound messages read while the handle is visible.
//
// A Feed opened on a peer with no conversation yet is pending: it has no
// history and its first Send creates the conversation.
//
// A Feed must be closed to release its channel subscription.
type Feed struct {
	svc    *Service
	viewer string
	peerID string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conv        *models.Conversation
	messages    []*models.Message
	index       map[string]*models.Message
	pendingRead map[string]struct{}
	listeners   map[int]func(*models.Message)
	nextID      int
	subID       string
	live        bool
	visible     bool
	loaded      bool
	closed      bool
	senderName  string

	draft           string
	draftAttachment *models.Attachment
}

func newFeed(svc *Service, conv *models.Conversation, peerID, viewer, senderName string) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.WithViewer(svc.logger, viewer)
	if conv != nil {
		logger = logging.WithConversation(logger, conv.ID)
	} else {
		logger = logger.With().Str("peer_id", peerID).Logger()
	}
	return &Feed{
		svc:         svc,
		viewer:      viewer,
		peerID:      peerID,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		conv:        conv,
		index:       make(map[string]*models.Message),
		pendingRead: make(map[string]struct{}),
		listeners:   make(map[int]func(*models.Message)),
		visible:     true,
		senderName:  senderName,
	}
}

// Viewer returns the user this handle acts for.
func (f *Feed) Viewer() string {
	return f.viewer
}

// Conversation returns the underlying record, or nil while pending.
func (f *Feed) Conversation() *models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv == nil {
		return nil
	}
	conv := *f.conv
	return &conv
}

// Pending reports whether the conversation has not been created yet.
func (f *Feed) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conv == nil
}

// Live reports whether the handle holds a channel subscription.
func (f *Feed) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Subscribe attaches the handle to the message channel. Calling it again
// while subscribed is a no-op, so a handle never holds two subscriptions.
func (f *Feed) Subscribe() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrHandleClosed
	}
	if f.live {
		f.mu.Unlock()
		return nil
	}
	filter := f.filterLocked()
	subID := "feed-" + uuid.New().String()
	f.subID = subID
	f.live = true
	f.mu.Unlock()

	if err := f.svc.channel.Subscribe(subID, filter, f.handleEvent); err != nil {
		f.mu.Lock()
		if f.subID == subID {
			f.subID = ""
			f.live = false
		}
		f.mu.Unlock()
		return classify(err)
	}
	f.logger.Debug().Str("subscription_id", subID).Msg("feed subscribed")
	return nil
}

func (f *Feed) filterLocked() events.Filter {
	if f.conv != nil {
		return events.ConversationFilter(f.conv.ID)
	}
	// Pending handles wait for the peer to create the conversation.
	return events.Filter{
		EventTypes:    []models.EventType{models.EventTypeConversationCreated},
		ParticipantID: f.viewer,
	}
}

func (f *Feed) unsubscribe(subID string) {
	if subID == "" {
		return
	}
	if err := f.svc.channel.Unsubscribe(subID); err != nil {
		f.logger.Debug().Err(err).Str("subscription_id", subID).Msg("unsubscribe failed")
	}
}

// Load fetches the full history, merges it with anything already rendered
// and marks read exactly the fetched messages that are unread for the
// viewer. A pending handle loads nothing.
func (f *Feed) Load(ctx context.Context) ([]*models.Message, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrHandleClosed
	}
	conv := f.conv
	f.mu.Unlock()

	if conv == nil {
		return nil, nil
	}

	msgs, err := retryOnce(ctx, f.svc.retryBackoff, f.logger, "list_messages", func() ([]*models.Message, error) {
		return f.svc.store.ListMessages(ctx, conv.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.logger.Debug().Int("messages", len(msgs)).Msg("discarding history for closed handle")
		return nil, ErrHandleClosed
	}
	var fresh []*models.Message
	var toMark []string
	for _, msg := range msgs {
		if msg == nil || msg.ConversationID != conv.ID {
			continue
		}
		if existing, ok := f.index[msg.ID]; ok {
			if msg.IsRead {
				existing.IsRead = true
			}
		} else {
			clone := cloneMessage(msg)
			f.insertLocked(clone)
			fresh = append(fresh, clone)
		}
		if msg.UnreadFor(f.viewer) && f.visible {
			toMark = append(toMark, msg.ID)
		}
	}
	f.loaded = true
	listeners := f.listenersLocked()
	f.mu.Unlock()

	f.emit(listeners, fresh)

	if len(toMark) > 0 {
		f.markRead(ctx, toMark)
	}
	return f.History(), nil
}

func (f *Feed) handleEvent(event *models.Event) {
	switch event.Type {
	case models.EventTypeMessageAppended:
		f.receive(event.Message)
	case models.EventTypeMessagesRead:
		f.applyRead(event.MessageIDs)
	case models.EventTypeConversationCreated:
		f.adoptCreated(event)
	}
}

func (f *Feed) receive(msg *models.Message) {
	if msg == nil {
		return
	}

	f.mu.Lock()
	if f.closed || f.conv == nil || msg.ConversationID != f.conv.ID {
		f.mu.Unlock()
		return
	}
	if _, dup := f.index[msg.ID]; dup {
		f.mu.Unlock()
		return
	}
	clone := cloneMessage(msg)
	f.insertLocked(clone)
	shouldMark := clone.UnreadFor(f.viewer) && f.visible && f.svc.markReadOnReceipt
	listeners := f.listenersLocked()
	f.mu.Unlock()

	f.emit(listeners, []*models.Message{clone})

	if shouldMark {
		f.markRead(f.ctx, []string{clone.ID})
	}
}

func (f *Feed) applyRead(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if msg, ok := f.index[id]; ok {
			msg.IsRead = true
		}
		delete(f.pendingRead, id)
	}
}

// adoptCreated turns a pending handle live when the peer creates the
// direct conversation first.
func (f *Feed) adoptCreated(event *models.Event) {
	if !event.Involves(f.peerID) || !event.Involves(f.viewer) {
		return
	}
	conv, err := f.svc.store.GetConversation(f.ctx, event.ConversationID)
	if err != nil {
		f.logger.Warn().Err(err).Str("conversation_id", event.ConversationID).Msg("failed to load created conversation")
		return
	}
	if conv.Kind != models.ConversationKindDirect {
		return
	}
	f.attach(conv)
}

// attach binds a pending handle to its newly created conversation and moves
// the live subscription over to it.
func (f *Feed) attach(conv *models.Conversation) {
	f.mu.Lock()
	if f.closed || f.conv != nil {
		f.mu.Unlock()
		return
	}
	f.conv = conv
	wasLive := f.live
	oldSub := f.subID
	f.subID = ""
	f.live = false
	f.mu.Unlock()

	f.unsubscribe(oldSub)
	if wasLive {
		if err := f.Subscribe(); err != nil {
			f.logger.Warn().Err(err).Msg("live updates unavailable")
		}
	}
	f.logger.Debug().Str("conversation_id", conv.ID).Msg("pending handle attached")
}

// markRead marks ids (plus any earlier failed batch) read. Failures are
// remembered and retried with the next batch.
func (f *Feed) markRead(ctx context.Context, ids []string) {
	f.mu.Lock()
	for id := range f.pendingRead {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	changed, err := retryOnce(ctx, f.svc.retryBackoff, f.logger, "mark_read", func() (int64, error) {
		return f.svc.store.MarkRead(ctx, ids)
	})
	if err != nil {
		f.logger.Warn().Err(err).Int("messages", len(ids)).Msg("mark read failed")
		f.mu.Lock()
		for _, id := range ids {
			f.pendingRead[id] = struct{}{}
		}
		f.mu.Unlock()
		return
	}

	f.applyRead(ids)
	f.logger.Debug().Int("requested", len(ids)).Int64("changed", changed).Msg("messages marked read")
}

// Send appends a message from the viewer. Blank content without an
// attachment fails with ErrEmptyMessage. Appends are never retried; on any
// failure the draft is kept for a manual retry.
func (f *Feed) Send(ctx context.Context, content string, attachment *models.Attachment) (*models.Message, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrHandleClosed
	}
	f.draft = content
	f.draftAttachment = attachment
	conv := f.conv
	f.mu.Unlock()

	if models.IsBlank(content) && attachment == nil {
		return nil, ErrEmptyMessage
	}

	if conv == nil {
		created, err := f.svc.aggregator.ResolveDirectConversation(ctx, f.peerID, f.viewer)
		if err != nil {
			return nil, err
		}
		f.attach(created)
		conv = created
	}

	msg, err := f.svc.store.AppendMessage(ctx, models.NewMessage{
		ConversationID: conv.ID,
		SenderID:       f.viewer,
		Content:        content,
		Attachment:     attachment,
	})
	if err != nil {
		err = classify(err)
		f.logger.Warn().Err(err).Msg("send failed")
		return nil, fmt.Errorf("send: %w", err)
	}

	f.mu.Lock()
	var listeners []func(*models.Message)
	clone := cloneMessage(msg)
	_, echoed := f.index[msg.ID]
	if !echoed && !f.closed {
		f.insertLocked(clone)
		listeners = f.listenersLocked()
	}
	if f.draft == content && f.draftAttachment == attachment {
		f.draft = ""
		f.draftAttachment = nil
	}
	senderName := f.senderName
	f.mu.Unlock()

	if !echoed {
		f.emit(listeners, []*models.Message{clone})
	}

	if recipient := conv.OtherParticipant(f.viewer); recipient != "" {
		if senderName == "" {
			senderName = f.viewer
		}
		f.svc.notifier.Notify(models.Notice{
			RecipientID:       recipient,
			ConversationID:    conv.ID,
			MessageKind:       msg.Kind(),
			SenderDisplayName: senderName,
		})
	}

	return cloneMessage(msg), nil
}

// Draft returns the unsent content kept after a failed send.
func (f *Feed) Draft() (string, *models.Attachment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft, f.draftAttachment
}

// History returns a copy of the rendered messages in order.
func (f *Feed) History() []*models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Message, len(f.messages))
	for i, msg := range f.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

// UnreadCount counts rendered messages still unread for the viewer.
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.CountUnread(f.messages, f.viewer)
}

// OnMessage registers cb for every message newly rendered by this handle.
// The returned func removes it.
func (f *Feed) OnMessage(cb func(*models.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb == nil || f.closed {
		return func() {}
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = cb
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Stream delivers newly rendered messages on a buffered channel until the
// returned cancel func runs or the handle closes. A consumer that falls
// more than buffer messages behind loses the overflow; History still has it.
func (f *Feed) Stream(buffer int) (<-chan *models.Message, func()) {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	out := make(chan *models.Message, buffer)
	var once sync.Once
	var mu sync.Mutex
	done := false
	stop := make(chan struct{})

	remove := f.OnMessage(func(msg *models.Message) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case out <- msg:
		default:
			f.logger.Warn().Str("message_id", msg.ID).Msg("stream consumer behind, dropping message")
		}
	})

	cancel := func() {
		once.Do(func() {
			remove()
			close(stop)
			mu.Lock()
			done = true
			close(out)
			mu.Unlock()
		})
	}
	go func() {
		select {
		case <-f.ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return out, cancel
}

// SetVisible records whether the viewer can currently see this handle.
// Hidden handles leave inbound messages unread; becoming visible marks the
// rendered backlog read.
func (f *Feed) SetVisible(ctx context.Context, visible bool) {
	f.mu.Lock()
	if f.closed || f.visible == visible {
		f.mu.Unlock()
		return
	}
	f.visible = visible
	var toMark []string
	if visible && f.loaded {
		for _, msg := range f.messages {
			if msg.UnreadFor(f.viewer) {
				toMark = append(toMark, msg.ID)
			}
		}
	}
	f.mu.Unlock()

	if len(toMark) > 0 {
		f.markRead(ctx, toMark)
	}
}

// Close releases the subscription and drops listeners. Late results for a
// closed handle are discarded. Close is idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subID := f.subID
	f.subID = ""
	f.live = false
	f.listeners = make(map[int]func(*models.Message))
	f.mu.Unlock()

	f.unsubscribe(subID)
	f.cancel()
	f.logger.Debug().Msg("feed closed")
}

// insertLocked adds msg keeping (CreatedAt, Seq) order. Appends normally
// arrive in order, so the common case is a plain append.
func (f *Feed) insertLocked(msg *models.Message) {
	f.index[msg.ID] = msg
	n := len(f.messages)
	if n == 0 || f.messages[n-1].Before(msg) {
		f.messages = append(f.messages, msg)
		return
	}
	f.messages = append(f.messages, msg)
	models.SortMessages(f.messages)
}

func (f *Feed) listenersLocked() []func(*models.Message) {
	if len(f.listeners) == 0 {
		return nil
	}
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(*models.Message), len(ids))
	for i, id := range ids {
		out[i] = f.listeners[id]
	}
	return out
}

func (f *Feed) emit(listeners []func(*models.Message), msgs []*models.Message) {
	for _, msg := range msgs {
		for _, cb := range listeners {
			cb(cloneMessage(msg))
		}
	}
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if msg.Attachment != nil {
		att := *msg.Attachment
		clone.Attachment = &att
	}
	return &clone
}
