package inbox

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	chatdomain "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/client/api"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"
	"escrow_trade_service/pkg/reconcile"

	"go.uber.org/zap"
)

// MessageInbox conversations and messages of one user
type MessageInbox struct {
	userID string
	api    MessageAPI
	store  *reconcile.Store[*chatdomain.Message]
	now    func() time.Time

	messages      *mirror.Collection[*chatdomain.Message]
	conversations *mirror.Collection[*chatdomain.Conversation]

	mu     sync.Mutex
	convs  map[string]*chatdomain.Conversation
	typing map[string]map[string]bool
	offs   []func()
	cancel context.CancelFunc
}

// NewMessageInbox kv nil disables the mirror
func NewMessageInbox(userID string, client MessageAPI, kv mirror.KV, matchWindow time.Duration) *MessageInbox {
	in := &MessageInbox{
		userID: userID,
		api:    client,
		now:    time.Now,
		store: reconcile.NewStore(reconcile.Options[*chatdomain.Message]{
			MatchWindow: matchWindow,
			Validate:    func(m *chatdomain.Message) error { return m.Validate() },
		}),
		convs:  make(map[string]*chatdomain.Conversation),
		typing: make(map[string]map[string]bool),
	}
	if kv != nil {
		in.messages = mirror.NewCollection[*chatdomain.Message](kv, mirror.KindMessages)
		in.conversations = mirror.NewCollection[*chatdomain.Conversation](kv, mirror.KindConversations)
	}
	in.offs = append(in.offs, in.store.Subscribe(in.persist))
	return in
}

// Store underlying reconcile store
func (in *MessageInbox) Store() *reconcile.Store[*chatdomain.Message] {
	return in.store
}

// persist 每次 reconcile 後把該 scope 寫回 mirror
func (in *MessageInbox) persist(ev reconcile.Event[*chatdomain.Message]) {
	if in.messages == nil || ev.Scope == "" {
		return
	}
	switch ev.Kind {
	case reconcile.EventRetrying, reconcile.EventCleared:
		return
	}
	if err := in.messages.Save(context.Background(), in.userID, ev.Scope, in.store.Snapshot(ev.Scope)); err != nil {
		logger.Log.Warn("save message mirror", zap.String("conversation_id", ev.Scope), zap.Error(err))
	}
}

// Bind route push events into the store. Connectivity regained triggers Retry.
func (in *MessageInbox) Bind(ctx context.Context, ch Channel) {
	ctx, cancel := context.WithCancel(ctx)
	in.mu.Lock()
	in.cancel = cancel
	in.offs = append(in.offs,
		ch.On(push.NewMessage, in.onNewMessage),
		ch.On(push.MessageReadReceipt, in.onMessageRead),
		ch.On(push.ConversationReadReceipt, in.onConversationRead),
		ch.On(push.TypingStart, in.onTyping(true)),
		ch.On(push.TypingStop, in.onTyping(false)),
		ch.OnConnectivity(func(online bool) {
			if !online {
				return
			}
			go func() {
				if _, err := in.Retry(ctx); err != nil {
					logger.Log.Warn("retry after reconnect", zap.Error(err))
				}
			}()
		}),
	)
	in.mu.Unlock()
}

// Close deregister every listener
func (in *MessageInbox) Close() {
	in.mu.Lock()
	offs := in.offs
	in.offs = nil
	cancel := in.cancel
	in.mu.Unlock()
	for _, off := range offs {
		off()
	}
	if cancel != nil {
		cancel()
	}
}

// LoadConversations network first, mirror fallback
func (in *MessageInbox) LoadConversations(ctx context.Context) ([]*chatdomain.Conversation, error) {
	list, offline, err := loadOrFallback("list conversations",
		func() ([]*chatdomain.Conversation, error) { return in.api.ListConversations(ctx) },
		func() ([]*chatdomain.Conversation, error) {
			if in.conversations == nil {
				return nil, mirror.ErrNotFound
			}
			items, _, err := in.conversations.Load(ctx, in.userID, "")
			return items, err
		})
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	in.convs = make(map[string]*chatdomain.Conversation, len(list))
	for _, c := range list {
		in.convs[c.ID] = c
	}
	in.mu.Unlock()
	if !offline {
		in.saveConversations(ctx)
	}
	return in.Conversations(), nil
}

func (in *MessageInbox) saveConversations(ctx context.Context) {
	if in.conversations == nil {
		return
	}
	in.mu.Lock()
	list := make([]*chatdomain.Conversation, 0, len(in.convs))
	for _, c := range in.convs {
		cp := *c
		list = append(list, &cp)
	}
	in.mu.Unlock()
	if err := in.conversations.Save(ctx, in.userID, "", list); err != nil {
		logger.Log.Warn("save conversation mirror", zap.Error(err))
	}
}

// LoadMessages network first, mirror fallback. The server snapshot wins.
func (in *MessageInbox) LoadMessages(ctx context.Context, conversationID string) ([]*chatdomain.Message, error) {
	list, offline, err := loadOrFallback("list messages",
		func() ([]*chatdomain.Message, error) { return in.api.ListMessages(ctx, conversationID) },
		func() ([]*chatdomain.Message, error) {
			if in.messages == nil {
				return nil, mirror.ErrNotFound
			}
			items, _, err := in.messages.Load(ctx, in.userID, conversationID)
			return items, err
		})
	if err != nil {
		return nil, err
	}
	if offline {
		// 上次關閉時還沒確認的訊息視為失敗, 重連後重送
		for _, m := range list {
			if m.State == reconcile.StateSent || m.State == reconcile.StateUnsent {
				m.State = reconcile.StateFailed
			}
		}
	} else {
		for _, m := range list {
			m.ViewFor(in.userID)
		}
		list = append(list, in.pendingFromMirror(ctx, conversationID, list)...)
	}
	in.store.Replace(conversationID, list)
	in.syncConversation(conversationID)
	return in.store.Snapshot(conversationID), nil
}

// pendingFromMirror 上一個 process 沒送出的訊息只存在 mirror, 交給 Replace 保留並重新排入 Retry
func (in *MessageInbox) pendingFromMirror(ctx context.Context, conversationID string, server []*chatdomain.Message) []*chatdomain.Message {
	if in.messages == nil || in.store.Loaded(conversationID) {
		return nil
	}
	cached, _, err := in.messages.Load(ctx, in.userID, conversationID)
	if err != nil {
		return nil
	}
	known := make(map[string]bool, len(server))
	for _, m := range server {
		if m.ClientID != "" {
			known[m.ClientID] = true
		}
	}
	var out []*chatdomain.Message
	for _, m := range cached {
		if m.State == "" || m.State == reconcile.StateConfirmed || known[m.ClientID] {
			continue
		}
		m.State = reconcile.StateFailed
		out = append(out, m)
	}
	return out
}

// Send optimistic send. Validation and authorization errors are returned,
// any other failure leaves the message failed in the store and queued for Retry.
func (in *MessageInbox) Send(ctx context.Context, conversationID, text string, attachments []chatdomain.Attachment) (*chatdomain.Message, error) {
	msg := &chatdomain.Message{
		ConversationID: conversationID,
		SenderID:       in.userID,
		Content:        strings.TrimSpace(text),
		Attachments:    attachments,
		CreatedAt:      in.now().UTC(),
	}
	rec, err := in.store.Submit(ctx, msg, in.send)
	if err != nil {
		if errors.Is(err, reconcile.ErrInvalidRecord) || errors.Is(err, api.ErrUnauthorized) {
			return rec, err
		}
		if rec == nil {
			// removed while in flight (logout / Clear), nothing left to retry
			return nil, err
		}
		logger.Log.Warn("message queued for retry", zap.String("conversation_id", conversationID), zap.Error(err))
		return rec, nil
	}
	in.syncConversation(conversationID)
	return rec, nil
}

func (in *MessageInbox) send(ctx context.Context, m *chatdomain.Message) (*chatdomain.Message, error) {
	out, err := in.api.SendMessage(ctx, m)
	if err != nil {
		return nil, err
	}
	return out.ViewFor(in.userID), nil
}

// Retry re-send every failed message with its original client id
func (in *MessageInbox) Retry(ctx context.Context) (int, error) {
	n, err := in.store.Retry(ctx, in.send)
	if errors.Is(err, api.ErrUnauthorized) {
		return n, err
	}
	if err != nil {
		logger.Log.Warn("retry left messages queued", zap.Int("sent", n), zap.Error(err))
	}
	for _, scope := range in.store.Scopes() {
		in.syncConversation(scope)
	}
	return n, nil
}

// Failed messages waiting for Retry
func (in *MessageInbox) Failed() []*chatdomain.Message {
	return in.store.Failed()
}

// MarkRead local first, then the server
func (in *MessageInbox) MarkRead(ctx context.Context, conversationID, messageID string) error {
	changed, err := in.store.MarkRead(conversationID, messageID)
	if err != nil {
		return swallow("mark read", err)
	}
	in.syncConversation(conversationID)
	rec, ok := in.store.Get(conversationID, messageID)
	if !changed || !ok || reconcile.IsTempID(rec.ID) {
		return nil
	}
	return swallow("mark read", in.api.MarkMessageRead(ctx, conversationID, rec.ID))
}

// MarkConversationRead returns how many local messages flipped
func (in *MessageInbox) MarkConversationRead(ctx context.Context, conversationID string) (int, error) {
	n := in.store.MarkScopeRead(conversationID)
	in.mu.Lock()
	if c, ok := in.convs[conversationID]; ok {
		c.UnreadCount = 0
	}
	in.mu.Unlock()
	_, err := in.api.MarkConversationRead(ctx, conversationID)
	return n, swallow("mark conversation read", err)
}

// Upload file to the conversation, the attachment can then be passed to Send
func (in *MessageInbox) Upload(ctx context.Context, conversationID, name string, r io.Reader, size int64, progress api.ProgressFunc) (*chatdomain.Attachment, error) {
	att, err := in.api.UploadFile(ctx, conversationID, name, r, size, progress)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, err
		}
		logger.Log.Warn("upload failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}
	return att, nil
}

// Messages snapshot of one conversation
func (in *MessageInbox) Messages(conversationID string) []*chatdomain.Message {
	return in.store.Snapshot(conversationID)
}

// Unread unread count of one conversation
func (in *MessageInbox) Unread(conversationID string) int {
	if in.store.Loaded(conversationID) {
		return in.store.Unread(conversationID)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if c, ok := in.convs[conversationID]; ok {
		return c.UnreadCount
	}
	return in.store.Unread(conversationID)
}

// Conversations newest first. A loaded conversation takes its unread count from the store.
func (in *MessageInbox) Conversations() []*chatdomain.Conversation {
	in.mu.Lock()
	list := make([]*chatdomain.Conversation, 0, len(in.convs))
	for _, c := range in.convs {
		cp := *c
		list = append(list, &cp)
	}
	in.mu.Unlock()

	for _, c := range list {
		if in.store.Loaded(c.ID) {
			c.UnreadCount = in.store.Unread(c.ID)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list
}

// TotalUnread sum of the per-conversation counters
func (in *MessageInbox) TotalUnread() int {
	total := 0
	seen := make(map[string]bool)
	for _, c := range in.Conversations() {
		seen[c.ID] = true
		total += c.UnreadCount
	}
	for scope, n := range in.store.UnreadByScope() {
		if !seen[scope] {
			total += n
		}
	}
	return total
}

// Typing users typing in a conversation
func (in *MessageInbox) Typing(conversationID string) []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, 0, len(in.typing[conversationID]))
	for u := range in.typing[conversationID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Logout drop memory state and this user's message mirrors
func (in *MessageInbox) Logout(ctx context.Context) error {
	scopes := in.store.Scopes()
	in.store.Clear()
	in.mu.Lock()
	in.convs = make(map[string]*chatdomain.Conversation)
	in.typing = make(map[string]map[string]bool)
	in.mu.Unlock()

	if in.messages == nil {
		return nil
	}
	var errs []error
	for _, scope := range scopes {
		errs = append(errs, in.messages.Delete(ctx, in.userID, scope))
	}
	errs = append(errs, in.conversations.Delete(ctx, in.userID, ""))
	return errors.Join(errs...)
}

// syncConversation 用 store 最後一則訊息更新 conversation
func (in *MessageInbox) syncConversation(conversationID string) {
	msgs := in.store.Snapshot(conversationID)
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.convs[conversationID]
	if !ok {
		c = &chatdomain.Conversation{ID: conversationID, Participants: []string{in.userID}}
		in.convs[conversationID] = c
	}
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	c.LastMessage = last
	if last.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = last.CreatedAt
	}
	if !pkg.Contains(c.Participants, last.SenderID) {
		c.Participants = append(c.Participants, last.SenderID)
	}
}

func (in *MessageInbox) onNewMessage(env push.Envelope) {
	var m chatdomain.Message
	if err := env.Decode(&m); err != nil {
		logger.Log.Warn("decode new_message", zap.Error(err))
		return
	}
	m.ViewFor(in.userID)
	_, inserted := in.store.Ingest(&m)
	in.syncConversation(m.ConversationID)

	in.mu.Lock()
	if c, ok := in.convs[m.ConversationID]; ok && inserted && !m.Read && !in.store.Loaded(m.ConversationID) {
		c.UnreadCount++
	}
	delete(in.typing[m.ConversationID], m.SenderID)
	in.mu.Unlock()
}

func (in *MessageInbox) onMessageRead(env push.Envelope) {
	var r push.ReadReceipt
	if err := env.Decode(&r); err != nil {
		logger.Log.Warn("decode message_read_receipt", zap.Error(err))
		return
	}
	if r.ReaderID == in.userID {
		// 同一使用者其他 session 已讀
		if _, err := in.store.MarkRead(r.ConversationID, r.MessageID); err != nil {
			logger.Log.Debug("read receipt for unknown message", zap.String("message_id", r.MessageID))
		}
		return
	}
	if m, ok := in.store.Get(r.ConversationID, r.MessageID); ok && !pkg.Contains(m.ReadBy, r.ReaderID) {
		m.ReadBy = append(m.ReadBy, r.ReaderID)
		in.store.Ingest(m)
	}
}

func (in *MessageInbox) onConversationRead(env push.Envelope) {
	var r push.ReadReceipt
	if err := env.Decode(&r); err != nil {
		logger.Log.Warn("decode conversation_read_receipt", zap.Error(err))
		return
	}
	if r.ReaderID == in.userID {
		in.store.MarkScopeRead(r.ConversationID)
		in.mu.Lock()
		if c, ok := in.convs[r.ConversationID]; ok {
			c.UnreadCount = 0
		}
		in.mu.Unlock()
		return
	}
	for _, m := range in.store.Snapshot(r.ConversationID) {
		if m.SenderID == in.userID && m.State == reconcile.StateConfirmed && !pkg.Contains(m.ReadBy, r.ReaderID) {
			m.ReadBy = append(m.ReadBy, r.ReaderID)
			in.store.Ingest(m)
		}
	}
}

func (in *MessageInbox) onTyping(start bool) func(push.Envelope) {
	return func(env push.Envelope) {
		var tp push.Typing
		if err := env.Decode(&tp); err != nil || tp.UserID == in.userID {
			return
		}
		in.mu.Lock()
		defer in.mu.Unlock()
		if !start {
			delete(in.typing[tp.ConversationID], tp.UserID)
			return
		}
		if in.typing[tp.ConversationID] == nil {
			in.typing[tp.ConversationID] = make(map[string]bool)
		}
		in.typing[tp.ConversationID][tp.UserID] = true
	}
}
