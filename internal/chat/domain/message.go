package domain

import (
	"errors"
	"strings"
	"time"

	"escrow_trade_service/pkg"
	"escrow_trade_service/pkg/reconcile"
)

var (
	// ErrEmptyMessage no text and no attachment
	ErrEmptyMessage = errors.New("message has no content")
	// ErrConversationNotFound conversation id unknown
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound message id unknown
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotParticipant user is not part of the conversation
	ErrNotParticipant = errors.New("not a participant of the conversation")
	// ErrDuplicateClientID the (conversation, sender, client_id) already exists
	ErrDuplicateClientID = errors.New("duplicate client id")
)

// Attachment 上傳到 object storage 的檔案
type Attachment struct {
	Name      string `bson:"name" json:"name"`
	Size      int64  `bson:"size" json:"size"`
	MimeType  string `bson:"mime_type" json:"mime_type"`
	URL       string `bson:"url" json:"url"`
	ObjectKey string `bson:"object_key,omitempty" json:"object_key,omitempty"`
}

// Message 聊天訊息, 同時是 client 端 reconcile.Store 的 record
type Message struct {
	ID             string       `bson:"_id" json:"id"`
	ClientID       string       `bson:"client_id,omitempty" json:"client_id,omitempty"`
	ConversationID string       `bson:"conversation_id" json:"conversation_id"`
	TransactionID  string       `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	SenderID       string       `bson:"sender_id" json:"sender_id"`
	Content        string       `bson:"content" json:"content"`
	Attachments    []Attachment `bson:"attachments,omitempty" json:"attachments,omitempty"`
	CreatedAt      time.Time    `bson:"created_at" json:"created_at"`
	ReadBy         []string     `bson:"read_by" json:"read_by,omitempty"`

	// per-viewer fields, never stored server side
	Read  bool                `bson:"-" json:"read"`
	State reconcile.SyncState `bson:"-" json:"sync_state,omitempty"`
}

// Validate rejects a message with neither text nor attachments
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return ErrEmptyMessage
	}
	if m.ConversationID == "" {
		return errors.New("conversation id is required")
	}
	return nil
}

// ViewFor fills Read for userID
func (m *Message) ViewFor(userID string) *Message {
	m.Read = m.SenderID == userID || pkg.Contains(m.ReadBy, userID)
	return m
}

func (m *Message) RecordID() string { return m.ID }
func (m *Message) SetRecordID(id string) { m.ID = id }
func (m *Message) RecordClientID() string { return m.ClientID }
func (m *Message) SetRecordClientID(id string) { m.ClientID = id }
func (m *Message) RecordScope() string { return m.ConversationID }
func (m *Message) RecordSender() string { return m.SenderID }
func (m *Message) RecordContent() string { return m.Content }
func (m *Message) RecordTime() time.Time { return m.CreatedAt }
func (m *Message) IsRead() bool { return m.Read }
func (m *Message) SetRead(read bool) { m.Read = read }
func (m *Message) SyncState() reconcile.SyncState { return m.State }
func (m *Message) SetSyncState(s reconcile.SyncState) { m.State = s }

// Clone deep copy
func (m *Message) Clone() *Message {
	c := *m
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	c.ReadBy = append([]string(nil), m.ReadBy...)
	return &c
}

// AttachmentJob 上傳完成後交給 worker 檢查的工作
type AttachmentJob struct {
	ConversationID string     `json:"conversation_id"`
	UploaderID     string     `json:"uploader_id"`
	Attachment     Attachment `json:"attachment"`
}

// AttachmentQueue default rabbitmq queue name
const AttachmentQueue = "attachment.verify"
