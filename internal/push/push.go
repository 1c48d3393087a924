package push

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action push channel action
type Action string

// server -> client
const (
	// NewMessage a message was stored in a conversation
	NewMessage Action = "new_message"
	// MessageReadReceipt one message read by a participant
	MessageReadReceipt Action = "message_read_receipt"
	// ConversationReadReceipt every message of a conversation read by a participant
	ConversationReadReceipt Action = "conversation_read_receipt"
	// TransactionStatusUpdate escrow status changed
	TransactionStatusUpdate Action = "transaction_status_update"
	// PaymentUpdate escrow was funded or refunded
	PaymentUpdate Action = "payment_update"
	// ShippingUpdate escrow shipped or delivered
	ShippingUpdate Action = "shipping_update"
	// SystemNotification a notification was created
	SystemNotification Action = "system_notification"
	// ActionError request could not be parsed
	ActionError Action = "error"
)

// both directions
const (
	TypingStart Action = "typing_start"
	TypingStop  Action = "typing_stop"
)

// client -> server
const (
	SendMessage     Action = "send_message"
	MarkMessageRead Action = "mark_message_read"
	JoinRoom        Action = "join_room"
	LeaveRoom       Action = "leave_room"
)

// Request client -> server frame
type Request struct {
	Action         Action          `json:"action"`
	RequestID      string          `json:"request_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ClientID       string          `json:"client_id,omitempty"`
	Content        string          `json:"content,omitempty"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
}

// Response server -> client frame, either a reply to a Request or a fanned out event
type Response struct {
	Action    Action      `json:"action"`
	RequestID string      `json:"request_id,omitempty"`
	Success   bool        `json:"success"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Envelope Response with the payload kept raw, used by consumers
type Envelope struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Decode unmarshal the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Action)
	}
	return json.Unmarshal(e.Payload, v)
}

// Event build a successful fan-out frame
func Event(action Action, payload interface{}) Response {
	return Response{Action: action, Success: true, Payload: payload}
}

// ReadReceipt payload of message_read_receipt / conversation_read_receipt
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	ReaderID       string `json:"reader_id"`
	Count          int64  `json:"count,omitempty"`
}

// Typing payload of typing_start / typing_stop
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// TransactionUpdate payload of transaction_status_update / payment_update / shipping_update
type TransactionUpdate struct {
	TransactionID  string    `json:"transaction_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Action         string    `json:"action"`
	ActorID        string    `json:"actor_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserChannel redis channel of one user
func UserChannel(userID string) string {
	return "escrow:user:" + userID
}

// RoomChannel redis channel of one transaction room
func RoomChannel(transactionID string) string {
	return "escrow:room:" + transactionID
}
