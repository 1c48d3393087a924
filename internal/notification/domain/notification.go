package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow_trade_service/pkg"
	"escrow_trade_service/pkg/reconcile"
)

// Kind 通知類別
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindPayment     Kind = "payment"
	KindShipping    Kind = "shipping"
	KindMessage     Kind = "message"
	KindDispute     Kind = "dispute"
	KindSystem      Kind = "system"
)

// Priority 通知優先度
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var (
	kinds      = []Kind{KindTransaction, KindPayment, KindShipping, KindMessage, KindDispute, KindSystem}
	priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
)

var (
	// ErrNotificationNotFound id unknown for the user
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrInvalidNotification notification rejected
	ErrInvalidNotification = errors.New("invalid notification")
	// ErrDuplicateClientID (user, client_id) already stored
	ErrDuplicateClientID = errors.New("duplicate client id")
)

// Notification 使用者通知, scope 為 UserID
type Notification struct {
	ID            string    `bson:"_id" json:"id"`
	ClientID      string    `bson:"client_id,omitempty" json:"client_id,omitempty"`
	UserID        string    `bson:"user_id" json:"user_id"`
	Kind          Kind      `bson:"kind" json:"kind"`
	Priority      Priority  `bson:"priority" json:"priority"`
	Title         string    `bson:"title" json:"title"`
	Message       string    `bson:"message" json:"message"`
	TransactionID string    `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Link          string    `bson:"link,omitempty" json:"link,omitempty"`
	Read          bool      `bson:"read" json:"read"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`

	State reconcile.SyncState `bson:"-" json:"sync_state,omitempty"`
}

// Normalize 填入預設值並檢查欄位
func (n *Notification) Normalize() error {
	if n.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: title or message is required", ErrInvalidNotification)
	}
	if n.Kind == "" {
		n.Kind = KindSystem
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if !pkg.Contains(kinds, n.Kind) {
		return fmt.Errorf("%w: kind %q", ErrInvalidNotification, n.Kind)
	}
	if !pkg.Contains(priorities, n.Priority) {
		return fmt.Errorf("%w: priority %q", ErrInvalidNotification, n.Priority)
	}
	return nil
}

func (n *Notification) RecordID() string { return n.ID }
func (n *Notification) SetRecordID(id string) { n.ID = id }
func (n *Notification) RecordClientID() string { return n.ClientID }
func (n *Notification) SetRecordClientID(id string) { n.ClientID = id }
func (n *Notification) RecordScope() string { return n.UserID }
func (n *Notification) RecordSender() string { return string(n.Kind) }
func (n *Notification) RecordContent() string { return n.Title + "\n" + n.Message }
func (n *Notification) RecordTime() time.Time { return n.CreatedAt }
func (n *Notification) IsRead() bool { return n.Read }
func (n *Notification) SetRead(read bool) { n.Read = read }
func (n *Notification) SyncState() reconcile.SyncState { return n.State }
func (n *Notification) SetSyncState(s reconcile.SyncState) { n.State = s }

// Clone copy
func (n *Notification) Clone() *Notification {
	c := *n
	return &c
}
