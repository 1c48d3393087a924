package domain

import (
	"errors"
	"fmt"
	"time"

	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg"
)

// Status escrow 交易狀態
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusFunded         Status = "funded"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCompleted      Status = "completed"
	StatusDisputed       Status = "disputed"
	StatusRefunded       Status = "refunded"
	StatusCancelled      Status = "cancelled"
)

// Final 終止狀態不再接受任何動作
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusCancelled
}

// Action 觸發狀態轉換的操作
type Action string

const (
	ActionPay      Action = "pay"
	ActionShip     Action = "ship"
	ActionDeliver  Action = "deliver"
	ActionComplete Action = "complete"
	ActionDispute  Action = "dispute"
	ActionRefund   Action = "refund"
	ActionCancel   Action = "cancel"

	// ActionCreate 只出現在事件中, 不是可執行的動作
	ActionCreate Action = "create"
)

// Role 使用者在交易中的角色
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	// RoleArbiter 平台管理員, 處理爭議
	RoleArbiter Role = "arbiter"
)

var (
	// ErrInvalidTransition action not allowed from the current status
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden role may not perform the action
	ErrForbidden = errors.New("action not allowed for this role")
	// ErrTransactionNotFound transaction id unknown
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrUnknownAction action name unknown
	ErrUnknownAction = errors.New("unknown action")
	// ErrConcurrentUpdate row changed between read and write
	ErrConcurrentUpdate = errors.New("transaction was modified concurrently")
	// ErrInvalidTransaction create input rejected
	ErrInvalidTransaction = errors.New("invalid transaction")
)

type transition struct {
	from  []Status
	to    Status
	roles []Role
}

var transitions = map[Action]transition{
	ActionPay:      {from: []Status{StatusPendingPayment}, to: StatusFunded, roles: []Role{RoleBuyer}},
	ActionShip:     {from: []Status{StatusFunded}, to: StatusShipped, roles: []Role{RoleSeller}},
	ActionDeliver:  {from: []Status{StatusShipped}, to: StatusDelivered, roles: []Role{RoleBuyer}},
	ActionComplete: {from: []Status{StatusDelivered, StatusDisputed}, to: StatusCompleted, roles: []Role{RoleBuyer, RoleArbiter}},
	ActionDispute:  {from: []Status{StatusFunded, StatusShipped, StatusDelivered}, to: StatusDisputed, roles: []Role{RoleBuyer, RoleSeller}},
	ActionRefund:   {from: []Status{StatusDisputed}, to: StatusRefunded, roles: []Role{RoleSeller, RoleArbiter}},
	ActionCancel:   {from: []Status{StatusPendingPayment}, to: StatusCancelled, roles: []Role{RoleBuyer, RoleSeller}},
}

// ParseAction 字串轉 Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := transitions[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// Next 計算下一個狀態.
// 完成爭議只能由 arbiter 執行, 買家只能從 delivered 完成.
func Next(current Status, action Action, role Role) (Status, error) {
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !pkg.Contains(t.roles, role) {
		return "", fmt.Errorf("%w: %s cannot %s", ErrForbidden, role, action)
	}
	if !pkg.Contains(t.from, current) {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, current)
	}
	if action == ActionComplete && current == StatusDisputed && role != RoleArbiter {
		return "", fmt.Errorf("%w: only an arbiter completes a dispute", ErrForbidden)
	}
	return t.to, nil
}

// Transaction escrow 交易
type Transaction struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BuyerID        string    `gorm:"index;not null" json:"buyer_id"`
	SellerID       string    `gorm:"index;not null" json:"seller_id"`
	Title          string    `gorm:"not null" json:"title"`
	Description    string    `json:"description,omitempty"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status         Status    `gorm:"type:varchar(32);index;not null" json:"status"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Version        int       `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName gorm table
func (Transaction) TableName() string { return "escrow_transactions" }

// RoleOf userID 在交易中的角色, 不相關時回傳空字串
func (t *Transaction) RoleOf(userID string) Role {
	switch userID {
	case t.BuyerID:
		return RoleBuyer
	case t.SellerID:
		return RoleSeller
	}
	return ""
}

// Participants buyer and seller
func (t *Transaction) Participants() []string {
	return []string{t.BuyerID, t.SellerID}
}

// Validate new transaction input
func (t *Transaction) Validate() error {
	switch {
	case t.BuyerID == "" || t.SellerID == "":
		return fmt.Errorf("%w: buyer and seller are required", ErrInvalidTransaction)
	case t.BuyerID == t.SellerID:
		return fmt.Errorf("%w: buyer and seller must differ", ErrInvalidTransaction)
	case t.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidTransaction)
	case t.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	case len(t.Currency) != 3:
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidTransaction)
	}
	return nil
}

// Event 每次成功的狀態轉換, 同時是 escrow.events 的 Kafka 訊息與稽核紀錄
type Event struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	TransactionID string    `gorm:"index;not null" json:"transaction_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Title         string    `json:"title"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Action        Action    `gorm:"type:varchar(16)" json:"action"`
	From          Status    `gorm:"type:varchar(32)" json:"from"`
	To            Status    `gorm:"type:varchar(32)" json:"to"`
	ActorID       string    `json:"actor_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// TableName gorm table
func (Event) TableName() string { return "escrow_events" }

// NewEvent event of tx moving from -> tx.Status
func NewEvent(tx *Transaction, action Action, from Status, actorID string, at time.Time) Event {
	return Event{
		TransactionID: tx.ID,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Title:         tx.Title,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Action:        action,
		From:          from,
		To:            tx.Status,
		ActorID:       actorID,
		OccurredAt:    at,
	}
}

// Update push payload of the event
func (e Event) Update() push.TransactionUpdate {
	return push.TransactionUpdate{
		TransactionID:  e.TransactionID,
		Status:         string(e.To),
		PreviousStatus: string(e.From),
		Action:         string(e.Action),
		ActorID:        e.ActorID,
		UpdatedAt:      e.OccurredAt,
	}
}

// EventsTopic default kafka topic
const EventsTopic = "escrow.events"
