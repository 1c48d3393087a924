// Package txstate holds the latest known state of each escrow transaction.
package txstate

import (
	"sync"
	"time"

	escrowdomain "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/push"
)

// State latest known status of one transaction
type State struct {
	TransactionID string                    `json:"transaction_id"`
	Status        escrowdomain.Status       `json:"status"`
	Action        string                    `json:"action,omitempty"`
	ActorID       string                    `json:"actor_id,omitempty"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Transaction   *escrowdomain.Transaction `json:"transaction,omitempty"`
}

// Holder 取代全域事件廣播, 所有使用者共用同一個 Holder
type Holder struct {
	mu        sync.RWMutex
	states    map[string]State
	listeners map[int]func(State)
	nextID    int
}

// NewHolder create an empty holder
func NewHolder() *Holder {
	return &Holder{
		states:    make(map[string]State),
		listeners: make(map[int]func(State)),
	}
}

// Update apply s unless an equal or newer state is already known.
// It reports whether the state changed.
func (h *Holder) Update(s State) bool {
	h.mu.Lock()
	cur, ok := h.states[s.TransactionID]
	if ok && s.UpdatedAt.Before(cur.UpdatedAt) {
		h.mu.Unlock()
		return false
	}
	if ok && cur.Status == s.Status && cur.UpdatedAt.Equal(s.UpdatedAt) && s.Transaction == nil {
		h.mu.Unlock()
		return false
	}
	if s.Transaction == nil && ok {
		s.Transaction = cur.Transaction
	}
	if s.Transaction != nil {
		tx := *s.Transaction
		tx.Status = s.Status
		s.Transaction = &tx
	}
	h.states[s.TransactionID] = s
	fns := make([]func(State), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return true
}

// UpdateTransaction feed a REST fetch
func (h *Holder) UpdateTransaction(tx *escrowdomain.Transaction) bool {
	return h.Update(State{
		TransactionID: tx.ID,
		Status:        tx.Status,
		UpdatedAt:     tx.UpdatedAt,
		Transaction:   tx,
	})
}

// UpdateFromPush feed a transaction_status_update / payment_update / shipping_update payload
func (h *Holder) UpdateFromPush(u push.TransactionUpdate) bool {
	return h.Update(State{
		TransactionID: u.TransactionID,
		Status:        escrowdomain.Status(u.Status),
		Action:        u.Action,
		ActorID:       u.ActorID,
		UpdatedAt:     u.UpdatedAt,
	})
}

// Get latest state of id
func (h *Holder) Get(id string) (State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.states[id]
	return s, ok
}

// All every known state
func (h *Holder) All() []State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]State, 0, len(h.states))
	for _, s := range h.states {
		out = append(out, s)
	}
	return out
}

// Subscribe fn is called after each accepted Update, the returned func unsubscribes
func (h *Holder) Subscribe(fn func(State)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Reset drop every state, used on logout
func (h *Holder) Reset() {
	h.mu.Lock()
	h.states = make(map[string]State)
	h.mu.Unlock()
}
