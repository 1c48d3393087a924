package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultMatchWindow tolerance of the content+sender heuristic
const DefaultMatchWindow = 3 * time.Second

// Options store setting
type Options[T any] struct {
	// MatchWindow 0 uses DefaultMatchWindow, negative disables the heuristic
	MatchWindow time.Duration
	// Validate rejects a record before it is inserted
	Validate func(rec T) error
}

type outboxEntry struct {
	scope    string
	tempID   string
	inflight bool
}

// Store keeps one ordered record sequence per scope and reconciles
// optimistic submissions, push fan-in and server snapshots into it.
type Store[T Record[T]] struct {
	mu        sync.Mutex
	scopes    map[string][]T
	order     []string
	loaded    map[string]bool
	unread    map[string]int
	outbox    []outboxEntry
	listeners map[int]func(Event[T])
	nextID    int
	opts      Options[T]
}

// NewStore create an empty Store
func NewStore[T Record[T]](opts Options[T]) *Store[T] {
	return &Store[T]{
		scopes:    make(map[string][]T),
		loaded:    make(map[string]bool),
		unread:    make(map[string]int),
		listeners: make(map[int]func(Event[T])),
		opts:      opts,
	}
}

func (s *Store[T]) window() time.Duration {
	if s.opts.MatchWindow == 0 {
		return DefaultMatchWindow
	}
	return s.opts.MatchWindow
}

// Submit inserts rec at the tail of its scope as sent-unconfirmed and issues send.
// On success the temporary record is replaced in place by the server record.
// On failure it stays in place as failed and is queued for Retry.
func (s *Store[T]) Submit(ctx context.Context, rec T, send SendFunc[T]) (T, error) {
	var zero T
	if s.opts.Validate != nil {
		if err := s.opts.Validate(rec); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}

	local := rec.Clone()
	if local.RecordID() == "" {
		local.SetRecordID(NewTempID())
	}
	tempID := local.RecordID()
	// 暫時 ID 同時作為 idempotency key 傳給 server
	if local.RecordClientID() == "" {
		local.SetRecordClientID(tempID)
	}
	local.SetRead(true)
	local.SetSyncState(StateSent)
	scope := local.RecordScope()

	s.mu.Lock()
	s.touch(scope)
	s.scopes[scope] = append(s.scopes[scope], local)
	s.recount(scope)
	ev := Event[T]{Kind: EventInserted, Scope: scope, Record: local.Clone(), TempID: tempID}
	payload := local.Clone()
	s.mu.Unlock()
	s.emit(ev)

	return s.deliver(ctx, scope, tempID, payload, send)
}

func (s *Store[T]) deliver(ctx context.Context, scope, tempID string, payload T, send SendFunc[T]) (T, error) {
	server, err := send(ctx, payload)
	if err != nil {
		// 回應遺失但 push 已經確認過, 視為送達
		if confirmed, ok := s.confirmedByFanIn(scope, tempID, payload.RecordClientID()); ok {
			return confirmed, nil
		}
		failed := s.fail(scope, tempID)
		return failed, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return s.Confirm(tempID, server)
}

// confirmedByFanIn finds the record Ingest already confirmed under its server id
func (s *Store[T]) confirmedByFanIn(scope, tempID, clientID string) (T, bool) {
	var zero T
	if clientID == "" {
		return zero, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexByID(scope, tempID) >= 0 {
		return zero, false
	}
	idx := indexWhere(s.scopes[scope], func(r T) bool { return r.RecordClientID() == clientID })
	if idx < 0 || s.scopes[scope][idx].SyncState() != StateConfirmed {
		return zero, false
	}
	s.dropOutbox(scope, tempID)
	return s.scopes[scope][idx].Clone(), true
}

// fail marks the record failed in place and makes sure it sits in the outbox
func (s *Store[T]) fail(scope, tempID string) T {
	var zero T
	s.mu.Lock()
	idx := s.indexByID(scope, tempID)
	if idx < 0 {
		s.dropOutbox(scope, tempID)
		s.mu.Unlock()
		return zero
	}
	rec := s.scopes[scope][idx]
	rec.SetSyncState(StateFailed)

	queued := false
	for i := range s.outbox {
		if s.outbox[i].scope == scope && s.outbox[i].tempID == tempID {
			s.outbox[i].inflight = false
			queued = true
			break
		}
	}
	if !queued {
		s.outbox = append(s.outbox, outboxEntry{scope: scope, tempID: tempID})
	}
	out := rec.Clone()
	ev := Event[T]{Kind: EventFailed, Scope: scope, Record: rec.Clone(), TempID: tempID}
	s.mu.Unlock()
	s.emit(ev)
	return out
}

// Confirm replaces the temporary record with the server record, keeping its position.
// Any other copy of the server record in the scope is dropped.
func (s *Store[T]) Confirm(tempID string, server T) (T, error) {
	var zero T
	scope := server.RecordScope()

	s.mu.Lock()
	list := s.scopes[scope]
	idx := indexWhere(list, func(r T) bool { return r.RecordID() == tempID })
	if idx < 0 && tempID != "" {
		idx = indexWhere(list, func(r T) bool { return r.RecordClientID() == tempID })
	}
	if idx < 0 && server.RecordID() != "" {
		idx = indexWhere(list, func(r T) bool { return r.RecordID() == server.RecordID() })
	}
	if idx < 0 {
		s.dropOutbox(scope, tempID)
		s.mu.Unlock()
		return zero, fmt.Errorf("confirm %s: %w", tempID, ErrRecordNotFound)
	}

	merged := merge(list[idx], server)
	list[idx] = merged
	s.scopes[scope] = dedupe(list, idx, merged.RecordID())
	s.dropOutbox(scope, tempID)
	s.recount(scope)
	out := merged.Clone()
	ev := Event[T]{Kind: EventConfirmed, Scope: scope, Record: merged.Clone(), TempID: tempID}
	s.mu.Unlock()
	s.emit(ev)
	return out, nil
}

// Ingest merges a record delivered by the push channel.
// Matching order is exact id, then client id, then the content+sender+time heuristic
// against records that are not confirmed yet. Unmatched records are inserted in
// chronological order. The returned bool reports whether a new entry was inserted.
func (s *Store[T]) Ingest(rec T) (T, bool) {
	scope := rec.RecordScope()

	s.mu.Lock()
	s.touch(scope)
	list := s.scopes[scope]
	idx := s.match(list, rec)

	var ev Event[T]
	inserted := false
	if idx >= 0 {
		prevID := list[idx].RecordID()
		merged := merge(list[idx], rec)
		list[idx] = merged
		s.scopes[scope] = dedupe(list, idx, merged.RecordID())
		// 第一次送出其實已成功, 不要再重送
		s.dropOutbox(scope, prevID)
		ev = Event[T]{Kind: EventMerged, Scope: scope, Record: merged.Clone(), TempID: prevID}
	} else {
		ins := rec.Clone()
		if ins.SyncState() == "" {
			ins.SetSyncState(StateConfirmed)
		}
		s.scopes[scope] = insertChrono(list, ins)
		inserted = true
		ev = Event[T]{Kind: EventInserted, Scope: scope, Record: ins.Clone()}
	}
	s.recount(scope)
	out := ev.Record.Clone()
	s.mu.Unlock()
	s.emit(ev)
	return out, inserted
}

func (s *Store[T]) match(list []T, rec T) int {
	if id := rec.RecordID(); id != "" {
		if i := indexWhere(list, func(r T) bool { return r.RecordID() == id }); i >= 0 {
			return i
		}
	}
	if cid := rec.RecordClientID(); cid != "" {
		if i := indexWhere(list, func(r T) bool {
			return r.RecordClientID() == cid || r.RecordID() == cid
		}); i >= 0 {
			return i
		}
	}

	window := s.window()
	if window < 0 {
		return -1
	}
	// heuristic: 同 sender 同內容且時間差在 window 內, 可能誤判
	return indexWhere(list, func(r T) bool {
		if r.SyncState() == StateConfirmed {
			return false
		}
		if r.RecordSender() != rec.RecordSender() || r.RecordContent() != rec.RecordContent() {
			return false
		}
		diff := r.RecordTime().Sub(rec.RecordTime())
		if diff < 0 {
			diff = -diff
		}
		return diff <= window
	})
}

// MarkRead flips one record to read. It reports false when the record was already read.
func (s *Store[T]) MarkRead(scope, id string) (bool, error) {
	s.mu.Lock()
	list := s.scopes[scope]
	idx := indexWhere(list, func(r T) bool { return r.RecordID() == id || r.RecordClientID() == id })
	if idx < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("mark read %s/%s: %w", scope, id, ErrRecordNotFound)
	}
	if list[idx].IsRead() {
		s.mu.Unlock()
		return false, nil
	}
	list[idx].SetRead(true)
	s.recount(scope)
	ev := Event[T]{Kind: EventRead, Scope: scope, Record: list[idx].Clone()}
	s.mu.Unlock()
	s.emit(ev)
	return true, nil
}

// MarkScopeRead flips every record in scope to read and returns how many changed
func (s *Store[T]) MarkScopeRead(scope string) int {
	s.mu.Lock()
	n := 0
	for _, r := range s.scopes[scope] {
		if !r.IsRead() {
			r.SetRead(true)
			n++
		}
	}
	s.recount(scope)
	s.mu.Unlock()
	if n > 0 {
		s.emit(Event[T]{Kind: EventScopeRead, Scope: scope})
	}
	return n
}

// Replace installs a server snapshot for scope (server wins).
// Local records that are not confirmed and unknown to the snapshot are kept at the tail.
func (s *Store[T]) Replace(scope string, records []T) {
	incoming := make([]T, 0, len(records))
	for _, r := range records {
		c := r.Clone()
		if c.SyncState() == "" {
			c.SetSyncState(StateConfirmed)
		}
		incoming = append(incoming, c)
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].RecordTime().Before(incoming[j].RecordTime())
	})

	s.mu.Lock()
	s.touch(scope)
	for _, local := range s.scopes[scope] {
		if local.SyncState() == StateConfirmed {
			continue
		}
		if i := indexWhere(incoming, func(r T) bool {
			return r.RecordID() == local.RecordID() ||
				(local.RecordClientID() != "" && r.RecordClientID() == local.RecordClientID())
		}); i >= 0 {
			continue
		}
		incoming = append(incoming, local)
	}
	s.scopes[scope] = incoming
	s.loaded[scope] = true
	s.syncOutbox(scope)
	s.recount(scope)
	s.mu.Unlock()
	s.emit(Event[T]{Kind: EventReplaced, Scope: scope})
}

// Remove deletes a record by id or client id
func (s *Store[T]) Remove(scope, id string) bool {
	s.mu.Lock()
	list := s.scopes[scope]
	idx := indexWhere(list, func(r T) bool { return r.RecordID() == id || r.RecordClientID() == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	removed := list[idx]
	s.scopes[scope] = append(list[:idx], list[idx+1:]...)
	s.dropOutbox(scope, removed.RecordID())
	s.recount(scope)
	ev := Event[T]{Kind: EventRemoved, Scope: scope, Record: removed.Clone()}
	s.mu.Unlock()
	s.emit(ev)
	return true
}

// RemoveScope drops every record of scope
func (s *Store[T]) RemoveScope(scope string) {
	s.mu.Lock()
	delete(s.scopes, scope)
	delete(s.loaded, scope)
	delete(s.unread, scope)
	for i, sc := range s.order {
		if sc == scope {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	kept := s.outbox[:0]
	for _, e := range s.outbox {
		if e.scope != scope {
			kept = append(kept, e)
		}
	}
	s.outbox = kept
	s.mu.Unlock()
	s.emit(Event[T]{Kind: EventRemoved, Scope: scope})
}

// Clear drops every scope, used on logout
func (s *Store[T]) Clear() {
	s.mu.Lock()
	s.scopes = make(map[string][]T)
	s.loaded = make(map[string]bool)
	s.unread = make(map[string]int)
	s.order = nil
	s.outbox = nil
	s.mu.Unlock()
	s.emit(Event[T]{Kind: EventCleared})
}

// Retry re-sends every queued record with its original temporary id.
// Records already in flight are skipped, so concurrent calls never send twice.
func (s *Store[T]) Retry(ctx context.Context, send SendFunc[T]) (int, error) {
	type job struct {
		scope, tempID string
		payload       T
	}

	s.mu.Lock()
	var (
		jobs   []job
		events []Event[T]
	)
	for i := range s.outbox {
		e := &s.outbox[i]
		if e.inflight {
			continue
		}
		idx := s.indexByID(e.scope, e.tempID)
		if idx < 0 {
			continue
		}
		rec := s.scopes[e.scope][idx]
		rec.SetSyncState(StateSent)
		e.inflight = true
		jobs = append(jobs, job{scope: e.scope, tempID: e.tempID, payload: rec.Clone()})
		events = append(events, Event[T]{Kind: EventRetrying, Scope: e.scope, Record: rec.Clone(), TempID: e.tempID})
	}
	s.mu.Unlock()
	s.emit(events...)

	sent := 0
	var errs []error
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			s.fail(j.scope, j.tempID)
			errs = append(errs, err)
			continue
		}
		if _, err := s.deliver(ctx, j.scope, j.tempID, j.payload, send); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Snapshot returns a copy of the scope sequence in order
func (s *Store[T]) Snapshot(scope string) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.scopes[scope]
	out := make([]T, 0, len(list))
	for _, r := range list {
		out = append(out, r.Clone())
	}
	return out
}

// Get find a record by id or client id
func (s *Store[T]) Get(scope, id string) (T, bool) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.scopes[scope]
	idx := indexWhere(list, func(r T) bool { return r.RecordID() == id || r.RecordClientID() == id })
	if idx < 0 {
		return zero, false
	}
	return list[idx].Clone(), true
}

// Scopes returns known scopes in first-seen order
func (s *Store[T]) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Loaded reports whether scope received a snapshot through Replace
func (s *Store[T]) Loaded(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[scope]
}

// Unread unread counter of one scope
func (s *Store[T]) Unread(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[scope]
}

// UnreadByScope copy of every per-scope counter
func (s *Store[T]) UnreadByScope() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for k, v := range s.unread {
		out[k] = v
	}
	return out
}

// TotalUnread aggregate counter, always the sum over scopes
func (s *Store[T]) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// Failed records waiting in the outbox
func (s *Store[T]) Failed() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []T
	for _, e := range s.outbox {
		if idx := s.indexByID(e.scope, e.tempID); idx >= 0 {
			out = append(out, s.scopes[e.scope][idx].Clone())
		}
	}
	return out
}

// Pending number of outbox entries
func (s *Store[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// Subscribe registers fn for every mutation. Call the returned func to deregister.
// fn runs outside the store lock and must not block.
func (s *Store[T]) Subscribe(fn func(Event[T])) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store[T]) emit(events ...Event[T]) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event[T]), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// --- helpers, caller holds s.mu ---

func (s *Store[T]) touch(scope string) {
	if _, ok := s.scopes[scope]; !ok {
		s.scopes[scope] = nil
		s.order = append(s.order, scope)
	}
}

func (s *Store[T]) recount(scope string) {
	n := 0
	for _, r := range s.scopes[scope] {
		if !r.IsRead() {
			n++
		}
	}
	s.unread[scope] = n
}

func (s *Store[T]) indexByID(scope, id string) int {
	return indexWhere(s.scopes[scope], func(r T) bool { return r.RecordID() == id })
}

func (s *Store[T]) dropOutbox(scope, tempID string) {
	for i, e := range s.outbox {
		if e.scope == scope && e.tempID == tempID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return
		}
	}
}

// syncOutbox aligns the outbox with the failed records of scope
func (s *Store[T]) syncOutbox(scope string) {
	kept := s.outbox[:0]
	for _, e := range s.outbox {
		if e.scope != scope || e.inflight {
			kept = append(kept, e)
			continue
		}
		if idx := s.indexByID(scope, e.tempID); idx >= 0 && s.scopes[scope][idx].SyncState() == StateFailed {
			kept = append(kept, e)
		}
	}
	s.outbox = kept

	for _, r := range s.scopes[scope] {
		if r.SyncState() != StateFailed {
			continue
		}
		queued := false
		for _, e := range s.outbox {
			if e.scope == scope && e.tempID == r.RecordID() {
				queued = true
				break
			}
		}
		if !queued {
			s.outbox = append(s.outbox, outboxEntry{scope: scope, tempID: r.RecordID()})
		}
	}
}

func merge[T Record[T]](existing, incoming T) T {
	m := incoming.Clone()
	if m.RecordID() == "" {
		// 沒有 server id 的事件不算確認
		m.SetRecordID(existing.RecordID())
		m.SetSyncState(existing.SyncState())
	} else {
		m.SetSyncState(StateConfirmed)
	}
	if m.RecordClientID() == "" {
		m.SetRecordClientID(existing.RecordClientID())
	}
	if existing.IsRead() {
		m.SetRead(true)
	}
	return m
}

func dedupe[T Record[T]](list []T, keep int, id string) []T {
	if id == "" {
		return list
	}
	out := list[:0]
	for i, r := range list {
		if i != keep && r.RecordID() == id {
			continue
		}
		out = append(out, r)
	}
	return out
}

func insertChrono[T Record[T]](list []T, rec T) []T {
	pos := len(list)
	t := rec.RecordTime()
	for pos > 0 && list[pos-1].RecordTime().After(t) {
		pos--
	}
	var zero T
	list = append(list, zero)
	copy(list[pos+1:], list[pos:])
	list[pos] = rec
	return list
}

func indexWhere[T any](list []T, fn func(T) bool) int {
	for i, r := range list {
		if fn(r) {
			return i
		}
	}
	return -1
}
