package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncState definition delivery state of a local record
type SyncState string

const (
	// StateUnsent record created locally, request not issued yet
	StateUnsent SyncState = "unsent"
	// StateSent request issued, waiting for the server record
	StateSent SyncState = "sent"
	// StateConfirmed server record merged in
	StateConfirmed SyncState = "confirmed"
	// StateFailed request failed, record is queued for retry
	StateFailed SyncState = "failed"
)

// TempIDPrefix prefix of client generated identifiers
const TempIDPrefix = "tmp-"

var (
	// ErrInvalidRecord record rejected before insertion
	ErrInvalidRecord = errors.New("invalid record")
	// ErrSendFailed network call of an optimistic submit failed
	ErrSendFailed = errors.New("send failed")
	// ErrRecordNotFound record expected in scope but missing
	ErrRecordNotFound = errors.New("record not found")
)

// Record 是可被 Store 管理的實體, T 為實作者本身的指標型別
type Record[T any] interface {
	RecordID() string
	SetRecordID(id string)
	RecordClientID() string
	SetRecordClientID(id string)
	RecordScope() string
	RecordSender() string
	RecordContent() string
	RecordTime() time.Time
	IsRead() bool
	SetRead(read bool)
	SyncState() SyncState
	SetSyncState(state SyncState)
	Clone() T
}

// SendFunc issues the network request for a record and returns the server copy
type SendFunc[T any] func(ctx context.Context, rec T) (T, error)

// NewTempID 產生 session 內不會碰撞的暫時 ID (timestamp + random suffix)
func NewTempID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%s%d-%s", TempIDPrefix, time.Now().UnixMilli(), suffix)
}

// IsTempID check id was generated by NewTempID
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
