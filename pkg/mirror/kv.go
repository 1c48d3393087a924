package mirror

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound key has no value in the mirror
var ErrNotFound = errors.New("mirror: key not found")

// KV is the persisted key-value slot behind the local mirror.
// Last writer wins, there is no cross-process locking.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

const (
	keyPrefix = "mirror"
	allScopes = "_all"
)

// Key mirror:<user>:<kind>:<scope>
func Key(userID, kind, scope string) string {
	if scope == "" {
		scope = allScopes
	}
	return strings.Join([]string{keyPrefix, userID, kind, scope}, ":")
}

// UserPrefix prefix of every key owned by userID
func UserPrefix(userID string) string {
	return keyPrefix + ":" + userID + ":"
}
