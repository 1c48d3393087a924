package mirror

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	tokenKey      = "session:auth_token"
	onboardingKey = "session:onboarding_completed"
)

// Credentials content of the auth token slot
type Credentials struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Session auth token slot and onboarding flag
type Session struct {
	kv KV
}

// NewSession create a Session on kv
func NewSession(kv KV) *Session {
	return &Session{kv: kv}
}

// SaveToken overwrite the single token slot
func (s *Session) SaveToken(ctx context.Context, c Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, tokenKey, data)
}

// Token read the token slot, ErrNotFound when logged out
func (s *Session) Token(ctx context.Context) (Credentials, error) {
	var c Credentials
	data, err := s.kv.Get(ctx, tokenKey)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

// ClearToken empty the token slot
func (s *Session) ClearToken(ctx context.Context) error {
	return s.kv.Delete(ctx, tokenKey)
}

// SetOnboarded set the onboarding-completed flag
func (s *Session) SetOnboarded(ctx context.Context, done bool) error {
	v := []byte("0")
	if done {
		v = []byte("1")
	}
	return s.kv.Put(ctx, onboardingKey, v)
}

// Onboarded read the onboarding-completed flag
func (s *Session) Onboarded(ctx context.Context) (bool, error) {
	v, err := s.kv.Get(ctx, onboardingKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return string(v) == "1", nil
}

// Logout clear every mirror entry of userID and the token slot.
// The onboarding flag survives logout.
func (s *Session) Logout(ctx context.Context, userID string) error {
	if userID != "" {
		if err := s.kv.DeletePrefix(ctx, UserPrefix(userID)); err != nil {
			return err
		}
	}
	return s.ClearToken(ctx)
}
