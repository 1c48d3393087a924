package domain

import (
	"errors"
	"time"

	"escrow_trade_service/pkg/encrypt"
)

// MemberStatus 用來表示使用者狀態
type MemberStatus int

// 状态: 0=offline, 1=online, 2=ban ,3=delete
const (
	// MemberStatusOffLine 離線
	MemberStatusOffLine MemberStatus = iota
	// MemberStatusOnLine 在線
	MemberStatusOnLine
	// MemberStatusBan 封鎖
	MemberStatusBan
	// MemberStatusDelete 刪除
	MemberStatusDelete
)

var (
	// ErrEmailExists email already registered
	ErrEmailExists = errors.New("email already exists")
	// ErrMemberNotFound no member matches the query
	ErrMemberNotFound = errors.New("member not found")
	// ErrInvalidCredentials email or password wrong
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrMemberBanned member cannot log in
	ErrMemberBanned = errors.New("member is banned")
	// ErrSessionExpired session missing or replaced
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidEmail email can't be parsed
	ErrInvalidEmail = errors.New("invalid email")
)

// Member 用來表示使用者
type Member struct {
	ID          int64        `json:"-"`
	MemberID    string       `json:"member_id"`
	Email       string       `json:"email"`
	Password    string       `json:"-"`
	DisplayName string       `json:"display_name"`
	Role        string       `json:"role"`
	Status      MemberStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MemberSession 存在 Redis, 一個使用者同時只有一個有效 token
type MemberSession struct {
	Token        string    `json:"Token"`
	MemberID     string    `json:"MemberID"`
	CreatedAt    time.Time `json:"CreatedAt"`
	LastActivity time.Time `json:"LastActivity"`
	ExpiredAt    time.Time `json:"ExpiredAt"`
}

// IsPasswordMatch 密碼驗證
func (m *Member) IsPasswordMatch(inputPwd string) error {
	return encrypt.CheckPassword(m.Password, inputPwd)
}

// IsExpired 檢查 Session 是否已過期
func (s *MemberSession) IsExpired() bool {
	return time.Now().After(s.ExpiredAt)
}

// SessionKey redis key of a member session
func SessionKey(memberID string) string {
	return "session:" + memberID
}

// MemberQuery join conditions are used to query members
type MemberQuery struct {
	ID       *int64  `db:"id"`
	MemberID *string `db:"member_id"`
	Email    *string `db:"email"`
}
