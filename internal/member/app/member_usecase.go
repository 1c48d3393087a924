package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"escrow_trade_service/internal/member/domain"
	"escrow_trade_service/internal/member/repository"
	"escrow_trade_service/pkg/database"
	"escrow_trade_service/pkg/encrypt"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemberUseCase 這裡封裝了對外提供的應用服務
type MemberUseCase interface {
	Register(ctx context.Context, email, password, displayName string) (*domain.Member, error)
	FindMember(ctx context.Context, param *domain.MemberQuery) (*domain.Member, error)
	Login(ctx context.Context, email, password string) (string, *domain.Member, error)
	Logout(ctx context.Context, token string) error
	ForceLogout(ctx context.Context, memberID string) error
	// ValidateSession token 必須是該使用者目前的 session
	ValidateSession(ctx context.Context, token string) (*token.Claims, error)
	ReconnectSession(ctx context.Context, token string) error
}

type memberUseCase struct {
	memberRepo repository.MemberRepository
	sessionTTL time.Duration
	redisRepo  database.RedisRepository[domain.MemberSession]
}

// NewMemberUseCase 建立一個新的 MemberUseCase
func NewMemberUseCase(memberRepo repository.MemberRepository,
	sessionTTL time.Duration,
	redisRepo database.RedisRepository[domain.MemberSession],
) MemberUseCase {
	return &memberUseCase{
		memberRepo: memberRepo,
		sessionTTL: sessionTTL,
		redisRepo:  redisRepo,
	}
}

// Register
func (m *memberUseCase) Register(ctx context.Context, email, password, displayName string) (*domain.Member, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEmail, err)
	}
	email = strings.ToLower(addr.Address)

	if err := encrypt.ValidatePasswordStrength(password); err != nil {
		return nil, err
	}

	// 檢查 email 是否已存在
	if _, err := m.memberRepo.FindByMember(ctx, &domain.MemberQuery{Email: &email}); err == nil {
		return nil, domain.ErrEmailExists
	} else if !errors.Is(err, domain.ErrMemberNotFound) {
		return nil, err
	}

	pw, err := encrypt.HashPassword(password)
	if err != nil {
		return nil, err
	}

	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	member := &domain.Member{
		MemberID:    uuid.New().String(),
		Email:       email,
		Password:    pw,
		DisplayName: displayName,
		Role:        token.RoleMember,
	}
	if err := m.memberRepo.CreateUser(ctx, member); err != nil {
		return nil, err
	}
	logger.Log.Info("member registered", zap.String("member_id", member.MemberID))
	return member, nil
}

// FindMember 依條件尋找使用者
func (m *memberUseCase) FindMember(ctx context.Context, param *domain.MemberQuery) (*domain.Member, error) {
	return m.memberRepo.FindByMember(ctx, param)
}

// Login 成功時覆蓋舊 session, 舊 token 隨即失效
func (m *memberUseCase) Login(ctx context.Context, email, password string) (string, *domain.Member, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	member, err := m.memberRepo.FindByMember(ctx, &domain.MemberQuery{Email: &email})
	if errors.Is(err, domain.ErrMemberNotFound) {
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := member.IsPasswordMatch(password); err != nil {
		logger.Log.Debug("password mismatch", zap.String("member_id", member.MemberID))
		return "", nil, domain.ErrInvalidCredentials
	}
	if member.Status == domain.MemberStatusBan || member.Status == domain.MemberStatusDelete {
		return "", nil, domain.ErrMemberBanned
	}

	t, err := token.GenerateJWTWrapper(member.MemberID, member.Role)
	if err != nil {
		return "", nil, err
	}
	now := time.Now()
	session := domain.MemberSession{
		Token:        t,
		MemberID:     member.MemberID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiredAt:    now.Add(m.sessionTTL),
	}
	if err := m.redisRepo.Set(ctx, domain.SessionKey(member.MemberID), session, m.sessionTTL); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	member.Status = domain.MemberStatusOnLine
	if err := m.memberRepo.UpdateMemberStatus(ctx, member); err != nil {
		logger.Log.Warn("update member status", zap.String("member_id", member.MemberID), zap.Error(err))
	}
	return t, member, nil
}

// Logout
func (m *memberUseCase) Logout(ctx context.Context, t string) error {
	claims, err := token.ParseJWTWrapper(t)
	if err != nil {
		return err
	}
	return m.ForceLogout(ctx, claims.UserID)
}

// ForceLogout 清除該使用者的 session
func (m *memberUseCase) ForceLogout(ctx context.Context, memberID string) error {
	if err := m.redisRepo.Del(ctx, domain.SessionKey(memberID)); err != nil {
		return err
	}
	return m.memberRepo.UpdateMemberStatus(ctx, &domain.Member{
		MemberID: memberID,
		Status:   domain.MemberStatusOffLine,
	})
}

func (m *memberUseCase) ValidateSession(ctx context.Context, t string) (*token.Claims, error) {
	claims, err := token.ParseJWTWrapper(t)
	if err != nil {
		return nil, err
	}
	session, err := m.redisRepo.Get(ctx, domain.SessionKey(claims.UserID))
	if errors.Is(err, database.ErrCacheMiss) {
		return nil, domain.ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if session.Token != t || session.IsExpired() {
		return nil, domain.ErrSessionExpired
	}
	return claims, nil
}

// ReconnectSession 斷線重連時延長 session
func (m *memberUseCase) ReconnectSession(ctx context.Context, t string) error {
	claims, err := m.ValidateSession(ctx, t)
	if err != nil {
		return err
	}
	return m.redisRepo.ExtendTTL(ctx, domain.SessionKey(claims.UserID), m.sessionTTL)
}
