package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"escrow_trade_service/internal/member/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS member (
	id           BIGSERIAL PRIMARY KEY,
	member_id    VARCHAR(36) NOT NULL UNIQUE,
	email        VARCHAR(255) NOT NULL UNIQUE,
	password     VARCHAR(255) NOT NULL,
	display_name VARCHAR(100) NOT NULL DEFAULT '',
	role         VARCHAR(16) NOT NULL DEFAULT 'member',
	status       SMALLINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// MemberRepository definition get Member info
type MemberRepository interface {
	CreateUser(ctx context.Context, user *domain.Member) error
	UpdateMemberStatus(ctx context.Context, user *domain.Member) error
	FindByMember(ctx context.Context, memberQuery *domain.MemberQuery) (*domain.Member, error)
}

type memberRepository struct {
	db *pgxpool.Pool
}

// NewMemberRepository create a MemberRepository
func NewMemberRepository(db *pgxpool.Pool) MemberRepository {
	return &memberRepository{db: db}
}

// EnsureSchema 建立 member table
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func (r *memberRepository) CreateUser(ctx context.Context, member *domain.Member) error {
	row := r.db.QueryRow(ctx,
		"INSERT INTO member(member_id, email, password, display_name, role) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		member.MemberID, member.Email, member.Password, member.DisplayName, member.Role,
	)
	err := row.Scan(&member.ID, &member.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrEmailExists
	}
	return err
}

func (r *memberRepository) UpdateMemberStatus(ctx context.Context, member *domain.Member) error {
	_, err := r.db.Exec(ctx, "UPDATE member SET status = $1 WHERE member_id = $2", member.Status, member.MemberID)
	return err
}

func (r *memberRepository) FindByMember(ctx context.Context, memberQuery *domain.MemberQuery) (*domain.Member, error) {
	var (
		conds  []string
		params []interface{}
	)
	add := func(column string, v interface{}) {
		params = append(params, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(params)))
	}
	if memberQuery.Email != nil {
		add("email", strings.ToLower(*memberQuery.Email))
	}
	if memberQuery.MemberID != nil {
		add("member_id", *memberQuery.MemberID)
	}
	if memberQuery.ID != nil {
		add("id", *memberQuery.ID)
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("member query without conditions")
	}

	queryStr := "SELECT id, member_id, email, password, display_name, role, status, created_at FROM member WHERE " +
		strings.Join(conds, " AND ")

	var member domain.Member
	err := r.db.QueryRow(ctx, queryStr, params...).Scan(
		&member.ID, &member.MemberID, &member.Email, &member.Password,
		&member.DisplayName, &member.Role, &member.Status, &member.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}
