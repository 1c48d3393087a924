// Package cli implements escrowctl, a terminal client of the escrow trade service.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"escrow_trade_service/internal/client/api"
	"escrow_trade_service/internal/client/inbox"
	"escrow_trade_service/internal/client/txstate"
	"escrow_trade_service/pkg/config"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ConfigName yaml file name under the config dir
const ConfigName = "escrowctl"

// ErrNotLoggedIn no token in the session slot
var ErrNotLoggedIn = errors.New("not logged in, run `escrowctl login <email>` first")

// App 一次 CLI 執行共用的狀態
type App struct {
	cfg     config.Client
	kv      mirror.KV
	session *mirror.Session
	api     *api.Client
	out     io.Writer
	outMu   sync.Mutex

	userID string
}

// LoadClientConfig read escrowctl.yaml from dir, missing file falls back to defaults
func LoadClientConfig(dir string) config.Client {
	cfg, err := config.LoadConfig[config.Client](ConfigName, dir)
	if err != nil {
		logger.Log.Debug("client config not loaded, using defaults", zap.String("dir", dir), zap.Error(err))
	}
	return withDefaults(cfg)
}

func withDefaults(cfg config.Client) config.Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.PushURL == "" {
		cfg.PushURL = "ws://localhost:8080/ws"
	}
	if cfg.MirrorPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.MirrorPath = filepath.Join(home, ".escrowctl", "mirror.db")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return cfg
}

// Open 開啟本地 mirror 並還原上次登入的 token
func Open(ctx context.Context, cfg config.Client, out io.Writer) (*App, error) {
	kv, err := openKV(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		kv:      kv,
		session: mirror.NewSession(kv),
		api:     api.New(cfg.BaseURL, cfg.RequestTimeout),
		out:     out,
	}
	creds, err := a.session.Token(ctx)
	switch {
	case err == nil:
		a.api.SetToken(creds.Token)
		a.userID = creds.UserID
	case errors.Is(err, mirror.ErrNotFound):
	default:
		kv.Close()
		return nil, fmt.Errorf("read session: %w", err)
	}
	return a, nil
}

func openKV(ctx context.Context, cfg config.Client) (mirror.KV, error) {
	if cfg.MirrorRedis != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.MirrorRedis})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect mirror redis %s: %w", cfg.MirrorRedis, err)
		}
		return mirror.NewRedis(client), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.MirrorPath), 0o700); err != nil {
		return nil, err
	}
	return mirror.NewSQLite(cfg.MirrorPath)
}

// Close release the mirror
func (a *App) Close() error {
	return a.kv.Close()
}

func (a *App) requireLogin() error {
	if a.userID == "" || a.api.Token() == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func (a *App) messages() *inbox.MessageInbox {
	return inbox.NewMessageInbox(a.userID, a.api, a.kv, a.cfg.MatchWindow)
}

func (a *App) notifications() *inbox.NotificationInbox {
	return inbox.NewNotificationInbox(a.userID, a.api, a.kv, a.cfg.MatchWindow)
}

// holder 從 mirror 還原上次看到的交易狀態
func (a *App) holder(ctx context.Context) *txstate.Holder {
	h := txstate.NewHolder()
	if _, err := h.Restore(ctx, a.kv, a.userID); err != nil && !errors.Is(err, mirror.ErrNotFound) {
		logger.Log.Warn("restore transaction states", zap.Error(err))
	}
	return h
}

// check 授權失效時清掉 token, 其他錯誤原樣回傳
func (a *App) check(ctx context.Context, err error) error {
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}
	if cerr := a.session.ClearToken(ctx); cerr != nil {
		logger.Log.Warn("clear token", zap.Error(cerr))
	}
	a.api.SetToken("")
	return fmt.Errorf("session expired, please login again: %w", err)
}

func (a *App) printf(format string, args ...interface{}) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}
