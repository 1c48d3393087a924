package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"escrow_trade_service/internal/client/api"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrOffline no open connection to write to
var ErrOffline = errors.New("push channel offline")

// Handler receives one event frame, called from the read goroutine in arrival order
type Handler func(push.Envelope)

// Options reconnect setting
type Options struct {
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
}

// Client push channel consumer, reconnects until the context is cancelled
type Client struct {
	url   string
	token func() string
	opts  Options

	mu        sync.Mutex
	handlers  map[push.Action]map[int]Handler
	listeners map[int]func(online bool)
	nextID    int
	rooms     map[string]bool
	online    bool

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New rawURL like ws://localhost:8080/ws, token is read on every dial
func New(rawURL string, token func() string, opts Options) *Client {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:       rawURL,
		token:     token,
		opts:      opts,
		handlers:  make(map[push.Action]map[int]Handler),
		listeners: make(map[int]func(bool)),
		rooms:     make(map[string]bool),
	}
}

// On register a handler for action, the returned func deregisters it
func (c *Client) On(action push.Action, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[action] == nil {
		c.handlers[action] = make(map[int]Handler)
	}
	c.handlers[action][id] = h
	return func() {
		c.mu.Lock()
		delete(c.handlers[action], id)
		c.mu.Unlock()
	}
}

// OnConnectivity called with true after each successful dial and false after each disconnect
func (c *Client) OnConnectivity(fn func(online bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Online current connection state
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	fns := make([]func(bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	if c.token != nil {
		if t := c.token(); t != "" {
			q := u.Query()
			q.Set(middlewares.QueryToken, t)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// Run dial, read and redial with exponential backoff. Returns when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectMin
	policy.MaxInterval = c.opts.ReconnectMax
	policy.MaxElapsedTime = 0

	var conn *websocket.Conn
	err := backoff.RetryNotify(func() error {
		target, err := c.dialURL()
		if err != nil {
			return backoff.Permanent(err)
		}
		ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == 401 {
				return backoff.Permanent(fmt.Errorf("push dial: %w", api.ErrUnauthorized))
			}
			return err
		}
		conn = ws
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Log.Debug("push dial failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve 讀取直到連線中斷, 事件依抵達順序交給 handler
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.setOnline(true)
	c.rejoin()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Log.Warn("push channel disconnected", zap.Error(err))
			}
			break
		}
		var env push.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Log.Warn("push frame dropped", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
	close(done)

	c.writeMu.Lock()
	c.conn = nil
	c.writeMu.Unlock()
	conn.Close()
	c.setOnline(false)
}

func (c *Client) dispatch(env push.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Action]))
	for _, h := range c.handlers[env.Action] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
}

func (c *Client) rejoin() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for tx := range c.rooms {
		rooms = append(rooms, tx)
	}
	c.mu.Unlock()
	for _, tx := range rooms {
		if err := c.Send(push.Request{Action: push.JoinRoom, TransactionID: tx}); err != nil {
			logger.Log.Warn("rejoin room", zap.String("transaction_id", tx), zap.Error(err))
		}
	}
}

// Send write one request frame
func (c *Client) Send(req push.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrOffline
	}
	return c.conn.WriteJSON(req)
}

// SendMessage clientID is the idempotency key echoed back in new_message
func (c *Client) SendMessage(conversationID, clientID, content string) error {
	return c.Send(push.Request{Action: push.SendMessage, ConversationID: conversationID, ClientID: clientID, Content: content})
}

// MarkMessageRead
func (c *Client) MarkMessageRead(conversationID, messageID string) error {
	return c.Send(push.Request{Action: push.MarkMessageRead, ConversationID: conversationID, MessageID: messageID})
}

// Typing typing_start / typing_stop
func (c *Client) Typing(conversationID string, typing bool) error {
	action := push.TypingStop
	if typing {
		action = push.TypingStart
	}
	return c.Send(push.Request{Action: action, ConversationID: conversationID})
}

// JoinRoom subscribe to transaction events, kept across reconnects
func (c *Client) JoinRoom(transactionID string) error {
	c.mu.Lock()
	c.rooms[transactionID] = true
	c.mu.Unlock()
	err := c.Send(push.Request{Action: push.JoinRoom, TransactionID: transactionID})
	if errors.Is(err, ErrOffline) {
		return nil
	}
	return err
}

// LeaveRoom
func (c *Client) LeaveRoom(transactionID string) error {
	c.mu.Lock()
	delete(c.rooms, transactionID)
	c.mu.Unlock()
	err := c.Send(push.Request{Action: push.LeaveRoom, TransactionID: transactionID})
	if errors.Is(err, ErrOffline) {
		return nil
	}
	return err
}
