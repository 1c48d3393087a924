package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	chatdomain "escrow_trade_service/internal/chat/domain"
	escrowdomain "escrow_trade_service/internal/escrow/domain"
	memberdomain "escrow_trade_service/internal/member/domain"
	notificationdomain "escrow_trade_service/internal/notification/domain"

	"github.com/go-resty/resty/v2"
)

// Client REST consumer of the escrow service
type Client struct {
	http *resty.Client

	mu    sync.RWMutex
	token string
}

// LoginResult token + member returned by /api/auth/login
type LoginResult struct {
	Token  string               `json:"token"`
	Member *memberdomain.Member `json:"member"`
}

// Health /health body
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ProgressFunc upload progress, sent bytes out of total
type ProgressFunc func(sent, total int64)

// New baseURL like http://localhost:8080
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("User-Agent", "escrowctl/1.0").
			SetTimeout(timeout),
	}
}

// SetToken bearer token used by every request, "" clears it
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token current bearer token
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	if t := c.Token(); t != "" {
		req.SetAuthToken(t)
	}
	return req
}

// do 把 resty 的結果轉成 ErrNetwork / ErrUnauthorized (401) / *APIError
func do(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if !resp.IsError() {
		return nil
	}
	// 403 是業務規則拒絕, session 仍有效
	if resp.StatusCode() == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(resp.String()))
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr.Message == "" {
		apiErr = &APIError{Message: strings.TrimSpace(resp.String())}
	}
	apiErr.Status = resp.StatusCode()
	return apiErr
}

// Login 成功時同時設定 token
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out LoginResult
	err := do(c.request(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/api/auth/login"))
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout invalidate the session server side and drop the token
func (c *Client) Logout(ctx context.Context) error {
	err := do(c.request(ctx).Post("/api/auth/logout"))
	c.SetToken("")
	return err
}

// Health /health, a degraded service still returns its checks
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusServiceUnavailable {
		return nil, do(resp, nil)
	}
	return &out, nil
}

// ListConversations conversations of the current user with unread counters
func (c *Client) ListConversations(ctx context.Context) ([]*chatdomain.Conversation, error) {
	var out []*chatdomain.Conversation
	if err := do(c.request(ctx).SetResult(&out).Get("/api/conversations")); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages messages of one conversation, oldest first
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]*chatdomain.Message, error) {
	var out []*chatdomain.Message
	err := do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		Get("/api/conversations/{id}/messages"))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage msg.ClientID is the idempotency key, re-sending it returns the stored message
func (c *Client) SendMessage(ctx context.Context, msg *chatdomain.Message) (*chatdomain.Message, error) {
	var out chatdomain.Message
	err := do(c.request(ctx).
		SetPathParam("id", msg.ConversationID).
		SetBody(map[string]interface{}{
			"client_id":   msg.ClientID,
			"content":     msg.Content,
			"attachments": msg.Attachments,
		}).
		SetResult(&out).
		Post("/api/conversations/{id}/messages"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkMessageRead
func (c *Client) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	return do(c.request(ctx).
		SetPathParams(map[string]string{"id": conversationID, "messageId": messageID}).
		Put("/api/conversations/{id}/messages/{messageId}/read"))
}

// MarkConversationRead returns the number of messages flipped server side
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	err := do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		Put("/api/conversations/{id}/read"))
	return out.Count, err
}

// UploadFile multipart upload, progress is called as the body is consumed
func (c *Client) UploadFile(ctx context.Context, conversationID, name string, r io.Reader, size int64, progress ProgressFunc) (*chatdomain.Attachment, error) {
	if progress != nil {
		r = &progressReader{r: r, total: size, fn: progress}
	}
	var out chatdomain.Attachment
	err := do(c.request(ctx).
		SetPathParam("id", conversationID).
		SetFileReader("file", name, r).
		SetResult(&out).
		Post("/api/conversations/{id}/attachments"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNotifications newest first
func (c *Client) ListNotifications(ctx context.Context) ([]*notificationdomain.Notification, error) {
	var out []*notificationdomain.Notification
	if err := do(c.request(ctx).SetResult(&out).Get("/api/notifications")); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return do(c.request(ctx).SetPathParam("id", id).Put("/api/notifications/{id}/read"))
}

// MarkAllNotificationsRead returns the number flipped
func (c *Client) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	err := do(c.request(ctx).SetResult(&out).Put("/api/notifications/read-all"))
	return out.Count, err
}

// DeleteNotification
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return do(c.request(ctx).SetPathParam("id", id).Delete("/api/notifications/{id}"))
}

// ClearNotifications delete every notification of the user
func (c *Client) ClearNotifications(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	err := do(c.request(ctx).SetResult(&out).Delete("/api/notifications"))
	return out.Count, err
}

// GetTransaction
func (c *Client) GetTransaction(ctx context.Context, id string) (*escrowdomain.Transaction, error) {
	var out escrowdomain.Transaction
	if err := do(c.request(ctx).SetPathParam("id", id).SetResult(&out).Get("/api/transactions/{id}")); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTransactions transactions where the user is buyer or seller, status "" means all
func (c *Client) ListTransactions(ctx context.Context, status string) ([]*escrowdomain.Transaction, error) {
	var out []*escrowdomain.Transaction
	req := c.request(ctx).SetResult(&out)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	if err := do(req.Get("/api/transactions")); err != nil {
		return nil, err
	}
	return out, nil
}

// PerformAction pay / ship / deliver / complete / dispute / refund / cancel
func (c *Client) PerformAction(ctx context.Context, id string, action escrowdomain.Action) (*escrowdomain.Transaction, error) {
	var out escrowdomain.Transaction
	err := do(c.request(ctx).
		SetPathParams(map[string]string{"id": id, "action": string(action)}).
		SetResult(&out).
		Post("/api/transactions/{id}/{action}"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
