package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chatdomain "escrow_trade_service/internal/chat/domain"
	escrowdomain "escrow_trade_service/internal/escrow/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations":
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing token"})
		case "/api/transactions/tx-1/ship":
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "buyer cannot ship"})
		case "/api/transactions/missing":
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		}
	}))
	defer srv.Close()
	c := New(srv.URL, time.Second)
	ctx := context.Background()

	t.Run("401 轉成 ErrUnauthorized", func(t *testing.T) {
		_, err := c.ListConversations(ctx)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("403 是 APIError 不是 ErrUnauthorized", func(t *testing.T) {
		_, err := c.PerformAction(ctx, "tx-1", escrowdomain.ActionShip)
		assert.NotErrorIs(t, err, ErrUnauthorized)
		assert.True(t, IsForbidden(err))
		assert.Contains(t, err.Error(), "buyer cannot ship")
	})

	t.Run("404 轉成 APIError", func(t *testing.T) {
		_, err := c.GetTransaction(ctx, "missing")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "transaction not found", apiErr.Message)
		assert.True(t, IsNotFound(err))
	})

	t.Run("連線失敗轉成 ErrNetwork", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		_, err := New(dead.URL, time.Second).ListNotifications(ctx)
		assert.ErrorIs(t, err, ErrNetwork)
	})
}

func TestClientMessages(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/auth/login":
			writeJSON(w, http.StatusOK, map[string]interface{}{"token": "tok-1", "member": map[string]string{"member_id": "buyer"}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/conversations/c-1/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(w, http.StatusCreated, chatdomain.Message{
				ID: "srv-42", ClientID: "tmp-1", ConversationID: "c-1", SenderID: "buyer", Content: "hello",
				CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			})
		case r.Method == http.MethodPut && r.URL.Path == "/api/conversations/c-1/read":
			writeJSON(w, http.StatusOK, map[string]int{"count": 5})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, time.Second)
	ctx := context.Background()

	res, err := c.Login(ctx, "buyer@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "buyer", res.Member.MemberID)

	msg, err := c.SendMessage(ctx, &chatdomain.Message{ConversationID: "c-1", ClientID: "tmp-1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "tmp-1", gotBody["client_id"])
	assert.Equal(t, "srv-42", msg.ID)
	assert.Equal(t, 2026, msg.CreatedAt.Year())

	n, err := c.MarkConversationRead(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestClientUploadProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		writeJSON(w, http.StatusCreated, chatdomain.Attachment{Name: header.Filename, Size: int64(len(data)), URL: "http://files/x"})
	}))
	defer srv.Close()

	payload := bytes.Repeat([]byte("a"), 64*1024)
	var last, total int64
	calls := 0
	att, err := New(srv.URL, time.Second).UploadFile(context.Background(), "c-1", "photo.jpg", bytes.NewReader(payload), int64(len(payload)),
		func(sent, all int64) {
			assert.GreaterOrEqual(t, sent, last)
			last, total = sent, all
			calls++
		})
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", att.Name)
	assert.Equal(t, int64(len(payload)), att.Size)
	assert.Positive(t, calls)
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
}

func TestClientTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/transactions/tx-1/ship":
			writeJSON(w, http.StatusOK, escrowdomain.Transaction{ID: "tx-1", Status: escrowdomain.StatusShipped})
		case r.Method == http.MethodGet && r.URL.Path == "/api/transactions":
			assert.Equal(t, "funded", r.URL.Query().Get("status"))
			writeJSON(w, http.StatusOK, []escrowdomain.Transaction{{ID: "tx-2", Status: escrowdomain.StatusFunded}})
		case r.URL.Path == "/health":
			writeJSON(w, http.StatusServiceUnavailable, Health{Status: "degraded", Checks: map[string]string{"redis": "down"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, time.Second)
	ctx := context.Background()

	tx, err := c.PerformAction(ctx, "tx-1", escrowdomain.ActionShip)
	require.NoError(t, err)
	assert.Equal(t, escrowdomain.StatusShipped, tx.Status)

	list, err := c.ListTransactions(ctx, "funded")
	require.NoError(t, err)
	require.Len(t, list, 1)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
}
