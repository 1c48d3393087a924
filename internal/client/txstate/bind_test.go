package txstate

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	pushclient "escrow_trade_service/internal/client/push"
	escrowdomain "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	handlers map[push.Action]pushclient.Handler
}

func (f *fakeChannel) On(action push.Action, h pushclient.Handler) func() {
	if f.handlers == nil {
		f.handlers = make(map[push.Action]pushclient.Handler)
	}
	f.handlers[action] = h
	return func() { delete(f.handlers, action) }
}

func (f *fakeChannel) fire(t *testing.T, action push.Action, payload interface{}) {
	env := push.Envelope{Action: action, Success: true}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env.Payload = raw
	if h, ok := f.handlers[action]; ok {
		h(env)
	}
}

func TestBindAndPersist(t *testing.T) {
	logger.SetNewNop()
	ch := &fakeChannel{}
	h := NewHolder()
	off := h.Bind(ch)

	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ch.fire(t, push.PaymentUpdate, push.TransactionUpdate{TransactionID: "tx-1", Status: "funded", Action: "pay", UpdatedAt: at})
	ch.fire(t, push.ShippingUpdate, push.TransactionUpdate{TransactionID: "tx-1", Status: "shipped", Action: "ship", UpdatedAt: at.Add(time.Minute)})

	s, ok := h.Get("tx-1")
	require.True(t, ok)
	assert.Equal(t, escrowdomain.StatusShipped, s.Status)

	off()
	assert.Empty(t, ch.handlers)

	kv, err := mirror.NewSQLite(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()
	require.NoError(t, h.Persist(ctx, kv, "buyer"))

	restored := NewHolder()
	n, err := restored.Restore(ctx, kv, "buyer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, _ := restored.Get("tx-1")
	assert.Equal(t, escrowdomain.StatusShipped, got.Status)
	assert.True(t, got.UpdatedAt.Equal(at.Add(time.Minute)))
}
