package txstate

import (
	"context"

	pushclient "escrow_trade_service/internal/client/push"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/mirror"

	"go.uber.org/zap"
)

// Channel push channel events used by the holder
type Channel interface {
	On(action push.Action, h pushclient.Handler) func()
}

// Bind feed transaction_status_update, payment_update and shipping_update into h.
// The returned func deregisters the handlers.
func (h *Holder) Bind(ch Channel) func() {
	handle := func(env push.Envelope) {
		var u push.TransactionUpdate
		if err := env.Decode(&u); err != nil {
			logger.Log.Warn("decode transaction update", zap.String("action", string(env.Action)), zap.Error(err))
			return
		}
		h.UpdateFromPush(u)
	}
	offs := []func(){
		ch.On(push.TransactionStatusUpdate, handle),
		ch.On(push.PaymentUpdate, handle),
		ch.On(push.ShippingUpdate, handle),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Persist save every known state in the mirror
func (h *Holder) Persist(ctx context.Context, kv mirror.KV, userID string) error {
	return mirror.NewCollection[State](kv, mirror.KindTransactions).Save(ctx, userID, "", h.All())
}

// Restore load states saved by Persist, newer states already held win
func (h *Holder) Restore(ctx context.Context, kv mirror.KV, userID string) (int, error) {
	items, _, err := mirror.NewCollection[State](kv, mirror.KindTransactions).Load(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range items {
		if h.Update(s) {
			n++
		}
	}
	return n, nil
}
