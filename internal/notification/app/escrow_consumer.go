package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	escrow "escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventReader *kafka.Reader in a consumer group
type EventReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EscrowConsumer 把 escrow.events 轉成通知與推播
type EscrowConsumer struct {
	reader   EventReader
	uc       *NotificationUseCase
	pub      push.Publisher
	maxRetry time.Duration
}

// NewEscrowConsumer create EscrowConsumer
func NewEscrowConsumer(reader EventReader, uc *NotificationUseCase, pub push.Publisher) *EscrowConsumer {
	return &EscrowConsumer{reader: reader, uc: uc, pub: pub, maxRetry: 5 * time.Minute}
}

// Run 消費直到 ctx 結束. 處理失敗會在原地重試, 成功才 commit, 順序不會亂.
func (c *EscrowConsumer) Run(ctx context.Context) error {
	logger.Log.Info("escrow event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("escrow event consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch escrow event: %w", err)
		}

		var event escrow.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// 壞掉的訊息重試也不會好, 記錄後跳過
			logger.Log.Error("decode escrow event", zap.Int64("offset", msg.Offset), zap.Error(err))
			metrics.WorkerJobs.WithLabelValues("kafka", "invalid").Inc()
		} else {
			policy := backoff.NewExponentialBackOff()
			policy.MaxElapsedTime = c.maxRetry
			err := backoff.Retry(func() error {
				return c.Handle(ctx, event)
			}, backoff.WithContext(policy, ctx))
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				metrics.WorkerJobs.WithLabelValues("kafka", "failed").Inc()
				logger.Log.Error("handle escrow event, skipped",
					zap.String("transaction", event.TransactionID),
					zap.String("action", string(event.Action)),
					zap.Error(err),
				)
			} else {
				metrics.WorkerJobs.WithLabelValues("kafka", "ok").Inc()
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Log.Warn("commit escrow event", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Handle 一個事件: 通知相關使用者並推播狀態更新. 重複處理同一事件不會產生重複通知.
func (c *EscrowConsumer) Handle(ctx context.Context, e escrow.Event) error {
	for _, n := range NotificationsFor(e) {
		if _, _, err := c.uc.Create(ctx, n); err != nil {
			if errors.Is(err, domain.ErrInvalidNotification) {
				return backoff.Permanent(err)
			}
			return err
		}
	}

	participants := []string{e.BuyerID, e.SellerID}
	update := e.Update()
	push.PublishUsers(ctx, c.pub, participants, push.Event(push.TransactionStatusUpdate, update))
	if action, ok := detailAction(e.Action); ok {
		push.PublishUsers(ctx, c.pub, participants, push.Event(action, update))
	}
	return nil
}

func detailAction(a escrow.Action) (push.Action, bool) {
	switch a {
	case escrow.ActionPay, escrow.ActionRefund:
		return push.PaymentUpdate, true
	case escrow.ActionShip, escrow.ActionDeliver:
		return push.ShippingUpdate, true
	}
	return "", false
}

// NotificationsFor 依事件產生通知, client id 由交易與動作組成
func NotificationsFor(e escrow.Event) []*domain.Notification {
	amount := fmt.Sprintf("%d %s", e.Amount, e.Currency)
	build := func(user string, kind domain.Kind, priority domain.Priority, title, msg string) *domain.Notification {
		return &domain.Notification{
			ClientID:      fmt.Sprintf("escrow-%s-%s", e.TransactionID, e.Action),
			UserID:        user,
			Kind:          kind,
			Priority:      priority,
			Title:         title,
			Message:       msg,
			TransactionID: e.TransactionID,
			Link:          "/transactions/" + e.TransactionID,
		}
	}
	other := e.BuyerID
	if e.ActorID == e.BuyerID {
		other = e.SellerID
	}

	switch e.Action {
	case escrow.ActionCreate:
		return []*domain.Notification{
			build(other, domain.KindTransaction, domain.PriorityNormal, "New escrow transaction", fmt.Sprintf("%q for %s was opened", e.Title, amount)),
		}
	case escrow.ActionPay:
		return []*domain.Notification{
			build(e.SellerID, domain.KindPayment, domain.PriorityHigh, "Payment received", fmt.Sprintf("%s is held in escrow for %q, ship the item", amount, e.Title)),
			build(e.BuyerID, domain.KindPayment, domain.PriorityNormal, "Payment confirmed", fmt.Sprintf("%s is held in escrow for %q", amount, e.Title)),
		}
	case escrow.ActionShip:
		return []*domain.Notification{
			build(e.BuyerID, domain.KindShipping, domain.PriorityHigh, "Item shipped", fmt.Sprintf("%q is on its way", e.Title)),
		}
	case escrow.ActionDeliver:
		return []*domain.Notification{
			build(e.SellerID, domain.KindShipping, domain.PriorityNormal, "Delivery confirmed", fmt.Sprintf("The buyer received %q", e.Title)),
		}
	case escrow.ActionComplete:
		return []*domain.Notification{
			build(e.SellerID, domain.KindPayment, domain.PriorityHigh, "Funds released", fmt.Sprintf("%s for %q was released", amount, e.Title)),
			build(e.BuyerID, domain.KindTransaction, domain.PriorityNormal, "Transaction completed", fmt.Sprintf("%q is complete", e.Title)),
		}
	case escrow.ActionDispute:
		return []*domain.Notification{
			build(e.BuyerID, domain.KindDispute, domain.PriorityUrgent, "Dispute opened", fmt.Sprintf("%q is under dispute", e.Title)),
			build(e.SellerID, domain.KindDispute, domain.PriorityUrgent, "Dispute opened", fmt.Sprintf("%q is under dispute", e.Title)),
		}
	case escrow.ActionRefund:
		return []*domain.Notification{
			build(e.BuyerID, domain.KindPayment, domain.PriorityHigh, "Refund issued", fmt.Sprintf("%s for %q was refunded", amount, e.Title)),
			build(e.SellerID, domain.KindPayment, domain.PriorityNormal, "Transaction refunded", fmt.Sprintf("%q was refunded to the buyer", e.Title)),
		}
	case escrow.ActionCancel:
		return []*domain.Notification{
			build(other, domain.KindTransaction, domain.PriorityNormal, "Transaction cancelled", fmt.Sprintf("%q was cancelled", e.Title)),
		}
	}
	return nil
}
