package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chat "escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"

	"github.com/minio/minio-go/v7"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// QueueConsumer *amqp.Channel
type QueueConsumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ObjectInspector *database.MinIOClient
type ObjectInspector interface {
	Stat(ctx context.Context, objectName string) (minio.ObjectInfo, error)
	Remove(ctx context.Context, objectName string) error
}

// AttachmentWorker 檢查上傳完成的附件, 並通知上傳者
type AttachmentWorker struct {
	consumer   QueueConsumer
	store      ObjectInspector
	uc         *NotificationUseCase
	queueName  string
	retryDelay time.Duration
}

// NewAttachmentWorker create AttachmentWorker
func NewAttachmentWorker(consumer QueueConsumer, store ObjectInspector, uc *NotificationUseCase, queueName string) *AttachmentWorker {
	if queueName == "" {
		queueName = chat.AttachmentQueue
	}
	return &AttachmentWorker{
		consumer:   consumer,
		store:      store,
		uc:         uc,
		queueName:  queueName,
		retryDelay: 10 * time.Second,
	}
}

// Run 開始消費, 手動 ack
func (w *AttachmentWorker) Run(ctx context.Context) error {
	msgs, err := w.consumer.Consume(
		w.queueName,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", w.queueName, err)
	}
	logger.Log.Info("attachment worker started", zap.String("queue", w.queueName))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				logger.Log.Info("attachment queue closed")
				return nil
			}
			w.deliver(ctx, d)
		case <-ctx.Done():
			logger.Log.Info("attachment worker stopped")
			return nil
		}
	}
}

func (w *AttachmentWorker) deliver(ctx context.Context, d amqp.Delivery) {
	var job chat.AttachmentJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logger.Log.Errorf("解析附件工作失敗", err)
		metrics.WorkerJobs.WithLabelValues("amqp", "invalid").Inc()
		// 格式錯誤重排也無法處理
		if err := d.Nack(false, false); err != nil {
			logger.Log.Errorf("Nack 訊息失敗", err)
		}
		return
	}

	if err := w.Verify(ctx, job); err != nil {
		logger.Log.Warn("處理附件工作失敗", zap.String("object", job.Attachment.ObjectKey), zap.Error(err))
		metrics.WorkerJobs.WithLabelValues("amqp", "retry").Inc()
		select {
		case <-time.After(w.retryDelay):
		case <-ctx.Done():
		}
		if err := d.Nack(false, true); err != nil {
			logger.Log.Errorf("Nack 訊息失敗", err)
		}
		return
	}

	metrics.WorkerJobs.WithLabelValues("amqp", "ok").Inc()
	if err := d.Ack(false); err != nil {
		logger.Log.Errorf("確認訊息失敗", err)
	}
}

// Verify 確認物件存在且大小一致, 結果以通知告知上傳者.
// 回傳 error 代表暫時性失敗, 應重新排入佇列.
func (w *AttachmentWorker) Verify(ctx context.Context, job chat.AttachmentJob) error {
	att := job.Attachment
	n := &domain.Notification{
		ClientID: "attachment-" + att.ObjectKey,
		UserID:   job.UploaderID,
		Kind:     domain.KindMessage,
		Link:     att.URL,
	}

	info, err := w.store.Stat(ctx, att.ObjectKey)
	switch {
	case err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey":
		n.Priority = domain.PriorityHigh
		n.Title = "Attachment upload failed"
		n.Message = fmt.Sprintf("%s could not be found, please upload it again", att.Name)
		n.Link = ""
	case err != nil:
		return err
	case info.Size != att.Size:
		if rerr := w.store.Remove(ctx, att.ObjectKey); rerr != nil {
			return rerr
		}
		n.Priority = domain.PriorityHigh
		n.Title = "Attachment upload failed"
		n.Message = fmt.Sprintf("%s was incomplete (%d of %d bytes), please upload it again", att.Name, info.Size, att.Size)
		n.Link = ""
	default:
		n.Priority = domain.PriorityLow
		n.Title = "Attachment ready"
		n.Message = fmt.Sprintf("%s is available in the conversation", att.Name)
	}

	_, _, err = w.uc.Create(ctx, n)
	return err
}
