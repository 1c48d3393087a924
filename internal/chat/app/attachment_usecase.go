package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/internal/chat/repository"
	"escrow_trade_service/pkg/database"
	errprocess "escrow_trade_service/pkg/err"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// ErrAttachmentTooLarge file exceeds the configured limit
var ErrAttachmentTooLarge = errors.New("attachment too large")

// ObjectStore object storage used for attachments
type ObjectStore interface {
	PutStream(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (int64, error)
	PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// UploadInput 上傳參數
type UploadInput struct {
	ConversationID string
	UploaderID     string
	FileName       string
	MimeType       string
	Size           int64
	Body           io.Reader
}

// AttachmentUseCase 上傳附件到 MinIO, 並排入檢查工作
type AttachmentUseCase struct {
	convRepo  repository.ConversationRepository
	store     ObjectStore
	rabbit    database.RabbitRepo
	queue     string
	maxSize   int64
	urlExpiry time.Duration
}

// NewAttachmentUseCase init attachment use case, zero limits use defaults
func NewAttachmentUseCase(
	convRepo repository.ConversationRepository,
	store ObjectStore,
	rabbit database.RabbitRepo,
	queue string,
	maxSize int64,
	urlExpiry time.Duration,
) *AttachmentUseCase {
	if queue == "" {
		queue = domain.AttachmentQueue
	}
	if maxSize <= 0 {
		maxSize = 20 << 20
	}
	if urlExpiry <= 0 {
		urlExpiry = 24 * time.Hour
	}
	return &AttachmentUseCase{
		convRepo:  convRepo,
		store:     store,
		rabbit:    rabbit,
		queue:     queue,
		maxSize:   maxSize,
		urlExpiry: urlExpiry,
	}
}

// Upload 串流上傳, 回傳附件資訊 (含 presigned URL)
func (uc *AttachmentUseCase) Upload(ctx context.Context, in UploadInput) (domain.Attachment, error) {
	var att domain.Attachment

	conv, err := uc.convRepo.FindByID(ctx, in.ConversationID)
	if err != nil {
		return att, err
	}
	if !conv.HasParticipant(in.UploaderID) {
		return att, domain.ErrNotParticipant
	}
	if in.Size <= 0 {
		return att, fmt.Errorf("empty file")
	}
	if in.Size > uc.maxSize {
		return att, fmt.Errorf("%w: %d > %d bytes", ErrAttachmentTooLarge, in.Size, uc.maxSize)
	}

	name := path.Base(filepath.ToSlash(in.FileName))
	mimeType := in.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
			mimeType = byExt
		} else {
			mimeType = "application/octet-stream"
		}
	}

	objectKey := fmt.Sprintf("attachments/%s/%s/%s", conv.ID, uuid.New().String(), name)
	written, err := uc.store.PutStream(ctx, objectKey, in.Body, in.Size, mimeType)
	if err != nil {
		return att, err
	}

	url, err := uc.store.PresignGetURL(ctx, objectKey, uc.urlExpiry)
	if err != nil {
		return att, err
	}

	att = domain.Attachment{
		Name:      name,
		Size:      written,
		MimeType:  mimeType,
		URL:       url,
		ObjectKey: objectKey,
	}

	body, err := json.Marshal(domain.AttachmentJob{
		ConversationID: conv.ID,
		UploaderID:     in.UploaderID,
		Attachment:     att,
	})
	if err != nil {
		return att, err
	}
	if err := uc.rabbit.Publish("", uc.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}); err != nil {
		return att, errprocess.Wrap("publish attachment job", err)
	}
	return att, nil
}
