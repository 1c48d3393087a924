package app

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"
	"escrow_trade_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	app      *fiber.App
	convRepo *MockConversationRepository
	msgRepo  *MockMessageRepository
	pub      *MockPublisher
	store    *MockObjectStore
	rabbit   *MockRabbitRepo
	token    string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	logger.SetNewNop()
	token.SetSecret("chat-handler-secret")
	tok, err := token.GenerateJWT("buyer", token.RoleMember, "test")
	require.NoError(t, err)

	f := &handlerFixture{
		convRepo: new(MockConversationRepository),
		msgRepo:  new(MockMessageRepository),
		pub:      new(MockPublisher),
		store:    new(MockObjectStore),
		rabbit:   new(MockRabbitRepo),
		token:    tok,
	}
	h := NewChatHandler(
		NewConversationUseCase(f.convRepo, f.msgRepo),
		NewMessageUseCase(f.convRepo, f.msgRepo, f.pub),
		NewAttachmentUseCase(f.convRepo, f.store, f.rabbit, "", 16, time.Hour),
	)

	f.app = fiber.New()
	conv := f.app.Group("/api/conversations", middlewares.JWTMiddleware())
	conv.Get("/", h.ListConversations)
	conv.Get("/:id/messages", h.ListMessages)
	conv.Post("/:id/messages", h.SendMessage)
	conv.Put("/:id/messages/:messageId/read", h.MarkMessageRead)
	conv.Put("/:id/read", h.MarkConversationRead)
	conv.Post("/:id/attachments", h.UploadAttachment)
	return f
}

func (f *handlerFixture) do(t *testing.T, req *http.Request) *http.Response {
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func jsonReq(method, target string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatHandler_SendMessage(t *testing.T) {
	ctx := mock.Anything

	t.Run("新訊息 201", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		f.msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").Return(nil, domain.ErrMessageNotFound)
		f.msgRepo.On("Insert", ctx, mock.Anything).Return(nil)
		f.convRepo.On("UpdateLastMessage", ctx, "c-1", mock.Anything).Return(nil)
		f.pub.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/c-1/messages", SendMessageReq{ClientID: "tmp-1", Content: "hi"}))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var msg domain.Message
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
		assert.Equal(t, "tmp-1", msg.ClientID)
		assert.True(t, msg.Read)
	})

	t.Run("重送 200", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		f.msgRepo.On("FindByClientID", ctx, "c-1", "buyer", "tmp-1").
			Return(&domain.Message{ID: "srv-1", ClientID: "tmp-1", ConversationID: "c-1", SenderID: "buyer", Content: "hi"}, nil)

		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/c-1/messages", SendMessageReq{ClientID: "tmp-1", Content: "hi"}))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("空訊息 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)

		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/c-1/messages", SendMessageReq{}))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("找不到對話 404", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "nope").Return(nil, domain.ErrConversationNotFound)

		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/nope/messages", SendMessageReq{Content: "hi"}))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("非參與者 403", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-9").
			Return(&domain.Conversation{ID: "c-9", Participants: []string{"a", "b"}}, nil)

		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/c-9/messages", SendMessageReq{Content: "hi"}))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("沒有 token 401", func(t *testing.T) {
		f := newHandlerFixture(t)
		resp, err := f.app.Test(jsonReq(http.MethodPost, "/api/conversations/c-1/messages", SendMessageReq{Content: "hi"}))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestChatHandler_ListMessages(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := mock.Anything
	before := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
	f.msgRepo.On("List", ctx, "c-1", before, int64(10)).Return([]domain.Message{{ID: "m-1", SenderID: "seller"}}, nil)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/api/conversations/c-1/messages?limit=10&before="+before.Format(time.RFC3339Nano), nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []domain.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Read)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/api/conversations/c-1/messages?before=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatHandler_Read(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := mock.Anything
	f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
	f.msgRepo.On("MarkRead", ctx, "c-1", "m-1", "buyer").Return(false, nil)
	f.msgRepo.On("MarkAllRead", ctx, "c-1", "buyer").Return(int64(0), nil)

	resp := f.do(t, httptest.NewRequest(http.MethodPut, "/api/conversations/c-1/messages/m-1/read", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, httptest.NewRequest(http.MethodPut, "/api/conversations/c-1/read", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0, body["count"])
}

func TestChatHandler_UploadAttachment(t *testing.T) {
	ctx := mock.Anything

	upload := func(content string) *http.Request {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, _ := w.CreateFormFile("file", "note.txt")
		_, _ = part.Write([]byte(content))
		_ = w.Close()
		req := httptest.NewRequest(http.MethodPost, "/api/conversations/c-1/attachments", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req
	}

	t.Run("上傳成功", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)
		f.store.On("PutStream", ctx, mock.Anything, mock.Anything, int64(5), mock.Anything).Return(int64(5), nil)
		f.store.On("PresignGetURL", ctx, mock.Anything, time.Hour).Return("http://minio/note.txt", nil)
		f.rabbit.On("Publish", "", domain.AttachmentQueue, false, false, mock.Anything).Return(nil)

		resp := f.do(t, upload("hello"))
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		var att domain.Attachment
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
		assert.Equal(t, "note.txt", att.Name)
		assert.True(t, strings.HasPrefix(att.ObjectKey, "attachments/c-1/"))
	})

	t.Run("檔案太大 413", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.convRepo.On("FindByID", ctx, "c-1").Return(newConv(), nil)

		resp := f.do(t, upload(strings.Repeat("x", 17)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("缺少檔案 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		resp := f.do(t, jsonReq(http.MethodPost, "/api/conversations/c-1/attachments", nil))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
