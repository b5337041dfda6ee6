package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// EventMessageAdded is the SSE event name carrying a new message.
const EventMessageAdded = "messageAdded"

// Subscriber is the part of the chat service the stream needs.
type Subscriber interface {
	SubscribeMessages(ctx context.Context) <-chan chat.Message
}

// Handler 通过 Server-Sent Events 推送新消息
type Handler struct {
	messages  Subscriber
	heartbeat time.Duration
	log       zerolog.Logger
}

// New 创建流式处理器
func New(messages Subscriber, heartbeat time.Duration, log zerolog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Handler{
		messages:  messages,
		heartbeat: heartbeat,
		log:       log,
	}
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/stream", h.handleStream)
}

// handleStream 保持连接并逐条推送 messageAdded 事件
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := h.messages.SubscribeMessages(ctx)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "stream established"); err != nil {
		return
	}

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("sse stream opened")
	defer h.log.Debug().Str("remote", r.RemoteAddr).Msg("sse stream closed")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, EventMessageAdded, m); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
