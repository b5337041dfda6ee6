package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

const maxBodyBytes = 64 << 10

// Handler 聊天消息的REST处理器
type Handler struct {
	chatSvc *chatService.Service
	log     zerolog.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, log zerolog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleListMessages)
	r.Post("/messages", h.handleAddMessage)
}

// handleListMessages 列出全部消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.ListMessages(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list messages failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleAddMessage 保存并广播消息
func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.NewMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.chatSvc.AddMessage(r.Context(), payload)
	if err != nil {
		var invalid *chatService.InvalidInputError
		if errors.As(err, &invalid) {
			utils.RespondJSON(w, http.StatusBadRequest, map[string]any{
				"error":       invalid.Reason,
				"invalidArgs": invalid.Args,
			})
			return
		}
		h.log.Error().Err(err).Msg("add message failed")
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, message)
}
