package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
	chatService "github.com/zhouzirui/care-relay/backend/internal/service/chat"
	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

// maxBodyBytes 请求体上限（1 MiB）。
const maxBodyBytes = 1 << 20

// Handler 聊天中转的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	ws      *WebSocketHandler
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, ws *WebSocketHandler) *Handler {
	return &Handler{chatSvc: chatSvc, ws: ws}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	if h.ws != nil {
		r.Get("/chat/ws", h.ws.handleWebSocket)
	}
}

// handleChat 校验请求并转发给助手
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		utils.RespondErrorDetails(w, http.StatusBadRequest, "Invalid request body", chat.DecodeError(err))
		return
	}

	resp, err := h.chatSvc.Chat(r.Context(), req)
	if err != nil {
		status, payload := errorPayload(err)
		utils.RespondJSON(w, status, payload)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// errorPayload 将服务层错误映射为状态码和对外可见的错误体，不泄露底层细节。
func errorPayload(err error) (int, utils.ErrorPayload) {
	var validationErr *chat.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, utils.ErrorPayload{
			Status:  http.StatusBadRequest,
			Message: "Invalid request body",
			Details: validationErr,
		}
	case errors.Is(err, chatService.ErrAssistantNotConfigured):
		return http.StatusInternalServerError, utils.ErrorPayload{
			Status:  http.StatusInternalServerError,
			Message: "Assistant credential is not set",
		}
	case errors.Is(err, chatService.ErrAssistantUnavailable):
		return http.StatusInternalServerError, utils.ErrorPayload{
			Status:  http.StatusInternalServerError,
			Message: "Assistant initialization failed",
		}
	default:
		return http.StatusInternalServerError, utils.ErrorPayload{
			Status:  http.StatusInternalServerError,
			Message: "Assistant request failed",
		}
	}
}
