package chat

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/care-relay/backend/internal/middleware"
	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
	chatService "github.com/zhouzirui/care-relay/backend/internal/service/chat"
	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler 在单个连接上按帧转发聊天请求
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	limiter  *middleware.Limiter
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器，握手来源沿用 HTTP 的跨域白名单。
// limiter 为空时不限流，否则每一帧都按一次请求计数。
func NewWebSocketHandler(chatSvc *chatService.Service, policy *middleware.OriginPolicy, limiter *middleware.Limiter) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return policy.Allowed(r, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type replyFrame struct {
	Type string `json:"type"`
	*chat.Response
}

type errorFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	utils.ErrorPayload
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxBodyBytes)
	logger := hlog.FromRequest(r)
	ctx := r.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var frame interface{}
		var req chat.Request
		if h.limiter != nil && !h.limiter.Allow(r) {
			frame = errorFrame{Type: "error", ErrorPayload: utils.ErrorPayload{
				Status:  http.StatusTooManyRequests,
				Message: "Rate limit exceeded",
			}}
		} else if err := json.Unmarshal(data, &req); err != nil {
			frame = errorFrame{Type: "error", ErrorPayload: utils.ErrorPayload{
				Status:  http.StatusBadRequest,
				Message: "Invalid request body",
				Details: chat.DecodeError(err),
			}}
		} else if resp, err := h.chatSvc.Chat(ctx, req); err != nil {
			_, payload := errorPayload(err)
			frame = errorFrame{Type: "error", SessionID: req.SessionID, ErrorPayload: payload}
		} else {
			frame = replyFrame{Type: "reply", Response: resp}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Warn().Err(err).Msg("websocket write failed")
			return
		}
	}
}
