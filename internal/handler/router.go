package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/care-relay/backend/internal/handler/chat"
	middlewarePkg "github.com/zhouzirui/care-relay/backend/internal/middleware"
	chatService "github.com/zhouzirui/care-relay/backend/internal/service/chat"
	"github.com/zhouzirui/care-relay/backend/internal/web"
	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

// Options carries the HTTP-layer policy: CORS allow-list and rate limit.
type Options struct {
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
	// RateCounter is optional; nil keeps counts in memory.
	RateCounter httprate.LimitCounter
	Logger      zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	// 未匹配的路径和方法统一返回 404
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Get("/", web.Handler().ServeHTTP)

	policy := middlewarePkg.NewOriginPolicy(opts.AllowedOrigins)
	var limiter *middlewarePkg.Limiter
	if opts.RateLimit > 0 && opts.RateWindow > 0 {
		limiter = middlewarePkg.NewLimiter(opts.RateLimit, opts.RateWindow, opts.RateCounter)
	}
	chatHandler := chat.New(chatSvc, chat.NewWebSocketHandler(chatSvc, policy, limiter))

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.CORS(policy))
		if limiter != nil {
			api.Use(limiter.Handler)
		}

		chatHandler.RegisterRoutes(api)
	})

	return r
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusNotFound, "Route not found")
}
