package middleware

import (
	"net/http"
	"net/url"

	"github.com/go-chi/cors"

	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

// OriginPolicy decides which browser origins may call the API.
type OriginPolicy struct {
	allowed map[string]struct{}
}

// NewOriginPolicy builds a policy from an exact-match allow-list.
func NewOriginPolicy(origins []string) *OriginPolicy {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[origin] = struct{}{}
	}
	return &OriginPolicy{allowed: allowed}
}

// Allowed accepts requests without an Origin header, same-origin requests
// and allow-listed origins.
func (p *OriginPolicy) Allowed(r *http.Request, origin string) bool {
	if origin == "" {
		return true
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && u.Host == r.Host
}

// CORS 拒绝白名单之外的来源（403），并为允许的来源补充 CORS 响应头。
func CORS(policy *OriginPolicy) func(http.Handler) http.Handler {
	headers := cors.Handler(cors.Options{
		AllowOriginFunc:  policy.Allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	return func(next http.Handler) http.Handler {
		withHeaders := headers(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !policy.Allowed(r, r.Header.Get("Origin")) {
				utils.RespondError(w, http.StatusForbidden, "CORS origin not allowed")
				return
			}
			withHeaders.ServeHTTP(w, r)
		})
	}
}
