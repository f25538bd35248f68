package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"parley-backend/internal/apperr"
	"parley-backend/internal/ratelimit"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// contextKey é um tipo privado para evitar colisões de chaves no contexto
type contextKey string

const requestContextKey = contextKey("request")

// RequestContext é a identidade da requisição autenticada
type RequestContext struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Origin    string
}

func requestContextFrom(r *http.Request) (RequestContext, bool) {
	rc, ok := r.Context().Value(requestContextKey).(RequestContext)
	return rc, ok
}

// ParseTrustedProxies converte a lista de IPs/CIDRs de TRUSTED_PROXIES
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if strings.Contains(value, "/") {
			prefix, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("proxy confiável inválido %q: %w", value, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("proxy confiável inválido %q: %w", value, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// realIP só aceita X-Forwarded-For/X-Real-IP quando o par TCP é um proxy
// confiável. Nos demais casos a origem é o endereço do socket.
func (h *Handler) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.fromTrustedProxy(r) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) fromTrustedProxy(r *http.Request) bool {
	if len(h.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(origin(r))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range h.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// origin é o IP do cliente; realIP já reescreveu RemoteAddr quando veio de proxy confiável
func origin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthMiddleware valida o token de sessão e guarda a identidade no contexto
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Obter o header "Authorization" no formato "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
			h.respondWithError(w, http.StatusUnauthorized, "Invalid session")
			return
		}

		// 2. Validar o token e a sessão
		session, err := h.svc.Auth.Authenticate(r.Context(), token)
		if err != nil {
			h.respondWithAppError(w, r, err)
			return
		}

		// 3. Armazenar a identidade no contexto da requisição
		rc := RequestContext{UserID: session.UserID, SessionID: session.ID, Origin: origin(r)}
		ctx := context.WithValue(r.Context(), requestContextKey, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limit aplica a política à origem e, se a rota for autenticada, ao usuário.
// Falha do limiter deixa a requisição passar.
func (h *Handler) limit(policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if rc, ok := requestContextFrom(r); ok {
				userID = rc.UserID.String()
			}
			allowed, err := h.limiter.Allow(r.Context(), policy, origin(r), userID)
			if err != nil {
				h.logger.Warn("rate limiter indisponível", "policy", policy.Name, "error", err)
			} else if !allowed {
				h.respondWithAppError(w, r, apperr.RateLimited("Too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
