package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const (
	subjectKey contextKey = "auth.subject"
	scopesKey  contextKey = "auth.scopes"
)

// Middleware validates the bearer token on every request, rejecting
// unauthenticated requests with 401 before the request reaches the
// gateway or SSE handlers. The token may arrive as an Authorization:
// Bearer header or, for SSE connections that cannot set headers, a
// token query parameter.
func (c *Core) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerFromRequest(r)
		subject, scopes, ok := c.Authenticate(token)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatewayd"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		ctx = context.WithValue(ctx, scopesKey, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return r.URL.Query().Get("token")
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// ScopesFromContext returns the authenticated scopes, if any.
func ScopesFromContext(ctx context.Context) []string {
	s, _ := ctx.Value(scopesKey).([]string)
	return s
}

// RateLimitMiddleware rejects requests beyond the configured rate with
// 429 and a Retry-After header, keyed by authenticated subject when
// available and falling back to remote address for pre-auth routes like
// /oauth/token. onReject, if non-nil, is called once per rejected request
// (used to drive a rejection metric); pass nil to skip it.
func RateLimitMiddleware(limiter *RateLimiter, onReject func(), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := SubjectFromContext(r.Context())
		if identity == "" {
			identity = r.RemoteAddr
		}
		ok, retryAfter := limiter.Allow(identity)
		if !ok {
			if onReject != nil {
				onReject()
			}
			seconds := int(retryAfter.Seconds() + 0.5)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
