package worker

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// requestIDKey is the context key for request IDs.
type requestIDKey struct{}

// allowedOrigins is the whitelist of origins allowed for CORS.
var allowedOrigins = map[string]bool{
	"http://localhost":       true,
	"http://localhost:5173":  true, // Vite dev server
	"http://localhost:38080": true,
	"http://127.0.0.1":       true,
	"http://127.0.0.1:5173":  true,
	"http://127.0.0.1:38080": true,
}

// SecurityHeaders middleware adds security headers to all responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:")

		// Exact match only, so "evil-localhost.com" does not pass
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, Authorization, X-Request-ID")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize middleware limits the size of incoming request bodies.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// TokenAuth guards the API with a shared token sent in X-Auth-Token or as a
// bearer token. An empty token disables the check.
type TokenAuth struct {
	ExemptPaths map[string]bool
	token       []byte
}

// NewTokenAuth creates a TokenAuth for the configured token.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{
		token: []byte(token),
		ExemptPaths: map[string]bool{
			"/health":    true,
			"/api/ready": true,
		},
	}
}

// IsEnabled returns whether token authentication is enabled.
func (ta *TokenAuth) IsEnabled() bool {
	return len(ta.token) > 0
}

// Middleware returns HTTP middleware that enforces token authentication.
func (ta *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ta.IsEnabled() || ta.ExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get("X-Auth-Token")
		if provided == "" {
			if bearer, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
				provided = bearer
			}
		}
		// EventSource cannot set headers
		if provided == "" && r.URL.Path == "/api/events" {
			provided = r.URL.Query().Get("token")
		}

		if subtle.ConstantTimeCompare([]byte(provided), ta.token) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ExpensiveOperationLimiter enforces a cooldown between full rebuilds and
// refreshes triggered over HTTP.
type ExpensiveOperationLimiter struct {
	last     map[string]time.Time
	now      func() time.Time
	cooldown time.Duration
	mu       sync.Mutex
}

// NewExpensiveOperationLimiter creates a limiter with the given cooldown.
func NewExpensiveOperationLimiter(cooldown time.Duration) *ExpensiveOperationLimiter {
	return &ExpensiveOperationLimiter{
		last:     make(map[string]time.Time),
		now:      time.Now,
		cooldown: cooldown,
	}
}

// Allow reports whether op may run now and, if so, starts its cooldown.
func (l *ExpensiveOperationLimiter) Allow(op string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[op]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.last[op] = now
	return true
}

// Remaining returns how long op stays blocked.
func (l *ExpensiveOperationLimiter) Remaining(op string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[op]
	if !ok {
		return 0
	}
	return max(0, l.cooldown-l.now().Sub(last))
}

// RequestID middleware adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireJSONContentType rejects request bodies that are not JSON.
func RequireJSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
