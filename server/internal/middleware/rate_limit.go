package middleware

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

// KeyFunc picks the bucket a request is counted against
type KeyFunc func(r *http.Request) string

// LoginThrottle counts login attempts in rl, keyed by key (client IP when nil).
// The handler forgives a client with rl.ResetLimit after a successful login,
// so only failed attempts accumulate.
func LoginThrottle(rl *auth.RateLimiter, maxAttempts int, window time.Duration, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = GetClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := rl.CheckLimit(key(r), maxAttempts, window)
			var limit *auth.LimitError
			if errors.As(err, &limit) {
				tooManyRequests(w, r, limit.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RefreshThrottle caps refresh calls per key with a fixed httprate window.
// Unlike logins, nothing resets the count early.
func RefreshThrottle(limit int, window time.Duration, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = GetClientIP
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return key(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			tooManyRequests(w, r, window)
		}),
	)
}

// tooManyRequests writes the 429 envelope. Retry-After is rounded up to whole seconds.
func tooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	slog.Warn("rate limit exceeded",
		"client_ip", GetClientIP(r),
		"method", r.Method,
		"path", r.URL.Path,
		"retry_after", secs,
	)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
}

// GetClientIP returns the caller's address: the first X-Forwarded-For hop,
// then X-Real-IP, then RemoteAddr. Header values that do not parse as an IP
// are ignored.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
