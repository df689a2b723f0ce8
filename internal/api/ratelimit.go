package api

import (
	"net/http"
	"strings"

	"github.com/listenupapp/indexbridge/internal/http/response"
)

// rebuildRateLimit limits rebuild triggers per client IP.
// Returns 429 Too Many Requests when the limit is exceeded.
func (s *Server) rebuildRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || !isRebuildTrigger(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := getClientIP(r)
		if !s.limiter.Allow(key) {
			s.logger.Warn("rebuild rate limit exceeded",
				"ip", key,
				"path", r.URL.Path,
			)
			response.TooManyRequests(w, "Too many rebuild requests. Please try again later.", s.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if i := strings.LastIndexByte(ip, ':'); i >= 0 {
		return ip[:i]
	}
	return ip
}
