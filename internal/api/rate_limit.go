package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// uploadCostUnit is the body size charged as one extra token on uploads.
const uploadCostUnit = 4 << 20

const anonymousSubject = "anonymous"

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := s.rateLimitSubject(r, route)
		cost := requestCost(r)

		decision, err := s.rateLimiter.Allow(r.Context(), subject, cost)
		if err != nil {
			// Fail open.
			s.logger.Printf("rate limiter check failed subject=%s cost=%d err=%v", subject, cost, err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
		s.metrics.throttled.WithLabelValues(route).Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

// rateLimitSubject buckets callers per user and per route.
func (s *Server) rateLimitSubject(r *http.Request, route string) string {
	user := strings.TrimSpace(r.Header.Get(s.userIDHeader))
	if user == "" {
		user = anonymousSubject
	}
	return user + ":" + route
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(d.Round(time.Second).Seconds()))
}

func shouldRateLimit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/")
}

func requestCost(r *http.Request) int {
	if r.URL.Path != "/v1/optimize" || r.ContentLength <= 0 {
		return 1
	}
	return 1 + int(r.ContentLength/uploadCostUnit)
}
