package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/redis"
)

// RateLimitMiddleware throttles booking traffic per tenant. The keyFunc
// extracts the tenant id from the request; 0 means no tenant could be
// determined and the request passes through unthrottled.
func RateLimitMiddleware(limiter *redis.AttemptLimiter, logger *zap.Logger, keyFunc func(*http.Request) int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			tenantID := keyFunc(r)
			if tenantID == 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), tenantID)
			if err != nil {
				// Redis being down must not block bookings.
				logger.Warn("attempt limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection(strconv.FormatInt(tenantID, 10))
				retryAfter := time.Until(result.ResetAt).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(ErrorResponse{
					Type:   "rate_limit_exceeded",
					Title:  "Too Many Requests",
					Status: http.StatusTooManyRequests,
					Detail: "Booking attempt limit exceeded. Please retry after the specified time.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TenantKeyFunc extracts the tenant id from the X-Tenant-ID header or the
// tenant_id query param. Booking POST bodies carry the tenant id too, but
// reading the body in middleware would consume it, so clients are expected
// to set the header.
func TenantKeyFunc(r *http.Request) int64 {
	raw := r.Header.Get("X-Tenant-ID")
	if raw == "" {
		raw = r.URL.Query().Get("tenant_id")
	}
	if raw == "" {
		return 0
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
