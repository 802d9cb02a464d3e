package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/learnwise/cachecore/cache"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP Request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		})
	}
}

// RequireAdmin rejects requests for which isAdmin is false with 403. A nil
// isAdmin rejects everything.
func RequireAdmin(isAdmin func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isAdmin == nil || !isAdmin(r) {
				respondError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns an admin check that accepts "Authorization: Bearer
// <token>". An empty token accepts nobody.
func BearerToken(token string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if token == "" {
			return false
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
	}
}

// connected answers 503 while the store is down so operators see the
// outage instead of an empty result.
func (h *handler) connected(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.Store.IsConnected() {
			respondError(w, http.StatusServiceUnavailable, cache.ErrNotConnected.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) need(ok bool, component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok {
				respondError(w, http.StatusServiceUnavailable, component+" is not configured")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
