package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/auth"
	"github.com/RichardoC/nutra/internal/config"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// LogRequests tags every request with an id and logs it once it completes.
func LogRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		logger.Info("request",
			zap.String("requestID", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)))
	})
}

// LimitBody caps request bodies.
func LimitBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// RefreshSession resolves the caller's session on every request, re-issuing
// cookies when the access token had to be refreshed. Failures leave the
// request anonymous.
func RefreshSession(resolver *auth.Resolver, secureCookies bool, logger *zap.Logger, next http.Handler) http.Handler {
	if resolver == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, refresh := auth.TokensFromRequest(r)
		sess, refreshed, err := resolver.Resolve(r.Context(), access, refresh)
		if err != nil {
			logger.Warn("Failed to resolve session", zap.Error(err), zap.String("path", r.URL.Path))
		}
		if refreshed && sess != nil {
			auth.SetSessionCookies(w, sess, secureCookies)
		}
		if sess == nil && (access != "" || refresh != "") && err == nil {
			auth.ClearSessionCookies(w, secureCookies)
		}
		if sess != nil {
			r = r.WithContext(auth.WithSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSession enforces the configured authentication mode for a route.
func RequireSession(mode config.AuthMode, next http.HandlerFunc) http.HandlerFunc {
	if mode != config.AuthModeRequired {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.SessionFromContext(r.Context()) == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
			return
		}
		next(w, r)
	}
}
