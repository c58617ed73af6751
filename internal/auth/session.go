package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/models"
)

const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

type sessionKey struct{}

func WithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session resolved for the request, or nil.
func SessionFromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey{}).(*models.Session)
	return s
}

// TokensFromRequest reads the access token from the bearer header or the
// session cookie, and the refresh token from its cookie.
func TokensFromRequest(r *http.Request) (access, refresh string) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		access = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if access == "" {
		if c, err := r.Cookie(AccessTokenCookie); err == nil {
			access = c.Value
		}
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refresh = c.Value
	}
	return access, refresh
}

func SetSessionCookies(w http.ResponseWriter, s *models.Session, secure bool) {
	accessMaxAge := 3600
	if !s.ExpiresAt.IsZero() {
		if d := int(time.Until(s.ExpiresAt).Seconds()); d > 0 {
			accessMaxAge = d
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    s.AccessToken,
		Path:     "/",
		MaxAge:   accessMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	if s.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshTokenCookie,
			Value:    s.RefreshToken,
			Path:     "/",
			MaxAge:   int((30 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Resolver turns request tokens into a session, refreshing an expired access
// token when a refresh token is available.
type Resolver struct {
	verifier *TokenVerifier
	provider Provider
	logger   *zap.Logger
}

func NewResolver(verifier *TokenVerifier, provider Provider, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{verifier: verifier, provider: provider, logger: logger}
}

// Resolve returns the session for the given tokens. refreshed is true when a
// new token pair was issued and the caller should store it. A nil session
// with a nil error means the request is anonymous.
func (r *Resolver) Resolve(ctx context.Context, access, refresh string) (sess *models.Session, refreshed bool, err error) {
	if access == "" && refresh == "" {
		return nil, false, nil
	}

	if access != "" {
		user, exp, verr := r.verifier.Verify(ctx, access)
		if verr == nil {
			return &models.Session{
				AccessToken:  access,
				RefreshToken: refresh,
				ExpiresAt:    exp,
				User:         *user,
			}, false, nil
		}
		if !errors.Is(verr, ErrTokenExpired) && !errors.Is(verr, ErrInvalidToken) {
			return nil, false, verr
		}
		r.logger.Debug("access token rejected", zap.Error(verr))
	}

	if refresh == "" || r.provider == nil {
		return nil, false, nil
	}
	sess, err = r.provider.RefreshSession(ctx, refresh)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			r.logger.Debug("refresh token rejected", zap.Error(err))
			return nil, false, nil
		}
		return nil, false, err
	}
	return sess, true, nil
}
