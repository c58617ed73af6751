package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/nutra/internal/auth"
	"github.com/RichardoC/nutra/internal/models"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	User models.User `json:"user"`
}

func (h *Handler) authConfigured(w http.ResponseWriter) bool {
	if h.auth == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Authentication is not configured"})
		return false
	}
	return true
}

// Login exchanges email and password for a session, stores it in cookies and
// returns it so non-browser clients can use the bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authConfigured(w) {
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	sess, err := h.auth.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err, "login")
		return
	}

	auth.SetSessionCookies(w, sess, h.authCfg.CookieSecure)
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authConfigured(w) {
		return
	}

	var req auth.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	req.RedirectTo = h.authCfg.SiteURL + "/auth/login"

	if err := h.auth.SignUp(r.Context(), req); err != nil {
		h.writeAuthError(w, err, "signup")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Check your email to confirm your account"})
}

// OAuth redirects to the identity provider's authorize page.
func (h *Handler) OAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authConfigured(w) {
		return
	}

	provider := strings.ToLower(r.PathValue("provider"))
	target, err := h.auth.OAuthURL(provider, h.authCfg.SiteURL+"/auth/callback")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.auth != nil {
		if sess := auth.SessionFromContext(r.Context()); sess != nil {
			if err := h.auth.SignOut(r.Context(), sess.AccessToken); err != nil {
				h.logger.Warn("Failed to revoke session", zap.Error(err))
			}
		}
	}
	auth.ClearSessionCookies(w, h.authCfg.CookieSecure)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Signed out"})
}

// Session reports the current user on GET. On POST it adopts a token pair
// returned to the OAuth callback page and stores it in cookies.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sess := auth.SessionFromContext(r.Context())
		if sess == nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Not signed in"})
			return
		}
		writeJSON(w, http.StatusOK, userResponse{User: sess.User})

	case http.MethodPost:
		if !h.authConfigured(w) {
			return
		}
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
			return
		}
		if h.verifier == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Authentication is not configured"})
			return
		}
		user, exp, err := h.verifier.Verify(r.Context(), req.AccessToken)
		if err != nil {
			h.logger.Debug("rejected callback token", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Invalid session"})
			return
		}
		sess := &models.Session{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, ExpiresAt: exp, User: *user}
		auth.SetSessionCookies(w, sess, h.authCfg.CookieSecure)
		writeJSON(w, http.StatusOK, userResponse{User: *user})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error, op string) {
	var apiErr *auth.APIError
	switch {
	case errors.Is(err, auth.ErrMissingCredential),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &apiErr) && apiErr.Unauthorized():
		h.logger.Info("identity provider rejected request", zap.String("op", op), zap.Int("status", apiErr.StatusCode))
		status := http.StatusUnauthorized
		if op == "signup" {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: apiErr.Message})
	default:
		h.logger.Error("identity provider request failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Authentication service unavailable"})
	}
}
