package api

import (
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/auth"
)

// ChatPage serves the chat UI to signed-in users and sends everyone else to
// the login page.
func (h *Handler) ChatPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if auth.SessionFromContext(r.Context()) == nil {
		http.Redirect(w, r, "/auth/login", http.StatusFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.webDir, "chat.html"))
}

func (h *Handler) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(h.webDir, name))
	}
}

// Routes returns the complete server handler, middleware included.
func (h *Handler) Routes(resolver *auth.Resolver, maxBodyBytes int64) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/chat", RequireSession(h.authCfg.Chat, h.Chat))
	mux.HandleFunc("/api/speak", RequireSession(h.authCfg.Speech, h.Speak))
	mux.HandleFunc("/api/transcribe", RequireSession(h.authCfg.Speech, h.Transcribe))
	mux.HandleFunc("/api/contact", h.Contact)

	mux.HandleFunc("/api/auth/login", h.Login)
	mux.HandleFunc("/api/auth/signup", h.SignUp)
	mux.HandleFunc("/api/auth/oauth/{provider}", h.OAuth)
	mux.HandleFunc("/api/auth/logout", h.Logout)
	mux.HandleFunc("/api/auth/session", h.Session)

	mux.HandleFunc("/chat", h.ChatPage)
	mux.HandleFunc("/auth/login", h.page("login.html"))
	mux.HandleFunc("/auth/sign-up", h.page("signup.html"))
	mux.HandleFunc("/auth/callback", h.page("callback.html"))
	mux.HandleFunc("/healthz", h.Healthz)

	// Serve static files
	mux.Handle("/", http.FileServer(http.Dir(h.webDir)))

	h.logger.Debug("routes registered",
		zap.String("chatAuth", string(h.authCfg.Chat)),
		zap.String("speechAuth", string(h.authCfg.Speech)))

	var handler http.Handler = mux
	handler = RefreshSession(resolver, h.authCfg.CookieSecure, h.logger, handler)
	handler = LimitBody(maxBodyBytes, handler)
	return LogRequests(h.logger, handler)
}
