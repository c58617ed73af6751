package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/nutra/internal/auth"
	"github.com/RichardoC/nutra/internal/config"
	"github.com/RichardoC/nutra/internal/db"
	"github.com/RichardoC/nutra/internal/llm"
	"github.com/RichardoC/nutra/internal/models"
	"github.com/RichardoC/nutra/internal/tts"
	"go.uber.org/zap"
)

const maxErrorDetail = 200

// Completer produces the assistant reply for a transcript.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, transcript []models.ChatMessage) (string, error)
}

// Synthesizer is a hosted text-to-speech backend.
type Synthesizer interface {
	Configured() bool
	Synthesize(ctx context.Context, text, voiceID string) (*tts.Synthesis, error)
}

type Options struct {
	LLM      Completer
	TTS      Synthesizer
	VoiceID  string
	Contacts db.ContactStore
	// Auth is nil when no identity provider is configured.
	Auth     auth.Provider
	Verifier *auth.TokenVerifier
	WebDir   string
	AuthCfg  config.AuthConfig
}

type Handler struct {
	llm      Completer
	tts      Synthesizer
	voiceID  string
	contacts db.ContactStore
	auth     auth.Provider
	verifier *auth.TokenVerifier
	webDir   string
	authCfg  config.AuthConfig
	logger   *zap.Logger
}

func NewHandler(opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		llm:      opts.LLM,
		tts:      opts.TTS,
		voiceID:  opts.VoiceID,
		contacts: opts.Contacts,
		auth:     opts.Auth,
		verifier: opts.Verifier,
		webDir:   opts.WebDir,
		authCfg:  opts.AuthCfg,
		logger:   logger,
	}
}

type incomingMessage struct {
	Role    models.Role     `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Messages []incomingMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Chat forwards the transcript to the completion service and answers with the
// reply as plain text.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid messages format"})
		return
	}

	transcript := make([]models.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = models.RoleUser
		}
		transcript = append(transcript, models.ChatMessage{Role: role, Content: NormalizeContent(m.Content)})
	}

	if h.llm == nil || !h.llm.Configured() {
		h.logger.Error("chat completion credential missing")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Missing chat completion credential"})
		return
	}

	reply, err := h.llm.Complete(r.Context(), transcript)
	if err != nil {
		h.logger.Error("Failed to complete chat",
			zap.Error(err),
			zap.Int("messageCount", len(transcript)))
		if errors.Is(err, llm.ErrNotConfigured) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Missing chat completion credential"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "Chat completion request failed: " + truncate(err.Error(), maxErrorDetail),
		})
		return
	}

	h.logger.Debug("chat completion served", zap.Int("replyLength", len(reply)))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(reply))
}

// Transcribe is kept for older clients; recognition runs on the client.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"error":   "Speech-to-text is now handled by the client",
		"message": "No server-side transcription is needed",
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// NormalizeContent returns string content as-is and any other JSON value as
// its compact JSON text.
func NormalizeContent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
