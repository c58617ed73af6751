package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/nutra/internal/tts"
	"go.uber.org/zap"
)

type speakRequest struct {
	Text string `json:"text"`
}

// Speak synthesizes text with the hosted voice. Without a provider credential
// it answers with a short silent WAV so the client falls back to local
// speech.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	if h.tts == nil || !h.tts.Configured() {
		h.logger.Debug("no tts provider configured, sending silent placeholder")
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(tts.SilentWAV(8000, 100*time.Millisecond))
		return
	}

	out, err := h.tts.Synthesize(r.Context(), req.Text, h.voiceID)
	if err != nil {
		var perr *tts.ProviderError
		if errors.As(err, &perr) {
			h.logger.Error("TTS provider error",
				zap.Int("status", perr.StatusCode),
				zap.String("body", truncate(perr.Body, maxErrorDetail)))
			http.Error(w, "TTS provider error", http.StatusBadGateway)
			return
		}
		h.logger.Error("Failed to synthesize speech", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	_, _ = w.Write(out.Audio)
}
