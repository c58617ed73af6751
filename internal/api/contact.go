package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/RichardoC/nutra/internal/models"
	"go.uber.org/zap"
)

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "Invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "Missing required fields"})
		return
	}

	if h.contacts == nil {
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: "Contact storage is not configured"})
		return
	}

	msg := &models.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Subject: strings.TrimSpace(req.Subject),
		Message: req.Message,
	}
	if err := h.contacts.SaveContactMessage(r.Context(), msg); err != nil {
		h.logger.Error("Failed to save contact message", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Message: err.Error()})
		return
	}

	h.logger.Info("contact message stored", zap.Int64("id", msg.ID))
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Message sent!"})
}
