package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/nutra/internal/models"
)

const maxDetailRunes = 200

var ErrEmptyTranscript = errors.New("transcript is empty")

// TextTransport turns a transcript into the assistant's reply.
type TextTransport interface {
	Send(ctx context.Context, transcript []models.ChatMessage) (string, error)
}

// StatusError is a non-2xx answer from the chat endpoint.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint returned status %d: %s", e.StatusCode, e.Detail)
}

// TokenFunc returns the bearer token to attach, or "" for none.
type TokenFunc func() string

// HTTPTransport posts transcripts to the server's /api/chat endpoint. It
// never retries.
type HTTPTransport struct {
	endpoint   string
	httpClient *http.Client
	token      TokenFunc
}

var _ TextTransport = (*HTTPTransport)(nil)

func NewHTTPTransport(serverURL string, client *http.Client, token TokenFunc) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPTransport{
		endpoint:   strings.TrimRight(serverURL, "/") + "/api/chat",
		httpClient: client,
		token:      token,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, transcript []models.ChatMessage) (string, error) {
	if len(transcript) == 0 {
		return "", ErrEmptyTranscript
	}

	body, err := json.Marshal(models.ChatRequest{Messages: transcript})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != nil {
		if tok := t.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(resp, raw)}
	}
	return string(raw), nil
}

// errorDetail prefers the JSON detail or error field, then the raw body, then
// the status text.
func errorDetail(resp *http.Response, raw []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(raw, &parsed); err == nil {
		detail = parsed.Detail
		if detail == "" {
			detail = parsed.Error
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	if r := []rune(detail); len(r) > maxDetailRunes {
		detail = string(r[:maxDetailRunes])
	}
	return detail
}
