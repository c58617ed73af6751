// Package tts synthesizes speech for the /api/speak endpoint.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.elevenlabs.io"

// ErrNotConfigured means no provider credential is set.
var ErrNotConfigured = errors.New("tts provider is not configured")

// Provider turns text into encoded audio.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID string) (*Synthesis, error)
}

type Synthesis struct {
	Audio       []byte
	ContentType string
}

// ProviderError is a non-2xx answer from the upstream provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts provider returned status %d: %s", e.StatusCode, e.Body)
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ElevenLabs struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	settings   VoiceSettings
}

var _ Provider = (*ElevenLabs)(nil)

func NewElevenLabs(apiKey, baseURL string, client *http.Client) *ElevenLabs {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabs{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    baseURL,
		httpClient: client,
		settings:   VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
}

func (e *ElevenLabs) Name() string {
	return "elevenlabs"
}

func (e *ElevenLabs) Configured() bool {
	return e != nil && e.apiKey != ""
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (*Synthesis, error) {
	if !e.Configured() {
		return nil, ErrNotConfigured
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return nil, errors.New("voice id is required")
	}

	body, err := json.Marshal(struct {
		Text          string        `json:"text"`
		VoiceSettings VoiceSettings `json:"voice_settings"`
	}{Text: text, VoiceSettings: e.settings})
	if err != nil {
		return nil, err
	}

	endpoint := e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read elevenlabs audio: %w", err)
	}
	return &Synthesis{Audio: audio, ContentType: "audio/mpeg"}, nil
}
