package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/nutra/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// FallbackReply is returned when the provider answers without usable text.
const FallbackReply = "Sorry, I couldn't generate a response."

// ErrNotConfigured is returned by Complete when no provider credential is set.
var ErrNotConfigured = errors.New("chat completion credential is not configured")

type Options struct {
	// APIURL is either a base URL or a full .../chat/completions URL.
	APIURL      string
	Token       string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

type Service struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// New builds the chat completion service. A missing token is not an error:
// the service is returned unconfigured and every Complete call fails with
// ErrNotConfigured, so the server can still start and report it per request.
func New(opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		logger:      logger,
	}
	if strings.TrimSpace(opts.Token) == "" {
		logger.Warn("chat completion token missing, /api/chat will fail until it is configured")
		return s, nil
	}

	clientOpts := []openai.Option{
		openai.WithToken(opts.Token),
		openai.WithBaseURL(BaseURL(opts.APIURL)),
		openai.WithModel(opts.Model),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, openai.WithHTTPClient(opts.HTTPClient))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat completion client: %w", err)
	}
	s.llm = client
	return s, nil
}

// NewWithModel wraps an existing model, mostly for tests.
func NewWithModel(model llms.Model, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: model, temperature: 0.7, maxTokens: 800, logger: logger}
}

func (s *Service) Configured() bool {
	return s != nil && s.llm != nil
}

// BaseURL strips a trailing /chat/completions so a full endpoint URL can be
// handed to the OpenAI client, which appends the path itself.
func BaseURL(apiURL string) string {
	u := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	u = strings.TrimSuffix(u, "/chat/completions")
	return strings.TrimRight(u, "/")
}

// Complete sends the persona prompt followed by the transcript and returns the
// first completion's text.
func (s *Service) Complete(ctx context.Context, transcript []models.ChatMessage) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if len(transcript) == 0 {
		return "", errors.New("transcript must contain at least one message")
	}

	content := make([]llms.MessageContent, 0, len(transcript)+1)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt))
	for _, msg := range transcript {
		content = append(content, llms.TextParts(messageType(msg.Role), msg.Content))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debug("requesting chat completion",
		zap.String("model", s.model),
		zap.Int("messageCount", len(transcript)))

	resp, err := s.llm.GenerateContent(ctx, content,
		llms.WithTemperature(s.temperature),
		llms.WithMaxTokens(s.maxTokens),
	)
	if err != nil {
		if errors.Is(err, openai.ErrEmptyResponse) {
			return FallbackReply, nil
		}
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return FallbackReply, nil
	}

	reply := resp.Choices[0].Content
	s.logger.Debug("chat completion succeeded", zap.Int("replyLength", len(reply)))
	return reply, nil
}

func messageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
