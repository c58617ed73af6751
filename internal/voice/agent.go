package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/conversation"
	"github.com/RichardoC/nutra/internal/models"
)

const (
	DefaultAgentURL     = "wss://api.elevenlabs.io"
	agentConnectTimeout = 15 * time.Second
	agentWriteTimeout   = 5 * time.Second
	micChunkBytes       = 3200
)

type AgentConfig struct {
	AgentID string
	// APIKey is only needed for private agents.
	APIKey  string
	BaseURL string

	// Output opens the speaker for agent audio. Optional.
	Output func() (PCMSink, error)
	// Input opens the microphone. Optional; without it the agent only hears
	// typed messages.
	Input func(ctx context.Context) (io.ReadCloser, error)
}

// ElevenLabsAgent dials ElevenLabs Conversational AI sessions.
type ElevenLabsAgent struct {
	cfg    AgentConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ conversation.AgentDialer = (*ElevenLabsAgent)(nil)

func NewElevenLabsAgent(cfg AgentConfig, logger *zap.Logger) *ElevenLabsAgent {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAgentURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsAgent{cfg: cfg, dialer: websocket.DefaultDialer, logger: logger}
}

func (a *ElevenLabsAgent) endpoint() string {
	return a.cfg.BaseURL + "/v1/convai/conversation?agent_id=" + url.QueryEscape(a.cfg.AgentID)
}

func (a *ElevenLabsAgent) Dial(ctx context.Context) (conversation.AgentSession, error) {
	if a.cfg.AgentID == "" {
		return nil, conversation.ErrLiveUnavailable
	}

	headers := make(http.Header)
	if a.cfg.APIKey != "" {
		headers.Set("xi-api-key", a.cfg.APIKey)
	}

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, agentConnectTimeout)
		defer cancel()
	}
	conn, resp, err := a.dialer.DialContext(dialCtx, a.endpoint(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("agent websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("agent websocket dial failed: %w", err)
	}

	if err := conn.WriteJSON(map[string]string{"type": "conversation_initiation_client_data"}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initiate conversation: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &agentSession{
		conn:   conn,
		logger: a.logger,
		turns:  make(chan models.Turn, 16),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: cancel,
	}
	s.SetVolume(1)

	if a.cfg.Output != nil {
		sink, err := a.cfg.Output()
		if err != nil {
			a.logger.Warn("agent audio output unavailable", zap.Error(err))
		} else {
			s.sink = sink
		}
	}
	if a.cfg.Input != nil {
		mic, err := a.cfg.Input(sessCtx)
		if err != nil {
			a.logger.Warn("microphone unavailable, typed messages only", zap.Error(err))
		} else {
			go s.pumpMicrophone(mic)
		}
	}

	go s.readLoop()
	return s, nil
}

type agentSession struct {
	conn   *websocket.Conn
	logger *zap.Logger
	sink   PCMSink

	turns chan models.Turn
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	volume    atomic.Uint64

	conversationID string
}

func (s *agentSession) Turns() <-chan models.Turn { return s.turns }

func (s *agentSession) SendText(_ context.Context, text string) error {
	return s.send(map[string]string{"type": "user_message", "text": text})
}

func (s *agentSession) SetVolume(v float64) {
	s.volume.Store(math.Float64bits(v))
}

func (s *agentSession) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

func (s *agentSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *agentSession) send(v any) error {
	if s.closed.Load() {
		return errors.New("live session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(agentWriteTimeout))
	return s.conn.WriteJSON(v)
}

type agentEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
		OutputFormat   string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event"`

	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`

	UserTranscript *struct {
		Text    string `json:"user_transcript"`
		EventID int64  `json:"event_id"`
	} `json:"user_transcription_event"`

	AgentResponse *struct {
		Text    string `json:"agent_response"`
		EventID int64  `json:"event_id"`
	} `json:"agent_response_event"`

	Audio *struct {
		Base64  string `json:"audio_base_64"`
		EventID int64  `json:"event_id"`
	} `json:"audio_event"`
}

func (s *agentSession) readLoop() {
	defer close(s.done)
	defer close(s.turns)
	defer func() {
		if s.sink != nil {
			_ = s.sink.Close()
		}
	}()
	defer s.cancel()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("live agent connection lost", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var ev agentEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("skipping malformed agent event", zap.Error(err))
			continue
		}
		if !s.handle(ev) {
			return
		}
	}
}

// handle processes one agent event. It returns false once the session is
// closing.
func (s *agentSession) handle(ev agentEvent) bool {
	switch ev.Type {
	case "conversation_initiation_metadata":
		if ev.Metadata != nil {
			s.conversationID = ev.Metadata.ConversationID
			s.logger.Debug("live conversation started",
				zap.String("conversationID", ev.Metadata.ConversationID),
				zap.String("outputFormat", ev.Metadata.OutputFormat))
		}
	case "ping":
		if ev.Ping != nil {
			if err := s.send(map[string]any{"type": "pong", "event_id": ev.Ping.EventID}); err != nil {
				s.logger.Debug("failed to answer ping", zap.Error(err))
			}
		}
	case "user_transcript":
		if ev.UserTranscript != nil && strings.TrimSpace(ev.UserTranscript.Text) != "" {
			return s.emit(models.Turn{
				ID:            s.turnID("user", ev.UserTranscript.EventID),
				Role:          models.RoleUser,
				Content:       strings.TrimSpace(ev.UserTranscript.Text),
				IsAudioOrigin: true,
			})
		}
	case "agent_response":
		if ev.AgentResponse != nil && strings.TrimSpace(ev.AgentResponse.Text) != "" {
			return s.emit(models.Turn{
				ID:      s.turnID("agent", ev.AgentResponse.EventID),
				Role:    models.RoleAssistant,
				Content: strings.TrimSpace(ev.AgentResponse.Text),
			})
		}
	case "audio":
		if ev.Audio != nil {
			s.play(ev.Audio.Base64)
		}
	}
	return true
}

// turnID is empty when the event carries no id, leaving de-duplication to
// the role and content.
func (s *agentSession) turnID(kind string, eventID int64) string {
	if eventID == 0 {
		return ""
	}
	return fmt.Sprintf("%s-%s-%d", s.conversationID, kind, eventID)
}

func (s *agentSession) emit(t models.Turn) bool {
	select {
	case s.turns <- t:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *agentSession) play(b64 string) {
	if s.sink == nil {
		return
	}
	v := s.Volume()
	if v <= 0 {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.logger.Debug("skipping undecodable agent audio", zap.Error(err))
		return
	}
	if v < 1 {
		pcm = ScalePCM16(pcm, v)
	}
	if err := s.sink.Write(pcm); err != nil {
		s.logger.Debug("failed to write agent audio", zap.Error(err))
	}
}

func (s *agentSession) pumpMicrophone(mic io.ReadCloser) {
	// Closing the microphone is what unblocks Read.
	go func() {
		<-s.ctx.Done()
		_ = mic.Close()
	}()

	buf := make([]byte, micChunkBytes)
	for {
		n, err := mic.Read(buf)
		if n > 0 {
			chunk := base64.StdEncoding.EncodeToString(buf[:n])
			if sendErr := s.send(map[string]string{"user_audio_chunk": chunk}); sendErr != nil {
				if s.ctx.Err() == nil {
					s.logger.Debug("failed to send microphone audio", zap.Error(sendErr))
				}
				return
			}
		}
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.logger.Warn("microphone capture stopped", zap.Error(err))
			}
			return
		}
	}
}
