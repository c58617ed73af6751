package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/models"
)

var (
	ErrSessionStarting = errors.New("live session is already starting")
	ErrSessionActive   = errors.New("live session is already connected")
	ErrNoLiveSession   = errors.New("no live session is connected")
	ErrLiveUnavailable = errors.New("live voice agent is not configured")
)

type LiveState int

const (
	LiveIdle LiveState = iota
	LiveConnecting
	LiveConnected
)

func (s LiveState) String() string {
	switch s {
	case LiveConnecting:
		return "connecting"
	case LiveConnected:
		return "connected"
	default:
		return "idle"
	}
}

// AgentSession is one connected conversation with a real-time voice agent.
type AgentSession interface {
	// Turns delivers transcribed user speech and agent replies. It is closed
	// when the session ends for any reason.
	Turns() <-chan models.Turn
	SendText(ctx context.Context, text string) error
	// SetVolume scales agent audio output, 0 to 1.
	SetVolume(v float64)
	Close() error
}

type AgentDialer interface {
	Dial(ctx context.Context) (AgentSession, error)
}

// LiveTransport manages at most one agent session at a time.
type LiveTransport struct {
	dialer AgentDialer
	logger *zap.Logger

	mu      sync.Mutex
	state   LiveState
	session AgentSession
	muted   bool
	// gen changes on every start and end; a dial only connects if it is
	// still the latest attempt when it returns.
	gen uint64
}

func NewLiveTransport(dialer AgentDialer, logger *zap.Logger) *LiveTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveTransport{dialer: dialer, logger: logger}
}

func (l *LiveTransport) Available() bool {
	return l != nil && l.dialer != nil
}

func (l *LiveTransport) State() LiveState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StartSession connects to the agent and returns a fresh channel of inbound
// turns, closed when the session ends.
func (l *LiveTransport) StartSession(ctx context.Context) (<-chan models.Turn, error) {
	if !l.Available() {
		return nil, ErrLiveUnavailable
	}

	l.mu.Lock()
	switch l.state {
	case LiveConnecting:
		l.mu.Unlock()
		return nil, ErrSessionStarting
	case LiveConnected:
		l.mu.Unlock()
		return nil, ErrSessionActive
	}
	l.state = LiveConnecting
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	sess, err := l.dialer.Dial(ctx)

	l.mu.Lock()
	current := l.gen == gen
	if err != nil {
		if current {
			l.state = LiveIdle
		}
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to start live session: %w", err)
	}
	if !current {
		// EndSession ran while dialing.
		l.mu.Unlock()
		_ = sess.Close()
		return nil, ErrNoLiveSession
	}
	l.state = LiveConnected
	l.session = sess
	if l.muted {
		sess.SetVolume(0)
	}
	out := make(chan models.Turn, 16)
	l.mu.Unlock()

	l.logger.Info("live session connected")
	go l.forward(sess, out)
	return out, nil
}

func (l *LiveTransport) forward(sess AgentSession, out chan<- models.Turn) {
	defer close(out)
	for t := range sess.Turns() {
		out <- t
	}

	l.mu.Lock()
	if l.session == sess {
		l.session = nil
		l.state = LiveIdle
	}
	l.mu.Unlock()
	l.logger.Info("live session ended")
}

// EndSession disconnects. Safe when idle.
func (l *LiveTransport) EndSession() {
	l.mu.Lock()
	sess := l.session
	l.session = nil
	l.state = LiveIdle
	l.gen++
	l.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			l.logger.Debug("failed to close live session", zap.Error(err))
		}
	}
}

func (l *LiveTransport) SendText(ctx context.Context, text string) error {
	l.mu.Lock()
	sess := l.session
	connected := l.state == LiveConnected
	l.mu.Unlock()
	if sess == nil || !connected {
		return ErrNoLiveSession
	}
	return sess.SendText(ctx, text)
}

// SetMuted silences agent audio without ending the session.
func (l *LiveTransport) SetMuted(muted bool) {
	l.mu.Lock()
	l.muted = muted
	sess := l.session
	l.mu.Unlock()
	if sess == nil {
		return
	}
	if muted {
		sess.SetVolume(0)
	} else {
		sess.SetVolume(1)
	}
}

func (l *LiveTransport) Muted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.muted
}
