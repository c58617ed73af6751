package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/models"
)

var (
	ErrAwaitingReply = errors.New("a reply is already pending")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrTurnNotFound  = errors.New("turn not found")
	ErrChatEnded     = errors.New("chat ended before the reply arrived")
)

type Options struct {
	Transport  TextTransport
	Speech     *SpeechOutput
	Recognizer Recognizer
	Live       *LiveTransport
	AutoPlay   bool
	Logger     *zap.Logger

	// OnTurn is told about every turn added to the conversation, typed,
	// spoken or delivered by the live agent.
	OnTurn func(models.Turn)
	// OnInterim receives partial speech transcripts.
	OnInterim func(string)
	// OnNotice receives capability and permission notices.
	OnNotice func(string)
}

// Orchestrator owns one chat session: its turns, its audio output and its
// transports. Create one per chat and Close it when the chat ends.
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc

	store     *Store
	transport TextTransport
	speech    *SpeechOutput
	input     *SpeechInput
	live      *LiveTransport
	logger    *zap.Logger
	onTurn    func(models.Turn)

	mu          sync.Mutex
	awaiting    bool
	autoPlay    bool
	played      map[string]struct{}
	liveDone    chan struct{}
	cancelReply context.CancelFunc

	// epoch changes when the chat ends. Replies are stored under a read lock
	// and only if their epoch is still current.
	epochMu sync.RWMutex
	epoch   uint64
}

func New(ctx context.Context, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	octx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		ctx:       octx,
		cancel:    cancel,
		store:     NewStore(),
		transport: opts.Transport,
		speech:    opts.Speech,
		live:      opts.Live,
		logger:    logger,
		onTurn:    opts.OnTurn,
		autoPlay:  opts.AutoPlay,
		played:    map[string]struct{}{GreetingID: {}},
	}
	if o.speech == nil {
		o.speech = NewSpeechOutput(nil, nil, nil, 0, logger)
	}
	o.input = NewSpeechInput(opts.Recognizer, SpeechInputCallbacks{
		OnInterim: opts.OnInterim,
		OnNotice:  opts.OnNotice,
		OnSubmit: func(text string) {
			if _, err := o.SendAudio(o.ctx, text); err != nil {
				o.logger.Warn("Failed to send spoken message", zap.Error(err))
			}
		},
	}, logger)
	return o
}

func (o *Orchestrator) Turns() []models.Turn {
	return o.store.Turns()
}

func (o *Orchestrator) IsAwaitingReply() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.awaiting
}

func (o *Orchestrator) IsSpeaking() bool {
	return o.speech.IsSpeaking()
}

// Send appends a typed user turn and obtains the reply. While a live session
// is connected the text goes to the agent instead and the zero turn is
// returned; its reply arrives through OnTurn.
func (o *Orchestrator) Send(ctx context.Context, text string) (models.Turn, error) {
	return o.send(ctx, text, false)
}

// SendAudio is Send for transcribed speech.
func (o *Orchestrator) SendAudio(ctx context.Context, text string) (models.Turn, error) {
	return o.send(ctx, text, true)
}

func (o *Orchestrator) send(ctx context.Context, text string, audio bool) (models.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Turn{}, ErrEmptyMessage
	}

	if o.live != nil && o.live.State() == LiveConnected {
		o.add(models.Turn{Role: models.RoleUser, Content: text, IsAudioOrigin: audio})
		err := o.live.SendText(ctx, text)
		if err == nil {
			return models.Turn{}, nil
		}
		o.logger.Warn("live send failed, falling back to chat endpoint", zap.Error(err))
		return o.requestReply(ctx, audio)
	}

	o.mu.Lock()
	if o.awaiting {
		o.mu.Unlock()
		return models.Turn{}, ErrAwaitingReply
	}
	o.awaiting = true
	o.mu.Unlock()

	o.epochMu.RLock()
	epoch := o.epoch
	o.add(models.Turn{Role: models.RoleUser, Content: text, IsAudioOrigin: audio})
	o.epochMu.RUnlock()
	return o.replyLocked(ctx, epoch, audio)
}

// requestReply asks the text transport for a reply to the stored transcript.
func (o *Orchestrator) requestReply(ctx context.Context, audio bool) (models.Turn, error) {
	o.mu.Lock()
	if o.awaiting {
		o.mu.Unlock()
		return models.Turn{}, ErrAwaitingReply
	}
	o.awaiting = true
	o.mu.Unlock()
	return o.replyLocked(ctx, o.currentEpoch(), audio)
}

func (o *Orchestrator) currentEpoch() uint64 {
	o.epochMu.RLock()
	defer o.epochMu.RUnlock()
	return o.epoch
}

// replyLocked runs with the awaiting flag held and always clears it. The
// reply is dropped if the chat ended while it was pending.
func (o *Orchestrator) replyLocked(ctx context.Context, epoch uint64, audio bool) (models.Turn, error) {
	rctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelReply = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.awaiting = false
		o.cancelReply = nil
		o.mu.Unlock()
		cancel()
	}()

	var content string
	if o.transport == nil {
		content = errorReply(errors.New("no chat transport configured"), audio)
	} else {
		reply, err := o.transport.Send(rctx, o.store.Transcript())
		if err != nil {
			o.logger.Warn("Failed to get reply", zap.Error(err))
			content = errorReply(err, audio)
		} else {
			content = reply
		}
	}

	o.epochMu.RLock()
	defer o.epochMu.RUnlock()
	if o.epoch != epoch {
		return models.Turn{}, ErrChatEnded
	}
	turn := o.add(models.Turn{Role: models.RoleAssistant, Content: content})
	o.maybeAutoPlay(turn)
	return turn, nil
}

func errorReply(err error, audio bool) string {
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("Error from chat API (%d): %s", se.StatusCode, se.Detail)
	}
	if audio {
		return fmt.Sprintf("Sorry, I encountered an error processing your audio: %v. Please try again.", err)
	}
	return fmt.Sprintf("Sorry, I encountered an error: %v. Please try again.", err)
}

func (o *Orchestrator) add(t models.Turn) models.Turn {
	t = o.store.Append(t)
	o.notify(t)
	return t
}

func (o *Orchestrator) notify(t models.Turn) {
	if o.onTurn != nil {
		o.onTurn(t)
	}
}

// maybeAutoPlay speaks each new assistant turn once when auto-play is on.
func (o *Orchestrator) maybeAutoPlay(t models.Turn) {
	if t.Role != models.RoleAssistant {
		return
	}
	o.mu.Lock()
	_, seen := o.played[t.ID]
	o.played[t.ID] = struct{}{}
	enabled := o.autoPlay
	o.mu.Unlock()
	if seen || !enabled {
		return
	}
	o.speech.Play(o.ctx, t.ID, t.Content, PlayAuto)
}

func (o *Orchestrator) SetAutoPlay(enabled bool) {
	o.mu.Lock()
	o.autoPlay = enabled
	o.mu.Unlock()
}

func (o *Orchestrator) AutoPlay() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.autoPlay
}

// ToggleAudio plays the given turn, or stops it if it is the one playing. It
// reports whether playback started.
func (o *Orchestrator) ToggleAudio(turnID string) (bool, error) {
	for _, t := range o.store.Turns() {
		if t.ID == turnID {
			return o.speech.Toggle(o.ctx, t.ID, t.Content), nil
		}
	}
	return false, ErrTurnNotFound
}

func (o *Orchestrator) StopAudio() {
	o.speech.Stop()
}

// WaitAudio blocks until the current playback ends.
func (o *Orchestrator) WaitAudio() {
	o.speech.Wait()
}

func (o *Orchestrator) StartListening() error {
	return o.input.Start(o.ctx)
}

func (o *Orchestrator) StopListening() {
	o.input.Stop()
}

func (o *Orchestrator) ListeningState() InputState {
	return o.input.State()
}

// StartLive connects the live voice agent and merges its turns into the
// conversation until the session ends.
func (o *Orchestrator) StartLive(ctx context.Context) error {
	if o.live == nil {
		return ErrLiveUnavailable
	}
	turns, err := o.live.StartSession(ctx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.liveDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		for t := range turns {
			stored, added := o.store.AddFromExternalSource(t)
			if !added {
				continue
			}
			// The agent speaks its own replies.
			o.mu.Lock()
			o.played[stored.ID] = struct{}{}
			o.mu.Unlock()
			o.notify(stored)
		}
	}()
	return nil
}

// EndLive disconnects the live agent and waits for its last turns to merge.
func (o *Orchestrator) EndLive() {
	if o.live == nil {
		return
	}
	o.live.EndSession()
	o.mu.Lock()
	done := o.liveDone
	o.liveDone = nil
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) LiveState() LiveState {
	if o.live == nil {
		return LiveIdle
	}
	return o.live.State()
}

func (o *Orchestrator) SetMuted(muted bool) {
	if o.live != nil {
		o.live.SetMuted(muted)
	}
}

func (o *Orchestrator) Muted() bool {
	return o.live != nil && o.live.Muted()
}

// EndChat discards pending dictation, ends the live agent, abandons any
// pending reply, stops audio and resets the conversation to the greeting.
// OnTurn must not call it.
func (o *Orchestrator) EndChat() {
	o.input.Cancel()
	o.EndLive()

	o.epochMu.Lock()
	o.epoch++
	o.epochMu.Unlock()

	o.mu.Lock()
	if o.cancelReply != nil {
		o.cancelReply()
	}
	o.mu.Unlock()

	o.speech.Stop()
	o.store.Reset()

	o.mu.Lock()
	o.played = map[string]struct{}{GreetingID: {}}
	o.mu.Unlock()
}

// Close ends the chat and releases background work.
func (o *Orchestrator) Close() {
	o.EndChat()
	o.cancel()
}
