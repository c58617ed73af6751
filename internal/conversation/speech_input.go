package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrRecognitionUnsupported = errors.New("speech recognition is not available")
	ErrMicrophoneDenied       = errors.New("microphone access denied")
)

const (
	recognitionNotice = "Speech recognition is not supported here. Set client.recognizer_command to enable voice input."
	microphoneNotice  = "Microphone access was denied. Check your audio device permissions and try again."
)

// RecognitionEvent is one result from a recognizer. Exactly one of
// Transcript or Err is meaningful.
type RecognitionEvent struct {
	Transcript string
	Final      bool
	Err        error
}

// Recognizer streams recognition events until ctx ends or the speaker stops.
// The channel is closed when recognition ends.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan RecognitionEvent, error)
}

type InputState int

const (
	InputIdle InputState = iota
	InputListening
)

func (s InputState) String() string {
	if s == InputListening {
		return "listening"
	}
	return "idle"
}

type SpeechInputCallbacks struct {
	// OnInterim receives non-final fragments for live display only.
	OnInterim func(text string)
	// OnSubmit receives the joined final transcript once per listening
	// session.
	OnSubmit func(text string)
	// OnNotice receives user-facing capability and permission notices.
	OnNotice func(text string)
}

type listenSession struct {
	cancel    context.CancelFunc
	final     []string
	submitted bool
	done      chan struct{}
}

// SpeechInput turns recognizer output into submitted user text.
type SpeechInput struct {
	rec    Recognizer
	cb     SpeechInputCallbacks
	logger *zap.Logger

	mu          sync.Mutex
	state       InputState
	current     *listenSession
	noticeShown bool
}

func NewSpeechInput(rec Recognizer, cb SpeechInputCallbacks, logger *zap.Logger) *SpeechInput {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpeechInput{rec: rec, cb: cb, logger: logger}
}

func (in *SpeechInput) State() InputState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Start begins a listening session. It is a no-op while already listening.
func (in *SpeechInput) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.state == InputListening {
		in.mu.Unlock()
		return nil
	}
	if in.rec == nil {
		in.mu.Unlock()
		in.noticeOnce(recognitionNotice)
		return ErrRecognitionUnsupported
	}

	lctx, cancel := context.WithCancel(ctx)
	events, err := in.rec.Listen(lctx)
	if err != nil {
		in.mu.Unlock()
		cancel()
		switch {
		case errors.Is(err, ErrRecognitionUnsupported):
			in.noticeOnce(recognitionNotice)
		case errors.Is(err, ErrMicrophoneDenied):
			in.notice(microphoneNotice)
		}
		return err
	}

	sess := &listenSession{cancel: cancel, done: make(chan struct{})}
	in.current = sess
	in.state = InputListening
	in.mu.Unlock()

	go in.consume(sess, events)
	return nil
}

// Stop ends the current session and submits what was heard so far.
func (in *SpeechInput) Stop() {
	in.mu.Lock()
	sess := in.current
	in.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancel()
	in.finish(sess, nil)
}

// Cancel ends the current session and discards what was heard.
func (in *SpeechInput) Cancel() {
	in.mu.Lock()
	sess := in.current
	if sess == nil {
		in.mu.Unlock()
		return
	}
	sess.submitted = true
	sess.final = nil
	in.state = InputIdle
	in.mu.Unlock()
	sess.cancel()
}

// Wait blocks until the current session's event stream is drained.
func (in *SpeechInput) Wait() {
	in.mu.Lock()
	sess := in.current
	in.mu.Unlock()
	if sess != nil {
		<-sess.done
	}
}

func (in *SpeechInput) consume(sess *listenSession, events <-chan RecognitionEvent) {
	defer close(sess.done)

	var failure error
	for ev := range events {
		if ev.Err != nil {
			failure = ev.Err
			sess.cancel()
			continue
		}
		if failure != nil {
			continue
		}
		text := strings.TrimSpace(ev.Transcript)
		if text == "" {
			continue
		}
		if !ev.Final {
			if in.cb.OnInterim != nil {
				in.cb.OnInterim(text)
			}
			continue
		}
		in.mu.Lock()
		if !sess.submitted {
			sess.final = append(sess.final, text)
		}
		in.mu.Unlock()
	}
	in.finish(sess, failure)
}

// finish closes out a session. Only the first call per session submits.
func (in *SpeechInput) finish(sess *listenSession, failure error) {
	in.mu.Lock()
	if sess.submitted {
		in.mu.Unlock()
		return
	}
	sess.submitted = true
	if in.current == sess {
		in.state = InputIdle
	}
	text := strings.Join(sess.final, " ")
	in.mu.Unlock()

	if failure != nil {
		in.logger.Debug("speech recognition ended with error", zap.Error(failure))
		if errors.Is(failure, ErrMicrophoneDenied) {
			in.notice(microphoneNotice)
		}
		return
	}
	if text != "" && in.cb.OnSubmit != nil {
		in.cb.OnSubmit(text)
	}
}

func (in *SpeechInput) noticeOnce(msg string) {
	in.mu.Lock()
	shown := in.noticeShown
	in.noticeShown = true
	in.mu.Unlock()
	if !shown {
		in.notice(msg)
	}
}

func (in *SpeechInput) notice(msg string) {
	if in.cb.OnNotice != nil {
		in.cb.OnNotice(msg)
	}
}
