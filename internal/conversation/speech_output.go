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
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHostedUnavailable means the hosted voice cannot serve this request and
// the native engine should speak instead.
var ErrHostedUnavailable = errors.New("hosted speech unavailable")

type PlayMode int

const (
	// PlayAuto never interrupts an utterance in progress.
	PlayAuto PlayMode = iota
	// PlayManual stops whatever is playing and starts the new text.
	PlayManual
)

// Synthesizer fetches encoded audio for text from the hosted voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, contentType string, err error)
}

// AudioPlayer plays encoded audio, blocking until it finishes or ctx ends.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte, contentType string) error
}

// NativeSpeaker is a local speech engine. Speak blocks until the utterance
// finishes or ctx ends.
type NativeSpeaker interface {
	Voices(ctx context.Context) ([]Voice, error)
	Speak(ctx context.Context, text string, voice Voice, rate float64) error
}

// HTTPSynthesizer asks the server's /api/speak endpoint for audio. The silent
// WAV the server sends when it has no voice credential is reported as
// ErrHostedUnavailable.
type HTTPSynthesizer struct {
	endpoint   string
	httpClient *http.Client
	token      TokenFunc
}

func NewHTTPSynthesizer(serverURL string, client *http.Client, token TokenFunc) *HTTPSynthesizer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSynthesizer{
		endpoint:   strings.TrimRight(serverURL, "/") + "/api/speak",
		httpClient: client,
		token:      token,
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != nil {
		if tok := s.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrHostedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%w: status %d", ErrHostedUnavailable, resp.StatusCode)
	}
	ctype := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ctype, "audio/wav") {
		return nil, "", fmt.Errorf("%w: no provider configured", ErrHostedUnavailable)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrHostedUnavailable, err)
	}
	return audio, ctype, nil
}

// SpeechOutput owns the single audio output of a chat session. At most one
// playback goroutine runs at a time.
type SpeechOutput struct {
	synth  Synthesizer
	player AudioPlayer
	native NativeSpeaker
	rate   float64
	logger *zap.Logger

	mu        sync.Mutex
	gen       uint64
	speaking  bool
	activeKey string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSpeechOutput wires the hosted and native backends. Any of them may be
// nil.
func NewSpeechOutput(synth Synthesizer, player AudioPlayer, native NativeSpeaker, rate float64, logger *zap.Logger) *SpeechOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rate <= 0 {
		rate = 0.9
	}
	return &SpeechOutput{synth: synth, player: player, native: native, rate: rate, logger: logger}
}

// Play speaks text under key. It reports whether playback started.
func (o *SpeechOutput) Play(ctx context.Context, key, text string, mode PlayMode) bool {
	clean := SanitizeForSpeech(text)
	if clean == "" {
		return false
	}

	o.mu.Lock()
	for o.speaking {
		if mode == PlayAuto {
			o.mu.Unlock()
			return false
		}
		done := o.stopLocked()
		o.mu.Unlock()
		<-done
		o.mu.Lock()
	}

	o.gen++
	gen := o.gen
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.speaking = true
	o.activeKey = key
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	go o.run(pctx, gen, clean, done)
	return true
}

// Toggle stops key if it is the one speaking, otherwise plays it. It reports
// whether playback started.
func (o *SpeechOutput) Toggle(ctx context.Context, key, text string) bool {
	o.mu.Lock()
	if o.speaking && o.activeKey == key {
		done := o.stopLocked()
		o.mu.Unlock()
		<-done
		return false
	}
	o.mu.Unlock()
	return o.Play(ctx, key, text, PlayManual)
}

// Stop halts any playback and waits for it to wind down. Safe when idle.
func (o *SpeechOutput) Stop() {
	o.mu.Lock()
	done := o.stopLocked()
	o.mu.Unlock()
	<-done
}

func (o *SpeechOutput) IsSpeaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// ActiveKey is the key of the text being spoken, or "".
func (o *SpeechOutput) ActiveKey() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeKey
}

// Wait blocks until the current playback, if any, ends.
func (o *SpeechOutput) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (o *SpeechOutput) stopLocked() chan struct{} {
	if !o.speaking {
		if o.done != nil {
			return o.done
		}
		return closedDone
	}
	o.cancel()
	o.speaking = false
	o.activeKey = ""
	return o.done
}

func (o *SpeechOutput) run(ctx context.Context, gen uint64, text string, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		if o.gen == gen {
			o.speaking = false
			o.activeKey = ""
			o.cancel()
		}
		o.mu.Unlock()
		close(done)
	}()

	if o.playHosted(ctx, text) || ctx.Err() != nil {
		return
	}
	o.playNative(ctx, text)
}

func (o *SpeechOutput) playHosted(ctx context.Context, text string) bool {
	if o.synth == nil || o.player == nil {
		return false
	}
	audio, ctype, err := o.synth.Synthesize(ctx, text)
	if err != nil {
		o.logger.Debug("hosted speech unavailable, using native voice", zap.Error(err))
		return false
	}
	if err := o.player.Play(ctx, audio, ctype); err != nil {
		if ctx.Err() != nil {
			return true
		}
		o.logger.Debug("audio playback failed, using native voice", zap.Error(err))
		return false
	}
	return true
}

func (o *SpeechOutput) playNative(ctx context.Context, text string) {
	if o.native == nil {
		o.logger.Debug("no native speech engine available")
		return
	}
	voices, err := o.native.Voices(ctx)
	if err != nil {
		o.logger.Debug("failed to list native voices", zap.Error(err))
	}
	voice, _ := PickVoice(voices, DetectLanguage(text))
	if voice.Lang == "" {
		voice.Lang = DetectLanguage(text)
	}
	if err := o.native.Speak(ctx, text, voice, o.rate); err != nil && ctx.Err() == nil {
		o.logger.Debug("native speech failed", zap.Error(err))
	}
}
