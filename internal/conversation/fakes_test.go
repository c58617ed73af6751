package conversation

import (
	"context"
	"sync"

	"github.com/RichardoC/nutra/internal/models"
)

type fakeTransport struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	got     [][]models.ChatMessage
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, transcript []models.ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls++
	f.got = append(f.got, transcript)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.reply, f.err
}

type fakeNative struct {
	mu      sync.Mutex
	spoken  []string
	voices  []Voice
	voice   Voice
	rate    float64
	started chan string
	release chan struct{}
}

func (f *fakeNative) Voices(context.Context) ([]Voice, error) {
	return f.voices, nil
}

func (f *fakeNative) Speak(ctx context.Context, text string, voice Voice, rate float64) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.voice = voice
	f.rate = rate
	f.mu.Unlock()
	if f.started != nil {
		f.started <- text
	}
	if f.release == nil {
		return nil
	}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeNative) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakePlayer struct {
	mu     sync.Mutex
	played [][]byte
	err    error
}

func (f *fakePlayer) Play(_ context.Context, audio []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, audio)
	return f.err
}

func (f *fakePlayer) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

type fakeRecognizer struct {
	events chan RecognitionEvent
	err    error
}

func (f *fakeRecognizer) Listen(context.Context) (<-chan RecognitionEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type fakeAgent struct {
	turns chan models.Turn

	mu     sync.Mutex
	sent   []string
	volume float64
	closed bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{turns: make(chan models.Turn, 8), volume: 1}
}

func (a *fakeAgent) Turns() <-chan models.Turn { return a.turns }

func (a *fakeAgent) SendText(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	return nil
}

func (a *fakeAgent) SetVolume(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = v
}

func (a *fakeAgent) Volume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.volume
}

func (a *fakeAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.turns)
	}
	return nil
}

type dialerFunc func(ctx context.Context) (AgentSession, error)

func (f dialerFunc) Dial(ctx context.Context) (AgentSession, error) { return f(ctx) }
