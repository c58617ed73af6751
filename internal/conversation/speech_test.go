package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/nutra/internal/tts"
)

func TestSanitizeForSpeech(t *testing.T) {
	in := "## Breakfast\n\n**Oats** with _fruit_ and [berries](https://example.com/berries).\n\n---\n\n![a bowl of pap](pap.png) and `code`\n\n<div>hidden</div>\n"
	assert.Equal(t, "Breakfast Oats with fruit and berries. a bowl of pap and code", SanitizeForSpeech(in))
	assert.Equal(t, "", SanitizeForSpeech("   \n "))
}

func TestSanitizeCapsOnWordBoundary(t *testing.T) {
	out := SanitizeForSpeech(strings.Repeat("plantain ", 200))
	assert.LessOrEqual(t, len([]rune(out)), MaxSpeechRunes)
	assert.True(t, strings.HasSuffix(out, "plantain"))
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]string{
		"¡Hola! ¿Qué tal?":        "es-ES",
		"Ça va très bien":         "fr-FR",
		"Grüße aus Berlin":        "de-DE",
		"Olá, irmão":              "pt-PT",
		"Ẹ ṣeun":                  "yo-NG",
		"Drink more water today.": "en-US",
	}
	for in, want := range tests {
		assert.Equal(t, want, DetectLanguage(in), in)
	}
}

func TestPickVoice(t *testing.T) {
	voices := []Voice{{Name: "Samantha", Lang: "en-US"}, {Name: "Monica", Lang: "es-ES"}}

	v, ok := PickVoice(voices, "es-MX")
	require.True(t, ok)
	assert.Equal(t, "Monica", v.Name)

	v, ok = PickVoice(voices, "yo-NG")
	require.True(t, ok)
	assert.Equal(t, "Samantha", v.Name)

	_, ok = PickVoice(nil, "en-US")
	assert.False(t, ok)
}

func TestAutoPlayDoesNotInterrupt(t *testing.T) {
	native := &fakeNative{started: make(chan string, 4), release: make(chan struct{})}
	out := NewSpeechOutput(nil, nil, native, 0.9, nil)

	require.True(t, out.Play(context.Background(), "a", "first reply", PlayManual))
	<-native.started

	assert.False(t, out.Play(context.Background(), "b", "second reply", PlayAuto))
	assert.True(t, out.IsSpeaking())
	assert.Equal(t, "a", out.ActiveKey())

	close(native.release)
	out.Wait()
	assert.False(t, out.IsSpeaking())
	assert.Equal(t, []string{"first reply"}, native.Spoken())
}

func TestManualToggleStopsSameKeyAndSupersedesOthers(t *testing.T) {
	native := &fakeNative{started: make(chan string, 4), release: make(chan struct{})}
	out := NewSpeechOutput(nil, nil, native, 0.9, nil)
	ctx := context.Background()

	require.True(t, out.Toggle(ctx, "a", "first reply"))
	<-native.started

	assert.False(t, out.Toggle(ctx, "a", "first reply"))
	assert.False(t, out.IsSpeaking())

	require.True(t, out.Toggle(ctx, "a", "first reply"))
	<-native.started
	require.True(t, out.Toggle(ctx, "b", "second reply"))
	assert.Equal(t, "second reply", <-native.started)
	assert.Equal(t, "b", out.ActiveKey())

	out.Stop()
	assert.False(t, out.IsSpeaking())
	out.Stop()
}

func TestNativeVoiceFollowsLanguage(t *testing.T) {
	native := &fakeNative{voices: []Voice{{Name: "Alex", Lang: "en-US"}, {Name: "Jorge", Lang: "es-ES"}}}
	out := NewSpeechOutput(nil, nil, native, 0.9, nil)

	out.Play(context.Background(), "k", "¡Buenos días!", PlayAuto)
	out.Wait()

	native.mu.Lock()
	defer native.mu.Unlock()
	assert.Equal(t, "Jorge", native.voice.Name)
	assert.InDelta(t, 0.9, native.rate, 1e-9)
}

func TestFallsBackToNativeWithoutHostedVoice(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(tts.SilentWAV(8000, 100*time.Millisecond))
	}))
	defer srv.Close()

	player := &fakePlayer{}
	native := &fakeNative{}
	out := NewSpeechOutput(NewHTTPSynthesizer(srv.URL, srv.Client(), nil), player, native, 0.9, nil)

	assert.True(t, out.Play(context.Background(), "k", "hello", PlayAuto))
	out.Wait()

	assert.Zero(t, player.Count())
	assert.Equal(t, []string{"hello"}, native.Spoken())
	mu.Lock()
	assert.Equal(t, 1, requests)
	mu.Unlock()
}

func TestHostedVoicePlaysMPEG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	player := &fakePlayer{}
	native := &fakeNative{}
	out := NewSpeechOutput(NewHTTPSynthesizer(srv.URL, srv.Client(), nil), player, native, 0.9, nil)

	out.Play(context.Background(), "k", "hello", PlayAuto)
	out.Wait()
	assert.Equal(t, 1, player.Count())
	assert.Empty(t, native.Spoken())
}

func TestHostedProviderErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "TTS provider error", http.StatusBadGateway)
	}))
	defer srv.Close()

	native := &fakeNative{}
	out := NewSpeechOutput(NewHTTPSynthesizer(srv.URL, srv.Client(), nil), &fakePlayer{}, native, 0.9, nil)
	out.Play(context.Background(), "k", "hello", PlayAuto)
	out.Wait()
	assert.Equal(t, []string{"hello"}, native.Spoken())

	_, _, err := NewHTTPSynthesizer(srv.URL, srv.Client(), nil).Synthesize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrHostedUnavailable)
}

func TestSpeechInputJoinsFinalFragments(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent)}
	var interim, submitted []string
	var mu sync.Mutex
	in := NewSpeechInput(rec, SpeechInputCallbacks{
		OnInterim: func(s string) { mu.Lock(); interim = append(interim, s); mu.Unlock() },
		OnSubmit:  func(s string) { mu.Lock(); submitted = append(submitted, s); mu.Unlock() },
	}, nil)

	require.NoError(t, in.Start(context.Background()))
	require.NoError(t, in.Start(context.Background()), "start while listening is a no-op")
	rec.events <- RecognitionEvent{Transcript: "what"}
	rec.events <- RecognitionEvent{Transcript: "what should", Final: true}
	rec.events <- RecognitionEvent{Transcript: "I eat", Final: true}
	close(rec.events)
	in.Wait()
	in.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"what"}, interim)
	assert.Equal(t, []string{"what should I eat"}, submitted)
	assert.Equal(t, InputIdle, in.State())
}

func TestSpeechInputStopSubmitsOnce(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent)}
	var mu sync.Mutex
	var submitted []string
	in := NewSpeechInput(rec, SpeechInputCallbacks{
		OnSubmit: func(s string) { mu.Lock(); submitted = append(submitted, s); mu.Unlock() },
	}, nil)

	require.NoError(t, in.Start(context.Background()))
	rec.events <- RecognitionEvent{Transcript: "jollof rice", Final: true}
	rec.events <- RecognitionEvent{Transcript: "uh"}
	in.Stop()
	close(rec.events)
	in.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"jollof rice"}, submitted)
}

func TestSpeechInputErrorDoesNotSubmit(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent, 4)}
	var notices, submitted []string
	in := NewSpeechInput(rec, SpeechInputCallbacks{
		OnSubmit: func(s string) { submitted = append(submitted, s) },
		OnNotice: func(s string) { notices = append(notices, s) },
	}, nil)

	require.NoError(t, in.Start(context.Background()))
	rec.events <- RecognitionEvent{Transcript: "hello", Final: true}
	rec.events <- RecognitionEvent{Err: ErrMicrophoneDenied}
	close(rec.events)
	in.Wait()

	assert.Empty(t, submitted)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0], "Microphone")
	assert.Equal(t, InputIdle, in.State())
}

func TestSpeechInputWithoutRecognizerWarnsOnce(t *testing.T) {
	var notices []string
	in := NewSpeechInput(nil, SpeechInputCallbacks{OnNotice: func(s string) { notices = append(notices, s) }}, nil)

	err := in.Start(context.Background())
	assert.True(t, errors.Is(err, ErrRecognitionUnsupported))
	err = in.Start(context.Background())
	assert.True(t, errors.Is(err, ErrRecognitionUnsupported))

	assert.Len(t, notices, 1)
	assert.Equal(t, InputIdle, in.State())
}

func TestSpeechInputCancelDiscards(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent)}
	var mu sync.Mutex
	var submitted []string
	in := NewSpeechInput(rec, SpeechInputCallbacks{
		OnSubmit: func(s string) { mu.Lock(); submitted = append(submitted, s); mu.Unlock() },
	}, nil)

	require.NoError(t, in.Start(context.Background()))
	rec.events <- RecognitionEvent{Transcript: "fried plantain", Final: true}
	in.Cancel()
	assert.Equal(t, InputIdle, in.State())
	in.Stop()
	close(rec.events)
	in.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, submitted)
}
