package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/nutra/internal/models"
)

func TestBreakfastScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Try oats with fruit."))
	}))
	defer srv.Close()

	o := New(context.Background(), Options{Transport: NewHTTPTransport(srv.URL, srv.Client(), nil)})
	defer o.Close()

	reply, err := o.Send(context.Background(), "What should I eat for breakfast?")
	require.NoError(t, err)
	assert.Equal(t, "Try oats with fruit.", reply.Content)

	turns := o.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, GreetingID, turns[0].ID)
	assert.Equal(t, models.RoleUser, turns[1].Role)
	assert.Equal(t, "What should I eat for breakfast?", turns[1].Content)
	assert.Equal(t, models.RoleAssistant, turns[2].Role)
	assert.Equal(t, "Try oats with fruit.", turns[2].Content)
}

func TestSendUpstreamFailureBecomesOneAssistantTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Chat completion request failed: upstream exploded"}`))
	}))
	defer srv.Close()

	o := New(context.Background(), Options{Transport: NewHTTPTransport(srv.URL, srv.Client(), nil)})
	defer o.Close()

	turn, err := o.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Contains(t, turn.Content, "Error from chat API (500)")
	assert.Contains(t, turn.Content, "upstream exploded")
	assert.Len(t, o.Turns(), 3)
	assert.False(t, o.IsAwaitingReply())
}

func TestSendNetworkFailure(t *testing.T) {
	o := New(context.Background(), Options{Transport: &fakeTransport{err: errors.New("connection refused")}})
	defer o.Close()

	turn, err := o.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I encountered an error: connection refused. Please try again.", turn.Content)

	turn, err = o.SendAudio(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Contains(t, turn.Content, "processing your audio")

	turns := o.Turns()
	assert.True(t, turns[3].IsAudioOrigin)
}

func TestSendsAlternateAndKeepOrder(t *testing.T) {
	tr := &fakeTransport{reply: "ok"}
	o := New(context.Background(), Options{Transport: tr})
	defer o.Close()

	inputs := []string{"one", "two", "three", "four"}
	for _, in := range inputs {
		_, err := o.Send(context.Background(), in)
		require.NoError(t, err)
	}

	turns := o.Turns()
	require.Len(t, turns, 1+2*len(inputs))
	for i, in := range inputs {
		user, asst := turns[1+2*i], turns[2+2*i]
		assert.Equal(t, models.RoleUser, user.Role)
		assert.Equal(t, in, user.Content)
		assert.Equal(t, models.RoleAssistant, asst.Role)
		assert.Less(t, user.Seq, asst.Seq)
	}

	// Each request carries the full transcript including the new user turn.
	require.Len(t, tr.got, len(inputs))
	last := tr.got[len(inputs)-1]
	assert.Len(t, last, 1+2*len(inputs)-1)
	assert.Equal(t, "four", last[len(last)-1].Content)
}

func TestSendRejectsEmptyAndOverlapping(t *testing.T) {
	tr := &fakeTransport{reply: "slow reply", entered: make(chan struct{}), release: make(chan struct{})}
	o := New(context.Background(), Options{Transport: tr})
	defer o.Close()

	_, err := o.Send(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Send(context.Background(), "first")
		assert.NoError(t, err)
	}()
	<-tr.entered
	assert.True(t, o.IsAwaitingReply())

	_, err = o.Send(context.Background(), "second")
	require.ErrorIs(t, err, ErrAwaitingReply)

	close(tr.release)
	wg.Wait()
	assert.False(t, o.IsAwaitingReply())
	assert.Len(t, o.Turns(), 3)
}

func TestAutoPlaysEachReplyOnce(t *testing.T) {
	native := &fakeNative{}
	speech := NewSpeechOutput(nil, nil, native, 0.9, nil)
	o := New(context.Background(), Options{Transport: &fakeTransport{reply: "Have some **beans**."}, Speech: speech, AutoPlay: true})
	defer o.Close()

	_, err := o.Send(context.Background(), "protein?")
	require.NoError(t, err)
	o.WaitAudio()
	assert.Equal(t, []string{"Have some beans."}, native.Spoken())

	o.SetAutoPlay(false)
	_, err = o.Send(context.Background(), "more?")
	require.NoError(t, err)
	o.WaitAudio()
	assert.Len(t, native.Spoken(), 1)
}

func TestToggleAudioByTurn(t *testing.T) {
	native := &fakeNative{started: make(chan string, 4), release: make(chan struct{})}
	o := New(context.Background(), Options{Transport: &fakeTransport{reply: "Eat yams."}, Speech: NewSpeechOutput(nil, nil, native, 0, nil)})
	defer o.Close()

	reply, err := o.Send(context.Background(), "carbs?")
	require.NoError(t, err)

	started, err := o.ToggleAudio(reply.ID)
	require.NoError(t, err)
	assert.True(t, started)
	<-native.started
	assert.True(t, o.IsSpeaking())

	started, err = o.ToggleAudio(reply.ID)
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, o.IsSpeaking())

	_, err = o.ToggleAudio("missing")
	assert.ErrorIs(t, err, ErrTurnNotFound)
}

func TestSpeechInputSubmitsThroughOrchestrator(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent)}
	tr := &fakeTransport{reply: "Sounds good."}
	var mu sync.Mutex
	var seen []models.Turn
	o := New(context.Background(), Options{
		Transport:  tr,
		Recognizer: rec,
		OnTurn: func(t models.Turn) {
			mu.Lock()
			seen = append(seen, t)
			mu.Unlock()
		},
	})
	defer o.Close()

	require.NoError(t, o.StartListening())
	assert.Equal(t, InputListening, o.ListeningState())
	rec.events <- RecognitionEvent{Transcript: "rice and beans", Final: true}
	close(rec.events)

	require.Eventually(t, func() bool { return len(o.Turns()) == 3 }, time.Second, 5*time.Millisecond)
	turns := o.Turns()
	assert.True(t, turns[1].IsAudioOrigin)
	assert.Equal(t, "rice and beans", turns[1].Content)
	assert.Equal(t, InputIdle, o.ListeningState())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestLiveSessionRoutesAndMergesTurns(t *testing.T) {
	agent := newFakeAgent()
	live := NewLiveTransport(dialerFunc(func(context.Context) (AgentSession, error) { return agent, nil }), nil)
	tr := &fakeTransport{reply: "should not be used"}
	o := New(context.Background(), Options{Transport: tr, Live: live, AutoPlay: true, Speech: NewSpeechOutput(nil, nil, &fakeNative{}, 0, nil)})
	defer o.Close()

	require.NoError(t, o.StartLive(context.Background()))
	assert.Equal(t, LiveConnected, o.LiveState())

	turn, err := o.Send(context.Background(), "Is garri healthy?")
	require.NoError(t, err)
	assert.Empty(t, turn.ID)
	assert.Equal(t, []string{"Is garri healthy?"}, agent.sent)
	assert.Zero(t, tr.calls)

	agent.turns <- models.Turn{Role: models.RoleUser, Content: "Is garri healthy?"}
	agent.turns <- models.Turn{ID: "agent-1", Role: models.RoleAssistant, Content: "In moderation, yes."}
	agent.turns <- models.Turn{ID: "agent-1", Role: models.RoleAssistant, Content: "In moderation, yes."}

	o.SetMuted(true)
	assert.True(t, o.Muted())
	assert.Equal(t, 0.0, agent.Volume())
	o.SetMuted(false)
	assert.Equal(t, 1.0, agent.Volume())

	o.EndLive()
	assert.Equal(t, LiveIdle, o.LiveState())

	turns := o.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "agent-1", turns[2].ID)
	assert.False(t, o.IsSpeaking(), "agent replies are voiced by the agent")
}

func TestEndChatResets(t *testing.T) {
	agent := newFakeAgent()
	live := NewLiveTransport(dialerFunc(func(context.Context) (AgentSession, error) { return agent, nil }), nil)
	o := New(context.Background(), Options{Transport: &fakeTransport{reply: "ok"}, Live: live})
	defer o.Close()

	_, err := o.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, o.StartLive(context.Background()))

	o.EndChat()
	assert.Len(t, o.Turns(), 1)
	assert.Equal(t, LiveIdle, o.LiveState())
	assert.False(t, o.IsSpeaking())
}

func TestEndChatDiscardsPendingDictation(t *testing.T) {
	rec := &fakeRecognizer{events: make(chan RecognitionEvent)}
	tr := &fakeTransport{reply: "Try moi moi."}
	native := &fakeNative{started: make(chan string, 1), release: make(chan struct{})}
	o := New(context.Background(), Options{
		Transport:  tr,
		Recognizer: rec,
		Speech:     NewSpeechOutput(nil, nil, native, 0, nil),
		AutoPlay:   true,
	})
	defer o.Close()

	require.NoError(t, o.StartListening())
	rec.events <- RecognitionEvent{Transcript: "what about beans", Final: true}

	o.EndChat()
	close(rec.events)
	o.input.Wait()

	tr.mu.Lock()
	calls := tr.calls
	tr.mu.Unlock()
	assert.Zero(t, calls)
	assert.False(t, o.IsSpeaking())
	assert.Empty(t, native.Spoken())
	assert.Len(t, o.Turns(), 1)
	assert.Equal(t, InputIdle, o.ListeningState())
}

func TestEndChatDropsReplyStillInFlight(t *testing.T) {
	tr := &fakeTransport{reply: "Late answer.", entered: make(chan struct{}, 1), release: make(chan struct{})}
	native := &fakeNative{}
	o := New(context.Background(), Options{Transport: tr, Speech: NewSpeechOutput(nil, nil, native, 0, nil), AutoPlay: true})
	defer o.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := o.Send(context.Background(), "is ogbono good?")
		errc <- err
	}()
	<-tr.entered

	o.EndChat()
	close(tr.release)

	assert.ErrorIs(t, <-errc, ErrChatEnded)
	o.WaitAudio()
	turns := o.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, GreetingID, turns[0].ID)
	assert.False(t, o.IsSpeaking())
	assert.Empty(t, native.Spoken())
	assert.False(t, o.IsAwaitingReply())

	_, err := o.Send(context.Background(), "hello again")
	require.NoError(t, err)
	assert.Len(t, o.Turns(), 3)
}
