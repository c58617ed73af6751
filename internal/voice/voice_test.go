package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichardoC/nutra/internal/conversation"
)

func TestScalePCM16(t *testing.T) {
	in := pcm16(200, -400)
	assert.Equal(t, pcm16(100, -200), ScalePCM16(in, 0.5))
	assert.Equal(t, pcm16(200, -400), in, "input is not modified")
	assert.Equal(t, pcm16(0, 0), ScalePCM16(pcm16(200, -400), 0))
	assert.Equal(t, pcm16(200, -400), ScalePCM16(pcm16(200, -400), 3), "volume is capped at 1")
	assert.Len(t, ScalePCM16([]byte{1, 2, 3}, 1), 2, "odd trailing byte is dropped")
}

func TestPlayerArgs(t *testing.T) {
	args := playerArgs("audio/mpeg", 80)
	assert.Equal(t, []string{"-nodisp", "-autoexit", "-loglevel", "error", "-volume", "80", "-f", "mp3", "-i", "pipe:0"}, args)
	assert.Contains(t, playerArgs("audio/wav", 100), "wav")
	assert.NotContains(t, playerArgs("application/octet-stream", 100), "-f")
}

func TestMicArgs(t *testing.T) {
	args, err := micArgs("linux", AgentSampleRate)
	require.NoError(t, err)
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-f", "pulse", "-i", "default",
		"-ac", "1", "-ar", "16000", "-f", "s16le", "-"}, args)

	args, err = micArgs("darwin", 8000)
	require.NoError(t, err)
	assert.Contains(t, args, "avfoundation")

	_, err = micArgs("plan9", 8000)
	assert.Error(t, err)
}

func TestParseEspeakVoices(t *testing.T) {
	out := `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  es              --/M      Spanish_(Spain)    roa/es
 5  yo              --/M      Yoruba             nic/yo
`
	voices := parseEspeakVoices(out)
	require.Len(t, voices, 3)
	assert.Equal(t, conversation.Voice{Name: "Spanish_(Spain)", Lang: "es"}, voices[1])

	v, ok := conversation.PickVoice(voices, conversation.DetectLanguage("Ẹ ṣeun"))
	require.True(t, ok)
	assert.Equal(t, "Yoruba", v.Name)
}

func TestParseSayVoices(t *testing.T) {
	out := `Alex                en_US    # Most people recognize me by my voice.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Monica              es_ES    # Hola, me llamo Monica y soy una voz española.
`
	voices := parseSayVoices(out)
	require.Len(t, voices, 3)
	assert.Equal(t, conversation.Voice{Name: "Bad News", Lang: "en-US"}, voices[1])
	assert.Equal(t, "es-ES", voices[2].Lang)
}

func TestSpeakArgs(t *testing.T) {
	espeak := &CommandSpeaker{path: "/usr/bin/espeak-ng"}
	assert.Equal(t, []string{"-v", "es-es", "-s", "157", "--", "Hola"},
		espeak.speakArgs("Hola", conversation.Voice{Name: "Spanish", Lang: "es-ES"}, 0.9))

	say := &CommandSpeaker{path: "/usr/bin/say", say: true}
	assert.Equal(t, []string{"-v", "Monica", "-r", "175", "--", "Hola"},
		say.speakArgs("Hola", conversation.Voice{Name: "Monica", Lang: "es-ES"}, 0))
	assert.Equal(t, "say", say.Name())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	path := filepath.Join(t.TempDir(), "recognize.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func collect(t *testing.T, events <-chan conversation.RecognitionEvent) []conversation.RecognitionEvent {
	t.Helper()
	var got []conversation.RecognitionEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("recognizer did not finish")
		}
	}
}

func TestCommandRecognizerStreamsEvents(t *testing.T) {
	script := writeScript(t, `echo '{"transcript":"what should","final":false}'
echo 'not json'
echo '{"transcript":"what should I eat","final":true}'
`)
	events, err := NewCommandRecognizer(script, nil).Listen(context.Background())
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.False(t, got[0].Final)
	assert.Equal(t, "what should I eat", got[1].Transcript)
	assert.True(t, got[1].Final)
}

func TestCommandRecognizerReportsDeniedMicrophone(t *testing.T) {
	script := writeScript(t, `echo '{"error":"not-allowed"}'
`)
	events, err := NewCommandRecognizer(script, nil).Listen(context.Background())
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.True(t, errors.Is(got[0].Err, conversation.ErrMicrophoneDenied))
}

func TestCommandRecognizerFailingCommand(t *testing.T) {
	script := writeScript(t, "exit 3\n")
	events, err := NewCommandRecognizer(script, nil).Listen(context.Background())
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Error(t, got[0].Err)
}

func TestCommandRecognizerMissingCommand(t *testing.T) {
	assert.Nil(t, NewCommandRecognizer("  ", nil))

	_, err := NewCommandRecognizer("nutra-no-such-recognizer", nil).Listen(context.Background())
	assert.ErrorIs(t, err, conversation.ErrRecognitionUnsupported)
}

func TestCommandRecognizerThroughSpeechInput(t *testing.T) {
	script := writeScript(t, `echo '{"transcript":"beans","final":true}'
echo '{"transcript":"and plantain","final":true}'
`)
	submitted := make(chan string, 1)
	in := conversation.NewSpeechInput(NewCommandRecognizer(script, nil), conversation.SpeechInputCallbacks{
		OnSubmit: func(s string) { submitted <- s },
	}, nil)

	require.NoError(t, in.Start(context.Background()))
	select {
	case s := <-submitted:
		assert.Equal(t, "beans and plantain", s)
	case <-time.After(5 * time.Second):
		t.Fatal("nothing submitted")
	}
}
