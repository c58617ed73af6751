package voice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/RichardoC/nutra/internal/conversation"
)

// baseWordsPerMinute is the default rate of both espeak-ng and say.
const baseWordsPerMinute = 175

var ErrNoSpeechEngine = errors.New("no speech engine found (install espeak-ng, or use macOS say)")

// CommandSpeaker drives espeak-ng, espeak or macOS say.
type CommandSpeaker struct {
	path string
	say  bool
}

var _ conversation.NativeSpeaker = (*CommandSpeaker)(nil)

func NewCommandSpeaker() (*CommandSpeaker, error) {
	for _, name := range []string{"espeak-ng", "espeak", "say"} {
		if path, err := exec.LookPath(name); err == nil {
			return &CommandSpeaker{path: path, say: name == "say"}, nil
		}
	}
	return nil, ErrNoSpeechEngine
}

func (s *CommandSpeaker) Name() string { return filepath.Base(s.path) }

func (s *CommandSpeaker) Voices(ctx context.Context) ([]conversation.Voice, error) {
	arg := "--voices"
	if s.say {
		arg = "-v?"
	}
	out, err := exec.CommandContext(ctx, s.path, arg).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	if s.say {
		return parseSayVoices(string(out)), nil
	}
	return parseEspeakVoices(string(out)), nil
}

// Speak blocks until the utterance ends. Cancelling ctx kills the engine.
func (s *CommandSpeaker) Speak(ctx context.Context, text string, voice conversation.Voice, rate float64) error {
	cmd := exec.CommandContext(ctx, s.path, s.speakArgs(text, voice, rate)...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to speak: %w", err)
	}
	return nil
}

func (s *CommandSpeaker) speakArgs(text string, voice conversation.Voice, rate float64) []string {
	if rate <= 0 {
		rate = 1
	}
	wpm := fmt.Sprint(int(baseWordsPerMinute * rate))
	var args []string
	if s.say {
		if voice.Name != "" {
			args = append(args, "-v", voice.Name)
		}
		args = append(args, "-r", wpm)
	} else {
		if voice.Lang != "" {
			args = append(args, "-v", strings.ToLower(voice.Lang))
		}
		args = append(args, "-s", wpm)
	}
	return append(args, "--", text)
}

// parseEspeakVoices reads the table printed by espeak-ng --voices:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  es              --/M      Spanish_(Spain)    roa/es
func parseEspeakVoices(out string) []conversation.Voice {
	var voices []conversation.Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, conversation.Voice{Name: fields[3], Lang: fields[1]})
	}
	return voices
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}_[A-Za-z0-9]+)\s+#`)

// parseSayVoices reads the list printed by say -v '?':
//
//	Monica              es_ES    # Hola, me llamo Monica.
func parseSayVoices(out string) []conversation.Voice {
	var voices []conversation.Voice
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := sayVoiceLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		voices = append(voices, conversation.Voice{
			Name: strings.TrimSpace(m[1]),
			Lang: strings.ReplaceAll(m[2], "_", "-"),
		})
	}
	return voices
}
