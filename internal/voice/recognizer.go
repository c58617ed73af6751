package voice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardoC/nutra/internal/conversation"
)

// CommandRecognizer runs an external speech-to-text program that prints one
// JSON object per line:
//
//	{"transcript": "what should I", "final": false}
//	{"transcript": "what should I eat", "final": true}
//	{"error": "not-allowed"}
//
// The program is stopped when the listening context ends.
type CommandRecognizer struct {
	args   []string
	logger *zap.Logger
}

var _ conversation.Recognizer = (*CommandRecognizer)(nil)

// NewCommandRecognizer returns nil for an empty command line.
func NewCommandRecognizer(command string, logger *zap.Logger) *CommandRecognizer {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandRecognizer{args: args, logger: logger}
}

type recognitionLine struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
	Error      string `json:"error"`
}

func (r *CommandRecognizer) Listen(ctx context.Context) (<-chan conversation.RecognitionEvent, error) {
	cmd := exec.CommandContext(ctx, r.args[0], r.args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recognizer output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", conversation.ErrRecognitionUnsupported, err)
		}
		return nil, fmt.Errorf("failed to start recognizer: %w", err)
	}

	events := make(chan conversation.RecognitionEvent)
	go func() {
		defer close(events)

		emit := func(ev conversation.RecognitionEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var parsed recognitionLine
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				r.logger.Debug("skipping unparseable recognizer output", zap.String("line", line))
				continue
			}
			ev := conversation.RecognitionEvent{Transcript: parsed.Transcript, Final: parsed.Final}
			if parsed.Error != "" {
				ev = conversation.RecognitionEvent{Err: recognitionError(parsed.Error)}
			}
			if !emit(ev) {
				break
			}
		}

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			emit(conversation.RecognitionEvent{Err: fmt.Errorf("recognizer exited: %w", err)})
		}
	}()
	return events, nil
}

func recognitionError(code string) error {
	switch code {
	case "not-allowed", "service-not-allowed", "audio-capture":
		return fmt.Errorf("%w: %s", conversation.ErrMicrophoneDenied, code)
	default:
		return fmt.Errorf("speech recognition error: %s", code)
	}
}
