// Package voice holds the local audio backends used by the chat client:
// ffplay/ffmpeg for playback and capture, a command-line speech engine, a
// command-line recognizer and the ElevenLabs live agent.
package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// AgentSampleRate is the PCM rate exchanged with the live agent.
const AgentSampleRate = 16000

var ErrToolMissing = errors.New("required audio tool is not installed")

// FFPlayPlayer plays encoded audio clips by piping them into ffplay.
type FFPlayPlayer struct {
	path   string
	volume int
}

func NewFFPlayPlayer(volume int) (*FFPlayPlayer, error) {
	path, err := exec.LookPath("ffplay")
	if err != nil {
		return nil, fmt.Errorf("%w: ffplay: %v", ErrToolMissing, err)
	}
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	return &FFPlayPlayer{path: path, volume: volume}, nil
}

// Play blocks until the clip finishes. Cancelling ctx kills ffplay.
func (p *FFPlayPlayer) Play(ctx context.Context, audio []byte, contentType string) error {
	cmd := exec.CommandContext(ctx, p.path, playerArgs(contentType, p.volume)...)
	cmd.Stdin = bytes.NewReader(audio)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to play audio: %w", err)
	}
	return nil
}

func playerArgs(contentType string, volume int) []string {
	args := []string{"-nodisp", "-autoexit", "-loglevel", "error", "-volume", fmt.Sprint(volume)}
	switch {
	case strings.HasPrefix(contentType, "audio/mpeg"):
		args = append(args, "-f", "mp3")
	case strings.HasPrefix(contentType, "audio/wav"):
		args = append(args, "-f", "wav")
	}
	return append(args, "-i", "pipe:0")
}

// PCMSink receives signed 16-bit little-endian mono audio.
type PCMSink interface {
	Write(pcm []byte) error
	Close() error
}

// FFPlayPCMSink streams raw PCM into a long-running ffplay process.
type FFPlayPCMSink struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFPlayPCMSink(sampleRate int) (*FFPlayPCMSink, error) {
	path, err := exec.LookPath("ffplay")
	if err != nil {
		return nil, fmt.Errorf("%w: ffplay: %v", ErrToolMissing, err)
	}
	cmd := exec.Command(path,
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}
	return &FFPlayPCMSink{cmd: cmd, stdin: stdin}, nil
}

func (s *FFPlayPCMSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("ffplay is not running")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

func (s *FFPlayPCMSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	s.cmd = nil
	return nil
}

// ScalePCM16 returns a copy of pcm with every sample multiplied by v.
func ScalePCM16(pcm []byte, v float64) []byte {
	out := make([]byte, len(pcm)&^1)
	if v <= 0 {
		return out
	}
	if v > 1 {
		v = 1
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(float64(s)*v)))
	}
	return out
}

type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// OpenMicrophone captures the default input device as mono s16le PCM.
func OpenMicrophone(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrToolMissing, err)
	}
	args, err := micArgs(runtime.GOOS, sampleRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start microphone capture: %w", err)
	}
	return &ffmpegMic{cmd: cmd, stdout: stdout}, nil
}

func micArgs(goos string, sampleRate int) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s", goos)
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	return append(args, "-ac", "1", "-ar", fmt.Sprint(sampleRate), "-f", "s16le", "-"), nil
}

func (m *ffmpegMic) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *ffmpegMic) Close() error {
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}
