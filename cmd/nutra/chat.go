package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/RichardoC/nutra/internal/config"
	"github.com/RichardoC/nutra/internal/conversation"
	"github.com/RichardoC/nutra/internal/models"
	"github.com/RichardoC/nutra/internal/voice"
)

const chatHelp = `Commands:
  /play <n>   play or stop the audio for message n
  /stop       stop playback
  /autoplay   toggle speaking each new reply
  /listen     start or stop dictation
  /live       start or end a live voice session
  /mute       mute or unmute the live agent
  /end        end the chat and start over
  /logout     sign out and quit
  /quit       quit`

func newChatCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Nora from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd.Flags(), map[string]string{
				"client.server_url":         "server",
				"client.auto_play":          "auto-play",
				"client.agent_id":           "agent-id",
				"client.recognizer_command": "recognizer",
			})
			if err != nil {
				return err
			}

			logger, err := newChatLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("server", "http://localhost:8100", "Nutra server URL")
	cmd.Flags().Bool("auto-play", false, "Speak each new reply")
	cmd.Flags().String("agent-id", "", "ElevenLabs agent id for live voice sessions")
	cmd.Flags().String("recognizer", "", "Speech-to-text command printing JSON lines")
	return cmd
}

// newChatLogger keeps the terminal quiet unless debugging.
func newChatLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	return zcfg.Build()
}

func runChat(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	stdin := bufio.NewReader(os.Stdin)

	identity := conversation.NewServerIdentity(cfg.Client.ServerURL, cfg.Client.SessionFile, nil)
	sess, err := conversation.NewSessionGate(identity).Check(ctx)
	if errors.Is(err, conversation.ErrNoSession) {
		sess, err = promptLogin(ctx, identity, stdin)
	}
	if err != nil {
		return err
	}
	lines := readLines(stdin)
	fmt.Printf("Signed in as %s\n\n", color.CyanString(sess.User.Email))

	ui := &chatUI{out: os.Stdout}
	o := conversation.New(ctx, conversation.Options{
		Transport:  conversation.NewHTTPTransport(cfg.Client.ServerURL, nil, identity.AccessToken),
		Speech:     newSpeechOutput(cfg, identity, logger),
		Recognizer: newRecognizer(cfg, logger),
		Live:       newLiveTransport(cfg, logger),
		AutoPlay:   cfg.Client.AutoPlay,
		Logger:     logger.Named("conversation"),
		OnTurn:     ui.turn,
		OnInterim:  ui.interim,
		OnNotice:   ui.notice,
	})
	defer o.Close()

	for _, t := range o.Turns() {
		ui.turn(t)
	}
	ui.hint("Type a message, or /help for commands.")

	for {
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if _, err := o.Send(ctx, line); err != nil {
				ui.notice(sendNotice(err))
			}
			continue
		}

		quit, err := runCommand(ctx, o, identity, ui, line)
		if err != nil {
			ui.notice(err.Error())
		}
		if quit {
			return nil
		}
	}
}

func runCommand(ctx context.Context, o *conversation.Orchestrator, identity *conversation.ServerIdentity, ui *chatUI, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		ui.hint(chatHelp)
	case "/quit", "/exit":
		return true, nil
	case "/logout":
		o.EndChat()
		if err := identity.Logout(ctx); err != nil {
			return true, err
		}
		ui.hint("Signed out.")
		return true, nil
	case "/end":
		o.EndChat()
		ui.hint("Chat ended.")
		for _, t := range o.Turns() {
			ui.turn(t)
		}
	case "/play":
		if len(fields) != 2 {
			return false, errors.New("usage: /play <n>")
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("not a message number: %s", fields[1])
		}
		for _, t := range o.Turns() {
			if t.Seq == n {
				started, err := o.ToggleAudio(t.ID)
				if err == nil && !started {
					ui.hint("Stopped.")
				}
				return false, err
			}
		}
		return false, conversation.ErrTurnNotFound
	case "/stop":
		o.StopAudio()
	case "/autoplay":
		o.SetAutoPlay(!o.AutoPlay())
		ui.hint(fmt.Sprintf("Auto-play %s.", onOff(o.AutoPlay())))
	case "/listen":
		if o.ListeningState() == conversation.InputListening {
			o.StopListening()
			return false, nil
		}
		if err := o.StartListening(); err != nil {
			return false, err
		}
		ui.hint("Listening. Type /listen again to send.")
	case "/live":
		if o.LiveState() != conversation.LiveIdle {
			o.EndLive()
			ui.hint("Live session ended.")
			return false, nil
		}
		ui.hint("Connecting...")
		if err := o.StartLive(ctx); err != nil {
			return false, err
		}
		ui.hint("Live session connected. Speak, or type to send text to the agent.")
	case "/mute":
		o.SetMuted(!o.Muted())
		if o.Muted() {
			ui.hint("Agent audio muted.")
		} else {
			ui.hint("Agent audio unmuted.")
		}
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func sendNotice(err error) string {
	switch {
	case errors.Is(err, conversation.ErrAwaitingReply):
		return "Nora is still answering, wait a moment."
	case errors.Is(err, conversation.ErrNoLiveSession):
		return "The live session has ended."
	default:
		return err.Error()
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// The voice backends are optional; each is left out of its interface when the
// tool it needs is missing.

func newSpeechOutput(cfg config.Config, identity *conversation.ServerIdentity, logger *zap.Logger) *conversation.SpeechOutput {
	var player conversation.AudioPlayer
	if p, err := voice.NewFFPlayPlayer(cfg.Client.PlayerVolume); err == nil {
		player = p
	} else {
		logger.Debug("hosted voice playback disabled", zap.Error(err))
	}

	var native conversation.NativeSpeaker
	if s, err := voice.NewCommandSpeaker(); err == nil {
		native = s
	} else {
		logger.Debug("native voice disabled", zap.Error(err))
	}

	synth := conversation.NewHTTPSynthesizer(cfg.Client.ServerURL, nil, identity.AccessToken)
	return conversation.NewSpeechOutput(synth, player, native, cfg.Client.SpeechRate, logger.Named("speech"))
}

func newRecognizer(cfg config.Config, logger *zap.Logger) conversation.Recognizer {
	if r := voice.NewCommandRecognizer(cfg.Client.RecognizerCommand, logger.Named("recognizer")); r != nil {
		return r
	}
	return nil
}

func newLiveTransport(cfg config.Config, logger *zap.Logger) *conversation.LiveTransport {
	if cfg.Client.AgentID == "" {
		return nil
	}
	agent := voice.NewElevenLabsAgent(voice.AgentConfig{
		AgentID: cfg.Client.AgentID,
		APIKey:  cfg.Client.AgentAPIKey,
		Output: func() (voice.PCMSink, error) {
			return voice.NewFFPlayPCMSink(voice.AgentSampleRate)
		},
		Input: func(ctx context.Context) (io.ReadCloser, error) {
			return voice.OpenMicrophone(ctx, voice.AgentSampleRate)
		},
	}, logger.Named("agent"))
	return conversation.NewLiveTransport(agent, logger.Named("live"))
}

func promptLogin(ctx context.Context, identity *conversation.ServerIdentity, stdin *bufio.Reader) (*models.Session, error) {
	fmt.Println("Sign in to chat with Nora.")
	fmt.Print("Email: ")
	email, err := stdin.ReadString('\n')
	if err != nil && email == "" {
		return nil, conversation.ErrNoSession
	}
	email = strings.TrimSpace(email)

	fmt.Print("Password: ")
	var password string
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return nil, conversation.ErrNoSession
		}
		password = strings.TrimRight(line, "\r\n")
	}

	sess, err := identity.Login(ctx, email, password)
	if err != nil {
		var se *conversation.StatusError
		if errors.As(err, &se) && se.Detail != "" {
			return nil, errors.New(se.Detail)
		}
		return nil, err
	}
	return sess, nil
}

// readLines feeds stdin to the prompt loop so it can also watch for
// cancellation.
func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

type chatUI struct {
	mu  sync.Mutex
	out io.Writer
}

var (
	noraLabel   = color.New(color.FgCyan, color.Bold).SprintFunc()
	userLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	noticeColor = color.New(color.FgYellow).SprintFunc()
	hintColor   = color.New(color.Faint).SprintFunc()
)

func (u *chatUI) turn(t models.Turn) {
	// Typed messages are already on screen.
	if t.Role == models.RoleUser && !t.IsAudioOrigin {
		return
	}
	label := noraLabel("Nora")
	if t.Role == models.RoleUser {
		label = userLabel("You (spoken)")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "%s %s %s\n\n", hintColor(fmt.Sprintf("[%d]", t.Seq)), label, t.Content)
}

func (u *chatUI) interim(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "%s\n", hintColor("... "+text))
}

func (u *chatUI) notice(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, noticeColor(msg))
}

func (u *chatUI) hint(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, hintColor(msg))
}
