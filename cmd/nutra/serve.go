package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/nutra/internal/api"
	"github.com/RichardoC/nutra/internal/auth"
	"github.com/RichardoC/nutra/internal/config"
	"github.com/RichardoC/nutra/internal/db"
	"github.com/RichardoC/nutra/internal/llm"
	"github.com/RichardoC/nutra/internal/tts"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server and chat API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd.Flags(), map[string]string{
				"addr":            "addr",
				"web_dir":         "web-dir",
				"contact.backend": "contact-backend",
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("addr", ":8100", "Listen address")
	cmd.Flags().String("web-dir", "web", "Directory holding the static pages")
	cmd.Flags().String("contact-backend", config.ContactBackendSupabase, "Where contact messages are stored (supabase or sqlite)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	contacts, closeContacts, err := openContactStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize contact store: %w", err)
	}
	defer closeContacts()

	llmService, err := llm.New(llm.Options{
		APIURL:      cfg.Chat.APIURL,
		Token:       cfg.Chat.Token,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
		Timeout:     cfg.Chat.Timeout,
	}, logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	speech := tts.NewElevenLabs(cfg.TTS.APIKey, cfg.TTS.BaseURL, &http.Client{Timeout: cfg.TTS.Timeout})
	if !speech.Configured() {
		logger.Warn("TTS key missing, /api/speak will return silence and clients will use their native voice")
	}

	var (
		provider auth.Provider
		verifier *auth.TokenVerifier
		resolver *auth.Resolver
	)
	if cfg.Supabase.Configured() {
		gotrue, err := auth.NewGoTrue(cfg.Supabase.URL, cfg.Supabase.AnonKey, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			return fmt.Errorf("failed to initialize auth provider: %w", err)
		}
		provider = gotrue
	}
	if provider != nil || cfg.Supabase.JWTSecret != "" {
		verifier = auth.NewTokenVerifier(cfg.Supabase.JWTSecret, provider)
		resolver = auth.NewResolver(verifier, provider, logger.Named("auth"))
	} else {
		logger.Warn("no identity provider configured, every request is anonymous")
	}

	handler := api.NewHandler(api.Options{
		LLM:      llmService,
		TTS:      speech,
		VoiceID:  cfg.TTS.VoiceID,
		Contacts: contacts,
		Auth:     provider,
		Verifier: verifier,
		WebDir:   cfg.WebDir,
		AuthCfg:  cfg.Auth,
	}, logger.Named("api"))

	routes := handler.Routes(resolver, cfg.MaxBodyBytes)
	if cfg.HandlerTimeout > 0 {
		routes = http.TimeoutHandler(routes, cfg.HandlerTimeout, "request timed out")
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           routes,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openContactStore(cfg config.Config) (db.ContactStore, func() error, error) {
	switch cfg.Contact.Backend {
	case config.ContactBackendSQLite:
		database, err := db.New(cfg.Contact.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return database, database.Close, nil
	default:
		store, err := db.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.AnonKey, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}
