package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RichardoC/nutra/internal/llm"
	"github.com/RichardoC/nutra/internal/models"
)

// newAskCmd asks Nora one question straight through the completion provider,
// without a running server. Useful for checking the model credentials.
func newAskCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask Nora a single question using the configured model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd.Flags(), nil)
			if err != nil {
				return err
			}
			logger, err := newChatLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			service, err := llm.New(llm.Options{
				APIURL:      cfg.Chat.APIURL,
				Token:       cfg.Chat.Token,
				Model:       cfg.Chat.Model,
				Temperature: cfg.Chat.Temperature,
				MaxTokens:   cfg.Chat.MaxTokens,
				Timeout:     cfg.Chat.Timeout,
			}, logger.Named("llm"))
			if err != nil {
				return err
			}

			reply, err := service.Complete(cmd.Context(), []models.ChatMessage{
				{Role: models.RoleUser, Content: strings.Join(args, " ")},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}
