package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newContactsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Inspect messages sent through the contact form",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent contact messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd.Flags(), map[string]string{"contact.backend": "contact-backend"})
			if err != nil {
				return err
			}
			store, closeStore, err := openContactStore(cfg)
			if err != nil {
				return fmt.Errorf("failed to open contact store: %w", err)
			}
			defer closeStore()

			msgs, err := store.ListContactMessages(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("No contact messages.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECEIVED\tNAME\tEMAIL\tSUBJECT\tMESSAGE")
			for _, m := range msgs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Name, m.Email, m.Subject, preview(m.Message, 60))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages to show")
	listCmd.Flags().String("contact-backend", "", "Override contact.backend (supabase or sqlite)")

	cmd.AddCommand(listCmd)
	return cmd
}

func preview(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
