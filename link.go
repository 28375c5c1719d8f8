package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"funnel-engine/internal/attribution"
	"funnel-engine/internal/clock"
	"funnel-engine/internal/config"
	"funnel-engine/internal/kv"
)

func newLinkCmd(dotenv *string) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "link <page-url>",
		Short: "Print the checkout URL a visitor arriving at page-url would be sent to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if base == "" {
				cfg, err := config.Load(*dotenv)
				if err != nil {
					return err
				}
				base = cfg.CheckoutURL
			}
			ctx := context.Background()
			_, query, _ := strings.Cut(args[0], "?")
			capture := attribution.New(kv.NewMemory(), "cli", clock.Real{}, zap.NewNop())
			capture.FromAddress(ctx, query)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), capture.CheckoutURL(ctx, base))
			return err
		},
	}
	cmd.Flags().StringVar(&base, "checkout", "", "checkout base URL (defaults to FUNNEL_CHECKOUT_URL)")
	return cmd
}

func newQuestionsCmd(dotenv *string) *cobra.Command {
	return &cobra.Command{
		Use:   "questions",
		Short: "Print the question table the dialogue asks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*dotenv)
			if err != nil {
				return err
			}
			sc, err := loadScript(cfg.ScriptPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, q := range sc.Questions {
				fmt.Fprintf(out, "%d [%s] %s\n", q.ID, q.Category, q.Prompt)
				for _, opt := range q.Options {
					fmt.Fprintf(out, "    - %s\n", opt)
				}
			}
			return nil
		},
	}
}
