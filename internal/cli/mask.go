package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kavach/internal/config"
	"kavach/internal/kavach"
	"kavach/internal/logger"
)

func (a *app) maskCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "mask [text|-]",
		Short: "Mask entities in text within a session",
		Long: "Mask entities in text within a session. Text can be positional args or piped via stdin.\n" +
			"Use a persistent store (--storage bolt or redis) to unmask in a later invocation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOneShot(cmd, args, func(ctx context.Context, svc *kavach.Service, text string) (string, error) {
				return svc.Sanitize(ctx, text, session)
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func (a *app) unmaskCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "unmask [text|-]",
		Short: "Restore a session's tokens in text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runOneShot(cmd, args, func(ctx context.Context, svc *kavach.Service, text string) (string, error) {
				return svc.Desanitize(ctx, text, session)
			})
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "", "Session ID (required)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

// runOneShot opens the configured service, applies op to the input text and
// prints the result. Logs go to stderr so stdout carries only the text.
func (a *app) runOneShot(cmd *cobra.Command, args []string, op func(context.Context, *kavach.Service, string) (string, error)) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	cfg := a.loadConfig()
	if a.flags.logLevel == "" {
		cfg.LogLevel = "warn"
	}
	log := logger.NewWithWriter("KAVACH", cfg.LogLevel, cmd.ErrOrStderr())
	svc, err := a.openService(cmd.Context(), cfg, log, nil)
	if err != nil {
		return err
	}
	defer svc.Close() //nolint:errcheck

	if svc.Backend() == config.StorageMemory {
		log.Warn("session", "in-memory store: tokens are forgotten when this command exits")
	}

	out, err := op(cmd.Context(), svc, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
