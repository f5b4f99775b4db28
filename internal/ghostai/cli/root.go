// Package cli is the ghostai command line: the bot itself plus a few offline
// commands to inspect and reset stored conversations.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/ghostai/common/version"
	"github.com/bdobrica/ghostai/internal/ghostai/app"
	"github.com/bdobrica/ghostai/internal/ghostai/config"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
	"github.com/bdobrica/ghostai/internal/ghostai/observability"
)

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "ghostai",
		Short:         "ghostai is a Matrix chat assistant with long-running conversation memory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newSummariesCommand())
	root.AddCommand(newClearCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until SIGINT or SIGTERM, then flush memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := observability.Setup(cfg.LogLevel, cfg.LogFormat)
			logger.Info("starting ghostai", version.LogAttrs()...)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			bot, err := app.New(ctx, cfg, app.Deps{}, logger)
			if err != nil {
				return err
			}
			return bot.Run(ctx)
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <conversation>",
		Short: "Print the stored turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st memory.Store) error {
				turns, err := st.LoadRecentTurns(ctx, args[0], limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range turns {
					fmt.Fprintf(out, "%s  %-9s  %s\n", t.Timestamp.Format(time.RFC3339), t.Role, t.Content)
				}
				if len(turns) == 0 {
					fmt.Fprintln(out, "no stored turns")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.DefaultLimits().TurnRetention, "maximum number of turns")
	return cmd
}

func newSummariesCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "summaries <conversation>",
		Short: "Print the summary records of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st memory.Store) error {
				records, err := st.LoadRecentSummaries(ctx, args[0], limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range records {
					fmt.Fprintf(out, "#%d  %s\n%s\n\n", r.Sequence, r.CreatedAt.Format(time.RFC3339), r.Text)
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "no summaries")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of summaries")
	return cmd
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <conversation>",
		Short: "Delete the stored turns and summaries of a conversation",
		Long: "Delete the stored turns and summaries of a conversation. Settings are kept.\n" +
			"Run it while the bot is stopped: a running bot still holds the conversation's recent turns in memory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st memory.Store) error {
				if err := st.ClearTurns(ctx, args[0]); err != nil {
					return err
				}
				if err := st.ClearSummaries(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			})
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

// withStore opens the configured store for an offline command.
func withStore(ctx context.Context, fn func(context.Context, memory.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.FromEnv()
	if err := cfg.ValidateStore(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// stdout carries the command output; logs go to stderr.
	logger := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	st, _, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
