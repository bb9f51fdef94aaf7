package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' command group with its movie and comment
// passes as subcommands.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass",
	}
	cmd.AddCommand(newCrawlMoviesCmd())
	cmd.AddCommand(newCrawlCommentsCmd())
	return cmd
}

func newCrawlMoviesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "movies",
		Short: "Resume pending movie tasks and discover new ones",
		Long: `Resumes every unfinished movie task left over from previous runs, then
walks the recommendation feed from the persisted offset, minting tasks for
movies not seen before and crawling them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnginePass(cmd, func(ctx context.Context, a App) error {
				return a.Engine().CrawlMovies(ctx)
			})
		},
	}
}

func newCrawlCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments",
		Short: "Walk comment pages for every known movie",
		Long: `Paginates the comment listings of every known movie across all configured
sort orders. Movies already on the durable completed set are skipped without
a single request.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnginePass(cmd, func(ctx context.Context, a App) error {
				return a.Engine().CrawlComments(ctx)
			})
		},
	}
}

// runEnginePass resolves the container, wires signal handling and runs one
// pass. Interruption is a normal exit, not an error.
func runEnginePass(cmd *cobra.Command, pass func(context.Context, App) error) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pass(ctx, appInstance); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl pass: %w", err)
	}
	appInstance.Logger().Info("crawl pass finished")
	return nil
}
