// Package cmd defines and implements the CLI commands for the crawler
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/app"
	"github.com/fairyland/douban-crawler/internal/config"
	"github.com/fairyland/douban-crawler/internal/crawl"
	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/task"
)

var cfgFile string

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the service container the commands use. An interface so
// tests can inject a fake container.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Repo() *task.Repository
	Movies() *database.MovieStore
	Engine() *crawl.Engine
}

// newApp is the application factory, a variable so tests can replace it.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "douban-crawler",
		Short: "A durable, resumable crawler for the Douban movie catalog.",
		Long: `douban-crawler walks the movie catalog one entity at a time, persisting
every task transition in Redis so an interrupted run picks up exactly where
it stopped. Crawled movies, artists and comments land in Postgres.`,

		// Runs before the subcommand's RunE: build and inject the container.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
