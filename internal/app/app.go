// Package app initializes and holds long-lived application services, acting
// as a dependency injection container. It is built once at startup and passed
// to the commands that need it.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/config"
	"github.com/fairyland/douban-crawler/internal/crawl"
	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/fetcher"
	collyfetcher "github.com/fairyland/douban-crawler/internal/fetcher/colly"
	"github.com/fairyland/douban-crawler/internal/logging"
	"github.com/fairyland/douban-crawler/internal/statestore"
	"github.com/fairyland/douban-crawler/internal/task"
)

// App holds the shared, long-lived services for the application: the logger,
// the task state store, the relational movie store and the crawl engine.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  *statestore.RedisStore
	repo   *task.Repository
	movies *database.MovieStore
	engine *crawl.Engine
}

// New builds the service container. It fails fast if the state store or the
// database cannot be reached.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger.Info("initializing services")

	store, err := statestore.NewRedisStore(ctx, statestore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect state store: %w", err)
	}

	repo := task.NewRepository(store, cfg.Redis.KeyPrefix, logger)

	movies, err := database.NewMovieStore(ctx, database.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	cookies, err := loadCookies(cfg.Crawler.CookieFile, logger)
	if err != nil {
		return nil, err
	}

	fetch := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.FetchTimeout(),
		RespectRobots: !cfg.Crawler.IgnoreRobots,
	})

	engine := crawl.NewEngine(
		crawl.Config{
			BaseURL:         cfg.Crawler.BaseURL,
			FeedURL:         cfg.Crawler.FeedURL,
			PageSize:        cfg.Crawler.PageSize,
			MaxCommentPages: cfg.Crawler.MaxCommentPages,
			MaxFeedPages:    cfg.Crawler.MaxFeedPages,
			FeedPageSize:    cfg.Crawler.FeedPageSize,
			CommentSorts:    cfg.Crawler.CommentSorts,
			Headers:         defaultHeaders(),
			Cookies:         cookies,
		},
		repo,
		fetch,
		crawl.NewExtractor(),
		movies,
		logger,
		crawl.WithPacer(crawl.NewRandomPacer(cfg.DelayMin(), cfg.DelayMax())),
	)

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		repo:   repo,
		movies: movies,
		engine: engine,
	}, nil
}

func loadCookies(path string, logger *zap.Logger) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	cookies, err := fetcher.LoadCookieFile(path)
	if err != nil {
		return nil, fmt.Errorf("load cookie file: %w", err)
	}
	logger.Info("loaded cookies", zap.Int("count", len(cookies)))
	return cookies, nil
}

func defaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Referer", "https://movie.douban.com/explore")
	return h
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger instance.
func (a *App) Logger() *zap.Logger { return a.logger }

// Repo returns the task repository.
func (a *App) Repo() *task.Repository { return a.repo }

// Movies returns the relational movie store.
func (a *App) Movies() *database.MovieStore { return a.movies }

// Engine returns the crawl engine.
func (a *App) Engine() *crawl.Engine { return a.engine }

// Close releases every held connection. Safe to call once at shutdown.
func (a *App) Close() {
	if a.movies != nil {
		a.movies.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing state store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
