package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/extract"
	"github.com/fairyland/douban-crawler/internal/task"
)

// Defaults applied by Config.withDefaults.
const (
	defaultBaseURL         = "https://movie.douban.com"
	defaultFeedURL         = "https://m.douban.com/rexxar/api/v2/movie/recommend"
	defaultPageSize        = 20
	defaultMaxCommentPages = 10
	defaultMaxFeedPages    = 5
	defaultFeedPageSize    = 20
)

// defaultSorts is the pair of comment orderings a comment task must exhaust
// before it counts as completed.
var defaultSorts = []string{"new_score", "time"}

// Config holds the crawl engine's tunables. Zero values fall back to the
// defaults above.
type Config struct {
	BaseURL         string
	FeedURL         string
	PageSize        int
	MaxCommentPages int
	MaxFeedPages    int
	FeedPageSize    int
	CommentSorts    []string
	Headers         http.Header
	Cookies         map[string]string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.FeedURL == "" {
		c.FeedURL = defaultFeedURL
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.MaxCommentPages <= 0 {
		c.MaxCommentPages = defaultMaxCommentPages
	}
	if c.MaxFeedPages <= 0 {
		c.MaxFeedPages = defaultMaxFeedPages
	}
	if c.FeedPageSize <= 0 {
		c.FeedPageSize = defaultFeedPageSize
	}
	if len(c.CommentSorts) == 0 {
		c.CommentSorts = defaultSorts
	}
	return c
}

// Engine is the single-worker crawl orchestrator. It drives info tasks and
// comment tasks through their state machines, persisting every transition
// through the repository so an interrupted run resumes where it stopped.
type Engine struct {
	cfg       Config
	repo      *task.Repository
	fetcher   Fetcher
	extractor Extractor
	movies    MovieStore
	retry     RetryPolicy
	pacer     Pacer
	logger    *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the transport retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithPacer overrides the inter-request pacer.
func WithPacer(p Pacer) Option {
	return func(e *Engine) { e.pacer = p }
}

// NewEngine wires an Engine from its dependencies.
func NewEngine(
	cfg Config,
	repo *task.Repository,
	fetcher Fetcher,
	extractor Extractor,
	movies MovieStore,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		repo:      repo,
		fetcher:   fetcher,
		extractor: extractor,
		movies:    movies,
		retry:     NewExponentialRetryPolicy(),
		pacer:     noopPacer{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CrawlMovies runs one info-crawl pass. A pass with resumable tasks left
// over from previous runs drives those and nothing else; the discovery feed
// is walked only when the backlog is empty, so unfinished work is drained
// before any new work is minted. One bad entity never halts the pass.
func (e *Engine) CrawlMovies(ctx context.Context) error {
	runLogger := e.logger.With(zap.String("run_id", uuid.NewString()))

	backlog, err := e.resumableMovies(ctx)
	if err != nil {
		return err
	}
	if len(backlog) > 0 {
		runLogger.Info("resuming backlog", zap.Int("tasks", len(backlog)))
		for _, movieID := range backlog {
			if err := ctx.Err(); err != nil {
				return err
			}
			e.driveMovie(ctx, runLogger, movieID)
			e.pacer.Pause(ctx)
		}
		return nil
	}

	discovered, err := e.discoverMovies(ctx, runLogger)
	if err != nil {
		return err
	}
	for _, movieID := range discovered {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.driveMovie(ctx, runLogger, movieID)
		e.pacer.Pause(ctx)
	}
	return nil
}

// resumableMovies scans the info namespace and returns the ids that still
// need driving. Completed and retry-exhausted tasks are left alone.
func (e *Engine) resumableMovies(ctx context.Context) ([]string, error) {
	records, err := e.repo.ListAll(ctx, task.NamespaceInfo)
	if err != nil {
		return nil, fmt.Errorf("resume scan: %w", err)
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.Resumable() {
			ids = append(ids, rec.MovieID)
		}
	}
	return ids, nil
}

// driveMovie runs one info task through its state machine. Errors are
// recorded on the task, not returned; the caller keeps going.
func (e *Engine) driveMovie(ctx context.Context, logger *zap.Logger, movieID string) {
	logger = logger.With(zap.String("movie_id", movieID))

	if err := e.repo.MarkProcessing(ctx, task.NamespaceInfo, movieID); err != nil {
		logger.Error("cannot enter processing", zap.Error(err))
		return
	}

	info, err := e.fetchMovieInfo(ctx, movieID)
	if err != nil {
		e.failMovie(ctx, logger, task.NamespaceInfo, movieID, err)
		return
	}
	if err := e.repo.MarkParsed(ctx, task.NamespaceInfo, movieID); err != nil {
		logger.Error("cannot mark parsed", zap.Error(err))
		return
	}

	if err := e.persistMovie(ctx, info); err != nil {
		e.failMovie(ctx, logger, task.NamespaceInfo, movieID, err)
		return
	}

	payload, err := json.Marshal(info)
	if err != nil {
		e.failMovie(ctx, logger, task.NamespaceInfo, movieID, err)
		return
	}
	if err := e.repo.MarkCompleted(ctx, task.NamespaceInfo, movieID, payload); err != nil {
		logger.Error("cannot mark completed", zap.Error(err))
		return
	}
	if err := e.repo.AddKnownIDs(ctx, movieID); err != nil {
		logger.Warn("cannot record known id", zap.Error(err))
	}
	TotalTasksCompleted.WithLabelValues(string(task.NamespaceInfo)).Inc()
	logger.Info("movie crawled", zap.String("title", info.FullName))
}

func (e *Engine) failMovie(ctx context.Context, logger *zap.Logger, ns task.Namespace, movieID string, cause error) {
	TotalTaskFailures.WithLabelValues(string(ns)).Inc()
	logger.Warn("task attempt failed", zap.String("namespace", string(ns)), zap.Error(cause))
	if err := e.repo.MarkFailed(ctx, ns, movieID, cause.Error()); err != nil {
		logger.Error("cannot mark failed", zap.Error(err))
	}
}

func (e *Engine) fetchMovieInfo(ctx context.Context, movieID string) (extract.MovieInfo, error) {
	response, err := e.fetchWithRetry(ctx, FetchRequest{
		URL:     e.movieURL(movieID),
		Headers: e.cfg.Headers,
		Cookies: e.cfg.Cookies,
	})
	if err != nil {
		return extract.MovieInfo{}, err
	}
	return e.extractor.MovieInfo(movieID, response.Body)
}

// persistMovie upserts the movie row and its artists, relations and genres.
func (e *Engine) persistMovie(ctx context.Context, info extract.MovieInfo) error {
	row := database.MovieRow{
		MovieID:      info.MovieID,
		FullName:     info.FullName,
		ChineseName:  info.ChineseName,
		OriginalName: info.OriginalName,
		ReleaseDate:  info.ReleaseDate,
		Score:        info.Score,
		Summary:      info.Summary,
		Icon:         info.Icon,
	}
	if _, err := e.movies.UpsertMovie(ctx, row); err != nil {
		return fmt.Errorf("upsert movie %s: %w", info.MovieID, err)
	}

	groups := []struct {
		kind    database.RelationKind
		artists []extract.Artist
	}{
		{database.RelationDirector, info.Directors},
		{database.RelationWriter, info.Writers},
		{database.RelationActor, info.Actors},
	}
	for _, group := range groups {
		for _, artist := range group.artists {
			artistID, err := e.movies.UpsertArtist(ctx, database.ArtistRow{
				ArtistID: artist.ArtistID,
				Name:     artist.Name,
			})
			if err != nil {
				return fmt.Errorf("upsert artist %s: %w", artist.Name, err)
			}
			if err := e.movies.UpsertRelation(ctx, group.kind, info.MovieID, artistID); err != nil {
				return fmt.Errorf("relate %s %s: %w", group.kind, artist.Name, err)
			}
		}
	}

	for _, genre := range info.Genres {
		typeID, err := e.movies.UpsertType(ctx, genre)
		if err != nil {
			return fmt.Errorf("upsert type %s: %w", genre, err)
		}
		if err := e.movies.UpsertMovieType(ctx, info.MovieID, typeID); err != nil {
			return fmt.Errorf("relate type %s: %w", genre, err)
		}
	}
	return nil
}

// fetchWithRetry runs one fetch through the transport retry policy. These
// attempts are in-flight HTTP retries; a failure surfacing from here is one
// task attempt against the task's retry budget.
func (e *Engine) fetchWithRetry(ctx context.Context, request FetchRequest) (FetchResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		TotalRequests.Inc()
		response, err := e.fetcher.Fetch(ctx, request)
		if err == nil {
			return response, nil
		}
		TotalRequestErrors.Inc()
		lastErr = err
		if !e.retry.ShouldRetry(err, attempt) {
			break
		}
		e.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepContext(ctx, e.retry.Backoff(attempt)); err != nil {
			return FetchResponse{}, err
		}
	}
	return FetchResponse{}, lastErr
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) movieURL(movieID string) string {
	return fmt.Sprintf("%s/subject/%s/", e.cfg.BaseURL, movieID)
}

func (e *Engine) commentsURL(movieID, sort string, start int) string {
	params := url.Values{}
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(e.cfg.PageSize))
	params.Set("status", "P")
	params.Set("sort", sort)
	return fmt.Sprintf("%s/subject/%s/comments?%s", e.cfg.BaseURL, movieID, params.Encode())
}

func (e *Engine) feedURL(start int) string {
	params := url.Values{}
	params.Set("refresh", "0")
	params.Set("start", strconv.Itoa(start))
	params.Set("count", strconv.Itoa(e.cfg.FeedPageSize))
	params.Set("uncollect", "false")
	params.Set("score_range", "0,10")
	return fmt.Sprintf("%s?%s", e.cfg.FeedURL, params.Encode())
}
