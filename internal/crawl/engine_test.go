package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/extract"
	"github.com/fairyland/douban-crawler/internal/statestore"
	"github.com/fairyland/douban-crawler/internal/task"
)

// fakeFetcher serves canned bodies keyed by URL and records every call.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string][]byte),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, request FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, request.URL)
	if err, ok := f.errs[request.URL]; ok {
		return FetchResponse{}, err
	}
	body, ok := f.responses[request.URL]
	if !ok {
		return FetchResponse{}, errors.New("no canned response for " + request.URL)
	}
	return FetchResponse{URL: request.URL, StatusCode: 200, Body: body}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// scriptedExtractor maps raw bodies to pre-built results so tests control
// exactly what each fetched page yields.
type scriptedExtractor struct {
	movies   map[string]extract.MovieInfo
	comments map[string]extract.CommentPage
	feeds    map[string]extract.FeedPage
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{
		movies:   make(map[string]extract.MovieInfo),
		comments: make(map[string]extract.CommentPage),
		feeds:    make(map[string]extract.FeedPage),
	}
}

func (s *scriptedExtractor) MovieInfo(_ string, body []byte) (extract.MovieInfo, error) {
	info, ok := s.movies[string(body)]
	if !ok {
		return extract.MovieInfo{}, &extract.ExtractionError{Field: "title"}
	}
	return info, nil
}

func (s *scriptedExtractor) CommentPage(body []byte) (extract.CommentPage, error) {
	page, ok := s.comments[string(body)]
	if !ok {
		return extract.CommentPage{}, &extract.ExtractionError{Field: "comments"}
	}
	return page, nil
}

func (s *scriptedExtractor) FeedPage(body []byte) (extract.FeedPage, error) {
	page, ok := s.feeds[string(body)]
	if !ok {
		return extract.FeedPage{}, errors.New("unparseable feed body")
	}
	return page, nil
}

// recordingMovieStore collects every upsert in memory.
type recordingMovieStore struct {
	mu        sync.Mutex
	movies    []database.MovieRow
	artists   []database.ArtistRow
	relations []string
	types     []string
	comments  []database.CommentRow
	failWith  error
}

func (s *recordingMovieStore) UpsertMovie(_ context.Context, row database.MovieRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	s.movies = append(s.movies, row)
	return int64(len(s.movies)), nil
}

func (s *recordingMovieStore) UpsertArtist(_ context.Context, row database.ArtistRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artists = append(s.artists, row)
	return int64(len(s.artists)), nil
}

func (s *recordingMovieStore) UpsertRelation(_ context.Context, kind database.RelationKind, movieID string, artistID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations = append(s.relations, string(kind)+":"+movieID)
	return nil
}

func (s *recordingMovieStore) UpsertType(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, name)
	return int64(len(s.types)), nil
}

func (s *recordingMovieStore) UpsertMovieType(_ context.Context, _ string, _ int64) error {
	return nil
}

func (s *recordingMovieStore) UpsertComment(_ context.Context, row database.CommentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.comments = append(s.comments, row)
	return nil
}

func (s *recordingMovieStore) ListMovieIDs(_ context.Context) ([]string, error) {
	return nil, nil
}

// noRetryPolicy fails fast so tests count exactly one fetch per attempt.
type noRetryPolicy struct{}

func (noRetryPolicy) ShouldRetry(error, int) bool { return false }
func (noRetryPolicy) Backoff(int) time.Duration   { return 0 }

type engineHarness struct {
	engine    *Engine
	repo      *task.Repository
	redis     *miniredis.Miniredis
	fetcher   *fakeFetcher
	extractor *scriptedExtractor
	store     *recordingMovieStore
}

func newEngineHarness(t *testing.T, cfg Config) *engineHarness {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	stateStore := statestore.NewRedisStoreWithClient(client, zap.NewNop())
	repo := task.NewRepository(stateStore, task.DefaultPrefix, zap.NewNop())

	fetcher := newFakeFetcher()
	extractor := newScriptedExtractor()
	movieStore := &recordingMovieStore{}
	engine := NewEngine(cfg, repo, fetcher, extractor, movieStore, zap.NewNop(),
		WithRetryPolicy(noRetryPolicy{}),
		WithPacer(noopPacer{}),
	)
	return &engineHarness{
		engine:    engine,
		repo:      repo,
		redis:     server,
		fetcher:   fetcher,
		extractor: extractor,
		store:     movieStore,
	}
}

func TestCrawlMoviesDrivesDiscoveredEntity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	h.fetcher.responses[h.engine.feedURL(0)] = []byte("feed-0")
	h.extractor.feeds["feed-0"] = extract.FeedPage{
		Start: 0,
		Count: 2,
		Items: []extract.FeedItem{
			{ID: "100", Type: "movie", Title: "电影一"},
			{ID: "book-1", Type: "book", Title: "not a movie"},
		},
	}
	h.fetcher.responses[h.engine.movieURL("100")] = []byte("movie-100")
	h.extractor.movies["movie-100"] = extract.MovieInfo{
		MovieID:  "100",
		FullName: "电影一",
		Score:    8.1,
		Directors: []extract.Artist{
			{ArtistID: "a1", Name: "导演甲"},
		},
		Genres: []string{"剧情"},
	}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	rec, err := h.repo.Load(ctx, task.NamespaceInfo, "100")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, rec.Status)
	require.NotEmpty(t, rec.Payload)

	// Non-movie feed items never become tasks.
	exists, err := h.repo.Exists(ctx, task.NamespaceInfo, "book-1")
	require.NoError(t, err)
	require.False(t, exists)

	require.Len(t, h.store.movies, 1)
	require.Equal(t, "电影一", h.store.movies[0].FullName)
	require.Equal(t, []string{"剧情"}, h.store.types)

	known, err := h.repo.KnownIDs(ctx)
	require.NoError(t, err)
	require.Contains(t, known, "100")

	offset, err := h.repo.FeedOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, offset)
}

func TestCrawlMoviesRetryCeiling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	_, err := h.repo.Create(ctx, task.NamespaceInfo, "200")
	require.NoError(t, err)
	h.fetcher.errs[h.engine.movieURL("200")] = errors.New("upstream down")
	h.fetcher.responses[h.engine.feedURL(0)] = []byte("empty-feed")
	h.extractor.feeds["empty-feed"] = extract.FeedPage{Start: 0, Count: 0}

	for i := 1; i <= task.DefaultMaxRetries; i++ {
		require.NoError(t, h.engine.CrawlMovies(ctx))
		rec, err := h.repo.Load(ctx, task.NamespaceInfo, "200")
		require.NoError(t, err)
		require.Equal(t, task.StatusFailed, rec.Status)
		require.Equal(t, i, rec.RetryCount)
	}

	rec, err := h.repo.Load(ctx, task.NamespaceInfo, "200")
	require.NoError(t, err)
	require.True(t, rec.Abandoned())

	// A fourth pass must not touch the abandoned task's URL again.
	before := h.fetcher.callCount()
	require.NoError(t, h.engine.CrawlMovies(ctx))
	movieFetches := 0
	h.fetcher.mu.Lock()
	for _, url := range h.fetcher.calls[before:] {
		if url == h.engine.movieURL("200") {
			movieFetches++
		}
	}
	h.fetcher.mu.Unlock()
	require.Zero(t, movieFetches)
	rec, err = h.repo.Load(ctx, task.NamespaceInfo, "200")
	require.NoError(t, err)
	require.Equal(t, task.DefaultMaxRetries, rec.RetryCount)
}

func TestCrawlMoviesBadEntityDoesNotHaltRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	_, err := h.repo.Create(ctx, task.NamespaceInfo, "301")
	require.NoError(t, err)
	_, err = h.repo.Create(ctx, task.NamespaceInfo, "302")
	require.NoError(t, err)

	h.fetcher.errs[h.engine.movieURL("301")] = errors.New("boom")
	h.fetcher.responses[h.engine.movieURL("302")] = []byte("movie-302")
	h.extractor.movies["movie-302"] = extract.MovieInfo{MovieID: "302", FullName: "还行"}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	failed, err := h.repo.Load(ctx, task.NamespaceInfo, "301")
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, failed.Status)

	completed, err := h.repo.Load(ctx, task.NamespaceInfo, "302")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, completed.Status)
}

func TestDiscoveryDeduplicatesKnownIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	require.NoError(t, h.repo.AddKnownIDs(ctx, "400"))
	h.fetcher.responses[h.engine.feedURL(0)] = []byte("feed-0")
	h.extractor.feeds["feed-0"] = extract.FeedPage{
		Start: 0,
		Count: 1,
		Items: []extract.FeedItem{{ID: "400", Type: "movie"}},
	}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	exists, err := h.repo.Exists(ctx, task.NamespaceInfo, "400")
	require.NoError(t, err)
	require.False(t, exists)

	offset, err := h.repo.FeedOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, offset)
}

func TestDiscoveryAdvancesOffsetAfterCreatingTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 2, FeedPageSize: 1})

	h.fetcher.responses[h.engine.feedURL(0)] = []byte("feed-0")
	h.extractor.feeds["feed-0"] = extract.FeedPage{
		Start: 0, Count: 1,
		Items: []extract.FeedItem{{ID: "500", Type: "movie"}},
	}
	h.fetcher.responses[h.engine.feedURL(1)] = []byte("feed-1")
	h.extractor.feeds["feed-1"] = extract.FeedPage{
		Start: 1, Count: 1,
		Items: []extract.FeedItem{{ID: "501", Type: "movie"}},
	}
	h.fetcher.responses[h.engine.movieURL("500")] = []byte("m500")
	h.fetcher.responses[h.engine.movieURL("501")] = []byte("m501")
	h.extractor.movies["m500"] = extract.MovieInfo{MovieID: "500", FullName: "五百"}
	h.extractor.movies["m501"] = extract.MovieInfo{MovieID: "501", FullName: "五百零一"}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	offset, err := h.repo.FeedOffset(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, offset)

	for _, id := range []string{"500", "501"} {
		rec, err := h.repo.Load(ctx, task.NamespaceInfo, id)
		require.NoError(t, err)
		require.Equal(t, task.StatusCompleted, rec.Status)
	}
}

func TestDiscoveryWaitsForDrainedBacklog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	// A failing task stays resumable after the pass; the feed, which would
	// hand out a new movie, must not be touched until the backlog drains.
	_, err := h.repo.Create(ctx, task.NamespaceInfo, "700")
	require.NoError(t, err)
	h.fetcher.errs[h.engine.movieURL("700")] = errors.New("upstream down")
	h.fetcher.responses[h.engine.feedURL(0)] = []byte("feed-0")
	h.extractor.feeds["feed-0"] = extract.FeedPage{
		Start: 0, Count: 1,
		Items: []extract.FeedItem{{ID: "701", Type: "movie"}},
	}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	rec, err := h.repo.Load(ctx, task.NamespaceInfo, "700")
	require.NoError(t, err)
	require.True(t, rec.Resumable())

	exists, err := h.repo.Exists(ctx, task.NamespaceInfo, "701")
	require.NoError(t, err)
	require.False(t, exists)
	h.fetcher.mu.Lock()
	require.NotContains(t, h.fetcher.calls, h.engine.feedURL(0))
	h.fetcher.mu.Unlock()

	// Once the task completes, the next pass walks the feed.
	delete(h.fetcher.errs, h.engine.movieURL("700"))
	h.fetcher.responses[h.engine.movieURL("700")] = []byte("m700")
	h.extractor.movies["m700"] = extract.MovieInfo{MovieID: "700", FullName: "七百"}
	require.NoError(t, h.engine.CrawlMovies(ctx))

	h.fetcher.responses[h.engine.movieURL("701")] = []byte("m701")
	h.extractor.movies["m701"] = extract.MovieInfo{MovieID: "701", FullName: "七百零一"}
	require.NoError(t, h.engine.CrawlMovies(ctx))

	got, err := h.repo.Load(ctx, task.NamespaceInfo, "701")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, got.Status)
}

func TestDiscoveryReplacesCorruptRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newEngineHarness(t, Config{MaxFeedPages: 1})

	// An undecodable stored record must not block its entity: the resume
	// scan skips it and discovery re-enqueues a fresh task over it.
	require.NoError(t, h.redis.Set("spider:cache:douban:movie:task:900", "{garbage"))

	h.fetcher.responses[h.engine.feedURL(0)] = []byte("feed-0")
	h.extractor.feeds["feed-0"] = extract.FeedPage{
		Start: 0, Count: 1,
		Items: []extract.FeedItem{{ID: "900", Type: "movie"}},
	}
	h.fetcher.responses[h.engine.movieURL("900")] = []byte("m900")
	h.extractor.movies["m900"] = extract.MovieInfo{MovieID: "900", FullName: "九百"}

	require.NoError(t, h.engine.CrawlMovies(ctx))

	rec, err := h.repo.Load(ctx, task.NamespaceInfo, "900")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, rec.Status)
}
