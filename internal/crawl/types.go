// Package crawl implements the crawl task lifecycle engine: the entity state
// machine, the discovery feed walker and the comment pagination walker. It
// drives one logical worker and persists every transition through the task
// repository.
package crawl

import (
	"context"
	"net/http"
	"time"

	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/extract"
)

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Cookies map[string]string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher fetches a URL and returns the body plus metadata. Implementations
// do not retry; retry policy lives in this package.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// MovieStore is the slice of the relational layer the crawl engine needs.
type MovieStore interface {
	UpsertMovie(ctx context.Context, row database.MovieRow) (int64, error)
	UpsertArtist(ctx context.Context, row database.ArtistRow) (int64, error)
	UpsertRelation(ctx context.Context, kind database.RelationKind, movieID string, artistID int64) error
	UpsertType(ctx context.Context, name string) (int64, error)
	UpsertMovieType(ctx context.Context, movieID string, typeID int64) error
	UpsertComment(ctx context.Context, row database.CommentRow) error
	ListMovieIDs(ctx context.Context) ([]string, error)
}

// Extractor maps raw markup to structured fields. Pure and stateless.
type Extractor interface {
	MovieInfo(movieID string, body []byte) (extract.MovieInfo, error)
	CommentPage(body []byte) (extract.CommentPage, error)
	FeedPage(body []byte) (extract.FeedPage, error)
}

// goqueryExtractor is the production Extractor backed by the extract package.
type goqueryExtractor struct{}

// NewExtractor returns the production extractor.
func NewExtractor() Extractor { return goqueryExtractor{} }

func (goqueryExtractor) MovieInfo(movieID string, body []byte) (extract.MovieInfo, error) {
	return extract.ParseMovieInfo(movieID, body)
}

func (goqueryExtractor) CommentPage(body []byte) (extract.CommentPage, error) {
	return extract.ParseCommentPage(body)
}

func (goqueryExtractor) FeedPage(body []byte) (extract.FeedPage, error) {
	return extract.ParseFeedPage(body)
}
