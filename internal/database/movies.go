// Package database persists crawled movie data in Postgres. All writes are
// upserts keyed on the external identifiers, so re-driving an entity after a
// restart is a no-op modulo timestamps.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RelationKind names a movie-to-artist credit table.
type RelationKind string

// Credit kinds, each backed by its own relation table.
const (
	RelationDirector RelationKind = "director"
	RelationWriter   RelationKind = "writer"
	RelationActor    RelationKind = "actor"
)

var relationTables = map[RelationKind]string{
	RelationDirector: "movie.tb_movie_director_artist_relation",
	RelationWriter:   "movie.tb_movie_writer_artist_relation",
	RelationActor:    "movie.tb_movie_actor_artist_relation",
}

// MovieRow is one row of movie.tb_movie.
type MovieRow struct {
	MovieID      string
	FullName     string
	ChineseName  string
	OriginalName string
	ReleaseDate  time.Time
	Score        float64
	Summary      string
	Icon         string
}

// ArtistRow is one row of movie.tb_artist.
type ArtistRow struct {
	ArtistID string
	Name     string
}

// CommentRow is one row of movie.tb_movie_comment.
type CommentRow struct {
	MovieID     string
	CommentID   string
	Username    string
	Rating      int
	Content     string
	UsefulCount int
	CommentTime string
}

// TypeRow is one entry of the genre catalog.
type TypeRow struct {
	ID   int64
	Name string
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// MovieStore writes movie rows into Postgres.
type MovieStore struct {
	pool   pool
	logger *zap.Logger
}

// NewMovieStore connects a pool and pings it. The pool transparently
// re-establishes broken connections on later use, which satisfies the
// reconnect-before-failing expectation for transient outages.
func NewMovieStore(ctx context.Context, cfg Config, logger *zap.Logger) (*MovieStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return &MovieStore{pool: p, logger: logger}, nil
}

// NewMovieStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewMovieStoreWithPool(p pool, logger *zap.Logger) *MovieStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MovieStore{pool: p, logger: logger}
}

// Close releases the underlying pool resources.
func (s *MovieStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertMovie inserts or updates one movie and returns its local id.
func (s *MovieStore) UpsertMovie(ctx context.Context, row MovieRow) (int64, error) {
	query := `
INSERT INTO movie.tb_movie (movie_id, full_name, chinese_name, original_name, release_date, score, summary, icon)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (movie_id) DO UPDATE
SET full_name = EXCLUDED.full_name,
    chinese_name = EXCLUDED.chinese_name,
    original_name = EXCLUDED.original_name,
    release_date = EXCLUDED.release_date,
    score = EXCLUDED.score,
    summary = EXCLUDED.summary,
    icon = EXCLUDED.icon,
    updated_at = now()
RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		row.MovieID,
		row.FullName,
		row.ChineseName,
		row.OriginalName,
		row.ReleaseDate,
		row.Score,
		row.Summary,
		row.Icon,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert movie %s: %w", row.MovieID, err)
	}
	return id, nil
}

// UpsertArtist inserts or updates one artist and returns their local id.
func (s *MovieStore) UpsertArtist(ctx context.Context, row ArtistRow) (int64, error) {
	query := `
INSERT INTO movie.tb_artist (artist_id, name)
VALUES ($1, $2)
ON CONFLICT (artist_id) DO UPDATE
SET name = EXCLUDED.name,
    updated_at = now()
RETURNING id`
	var id int64
	if err := s.pool.QueryRow(ctx, query, row.ArtistID, row.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert artist %s: %w", row.ArtistID, err)
	}
	return id, nil
}

// UpsertRelation links a movie to an artist under the given credit kind.
func (s *MovieStore) UpsertRelation(ctx context.Context, kind RelationKind, movieID string, artistID int64) error {
	table, ok := relationTables[kind]
	if !ok {
		return fmt.Errorf("unknown relation kind %q", kind)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (movie_id, artist_id)
VALUES ($1, $2)
ON CONFLICT (movie_id, artist_id) DO UPDATE
SET updated_at = now()`, table)
	if _, err := s.pool.Exec(ctx, query, movieID, artistID); err != nil {
		return fmt.Errorf("upsert %s relation %s: %w", kind, movieID, err)
	}
	return nil
}

// UpsertType inserts or updates one genre catalog entry and returns its id.
func (s *MovieStore) UpsertType(ctx context.Context, name string) (int64, error) {
	query := `
INSERT INTO movie.tb_type (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE
SET updated_at = now()
RETURNING id`
	var id int64
	if err := s.pool.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert type %q: %w", name, err)
	}
	return id, nil
}

// UpsertMovieType links a movie to a genre catalog entry.
func (s *MovieStore) UpsertMovieType(ctx context.Context, movieID string, typeID int64) error {
	query := `
INSERT INTO movie.tb_movie_type_relation (movie_id, type_id)
VALUES ($1, $2)
ON CONFLICT (movie_id, type_id) DO UPDATE
SET updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, movieID, typeID); err != nil {
		return fmt.Errorf("upsert movie type %s: %w", movieID, err)
	}
	return nil
}

// UpsertComment inserts or updates one short review.
func (s *MovieStore) UpsertComment(ctx context.Context, row CommentRow) error {
	query := `
INSERT INTO movie.tb_movie_comment (movie_id, comment_id, username, rating, content, useful_count, comment_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (comment_id) DO UPDATE
SET content = EXCLUDED.content,
    rating = EXCLUDED.rating,
    useful_count = EXCLUDED.useful_count,
    updated_at = now()`
	_, err := s.pool.Exec(ctx, query,
		row.MovieID,
		row.CommentID,
		row.Username,
		row.Rating,
		row.Content,
		row.UsefulCount,
		row.CommentTime,
	)
	if err != nil {
		return fmt.Errorf("upsert comment %s: %w", row.CommentID, err)
	}
	return nil
}

// ListMovieIDs returns the external IDs of every non-deleted movie.
func (s *MovieStore) ListMovieIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT movie_id FROM movie.tb_movie WHERE deleted IS FALSE`)
	if err != nil {
		return nil, fmt.Errorf("list movie ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan movie id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list movie ids: %w", err)
	}
	return ids, nil
}

// TypeCatalog returns the full genre catalog.
func (s *MovieStore) TypeCatalog(ctx context.Context) ([]TypeRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM movie.tb_type ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("type catalog: %w", err)
	}
	defer rows.Close()

	var types []TypeRow
	for rows.Next() {
		var row TypeRow
		if err := rows.Scan(&row.ID, &row.Name); err != nil {
			return nil, fmt.Errorf("scan type row: %w", err)
		}
		types = append(types, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("type catalog: %w", err)
	}
	return types, nil
}

// Ping verifies the database is reachable.
func (s *MovieStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
