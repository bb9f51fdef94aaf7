package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/statestore"
)

// Namespace selects which task family a repository call operates on. Info
// tasks and comment tasks share movie IDs but are tracked independently.
type Namespace string

// Task namespaces.
const (
	NamespaceInfo    Namespace = "info"
	NamespaceComment Namespace = "comment"
)

// Key fragments under the repository prefix. The layout mirrors what the
// rest of the tooling expects to find in the store.
const (
	keyInfoTask         = "douban:movie:task:"
	keyCommentTask      = "douban:movie:comment:task:"
	keyKnownIDs         = "douban:movie:db:movie_ids"
	keyCommentCompleted = "douban:movie:comment:completed"
	keyCompletedSorts   = "douban:movie:comment:completed_sorts:"
	keyFeedOffset       = "douban:movie:recommend:start"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "spider:cache"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Repository is the single source of truth for what crawl work exists and
// what state it is in. All status mutations go through its Mark* helpers.
type Repository struct {
	store  statestore.Store
	prefix string
	clock  Clock
	logger *zap.Logger
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock injects a clock (used by tests to pin timestamps).
func WithClock(c Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// NewRepository builds a Repository over the given store.
func NewRepository(store statestore.Store, prefix string, logger *zap.Logger, opts ...Option) *Repository {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		store:  store,
		prefix: prefix,
		clock:  systemClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) key(fragment string) string {
	return r.prefix + ":" + fragment
}

func (r *Repository) taskKey(ns Namespace, movieID string) string {
	return r.key(taskKeyFragment(ns) + movieID)
}

func taskKeyFragment(ns Namespace) string {
	if ns == NamespaceComment {
		return keyCommentTask
	}
	return keyInfoTask
}

// Create mints and persists a PENDING record for movieID.
func (r *Repository) Create(ctx context.Context, ns Namespace, movieID string) (*Record, error) {
	rec := NewRecord(movieID, r.clock.Now())
	if err := r.Save(ctx, ns, rec); err != nil {
		return nil, err
	}
	r.logger.Info("created task",
		zap.String("namespace", string(ns)),
		zap.String("movie_id", movieID),
	)
	return rec, nil
}

// Save serializes and stores the record, rewriting UpdatedAt first.
func (r *Repository) Save(ctx context.Context, ns Namespace, rec *Record) error {
	rec.UpdatedAt = r.clock.Now()
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.taskKey(ns, rec.MovieID), raw, 0); err != nil {
		return fmt.Errorf("save task %s: %w", rec.MovieID, err)
	}
	return nil
}

// Load reads one record. Returns ErrNotFound if absent and ErrCorrupt if the
// stored value cannot be decoded.
func (r *Repository) Load(ctx context.Context, ns Namespace, movieID string) (*Record, error) {
	raw, err := r.store.Get(ctx, r.taskKey(ns, movieID))
	if errors.Is(err, statestore.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, ns, movieID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", movieID, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("task %s/%s: %w", ns, movieID, err)
	}
	return rec, nil
}

// Exists reports whether a decodable record is present, regardless of its
// state. A corrupt stored value counts as absent so the entity can be
// re-enqueued with a fresh PENDING record instead of being blocked forever.
func (r *Repository) Exists(ctx context.Context, ns Namespace, movieID string) (bool, error) {
	raw, err := r.store.Get(ctx, r.taskKey(ns, movieID))
	if errors.Is(err, statestore.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check task %s: %w", movieID, err)
	}
	if _, err := decodeRecord(raw); err != nil {
		r.logger.Warn("treating corrupt task record as absent",
			zap.String("namespace", string(ns)),
			zap.String("movie_id", movieID),
			zap.Error(err),
		)
		return false, nil
	}
	return true, nil
}

// Delete removes a record. Used by the retention sweep, never by the
// orchestrator's normal flow.
func (r *Repository) Delete(ctx context.Context, ns Namespace, movieID string) error {
	if err := r.store.Delete(ctx, r.taskKey(ns, movieID)); err != nil {
		return fmt.Errorf("delete task %s: %w", movieID, err)
	}
	return nil
}

// ListAll scans the namespace and returns every decodable record. Corrupt
// entries are logged and skipped so one bad value cannot halt a resume scan.
// Order is unspecified.
func (r *Repository) ListAll(ctx context.Context, ns Namespace) ([]*Record, error) {
	keys, err := r.store.Scan(ctx, r.key(taskKeyFragment(ns)))
	if err != nil {
		return nil, fmt.Errorf("scan %s tasks: %w", ns, err)
	}
	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		raw, err := r.store.Get(ctx, key)
		if errors.Is(err, statestore.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", key, err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			r.logger.Warn("skipping corrupt task record", zap.String("key", key), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// mark loads, mutates and saves a record. Marking a task that does not exist
// is a programming error and fails loud. Transitions out of COMPLETED are
// rejected: a terminal record is never re-entered.
func (r *Repository) mark(ctx context.Context, ns Namespace, movieID string, mutate func(*Record)) (*Record, error) {
	rec, err := r.Load(ctx, ns, movieID)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() {
		return nil, fmt.Errorf("task %s/%s is completed; refusing transition", ns, movieID)
	}
	mutate(rec)
	if err := r.Save(ctx, ns, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkProcessing moves the task into PROCESSING and clears any error.
func (r *Repository) MarkProcessing(ctx context.Context, ns Namespace, movieID string) error {
	_, err := r.mark(ctx, ns, movieID, func(rec *Record) {
		rec.Status = StatusProcessing
		rec.ErrorMsg = ""
	})
	return err
}

// MarkParsed moves the task into PARSED and clears any error.
func (r *Repository) MarkParsed(ctx context.Context, ns Namespace, movieID string) error {
	_, err := r.mark(ctx, ns, movieID, func(rec *Record) {
		rec.Status = StatusParsed
		rec.ErrorMsg = ""
	})
	return err
}

// MarkCompleted moves the task into COMPLETED, attaching an optional payload
// snapshot of the crawl result.
func (r *Repository) MarkCompleted(ctx context.Context, ns Namespace, movieID string, payload []byte) error {
	_, err := r.mark(ctx, ns, movieID, func(rec *Record) {
		rec.Status = StatusCompleted
		rec.ErrorMsg = ""
		rec.Payload = payload
	})
	return err
}

// MarkFailed moves the task into FAILED, records the error and increments the
// retry counter. RetryCount never decreases.
func (r *Repository) MarkFailed(ctx context.Context, ns Namespace, movieID, errMsg string) error {
	rec, err := r.mark(ctx, ns, movieID, func(rec *Record) {
		rec.Status = StatusFailed
		rec.ErrorMsg = errMsg
		rec.RetryCount++
	})
	if err != nil {
		return err
	}
	if rec.Abandoned() {
		r.logger.Error("task exhausted retry budget",
			zap.String("namespace", string(ns)),
			zap.String("movie_id", movieID),
			zap.Int("retry_count", rec.RetryCount),
			zap.String("error", errMsg),
		)
	}
	return nil
}

// AddKnownIDs records movie IDs already present in the relational store.
// Set-union semantics make repeated calls idempotent.
func (r *Repository) AddKnownIDs(ctx context.Context, ids ...string) error {
	if err := r.store.SAdd(ctx, r.key(keyKnownIDs), ids...); err != nil {
		return fmt.Errorf("add known ids: %w", err)
	}
	return nil
}

// KnownIDs returns the set of movie IDs already persisted to the database.
func (r *Repository) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	members, err := r.store.SMembers(ctx, r.key(keyKnownIDs))
	if err != nil {
		return nil, fmt.Errorf("get known ids: %w", err)
	}
	ids := make(map[string]struct{}, len(members))
	for _, m := range members {
		ids[m] = struct{}{}
	}
	return ids, nil
}

// AddCommentCompleted adds movieID to the durable comment-completed set. The
// set is the ultimate authority on comment completion and survives task
// record pruning.
func (r *Repository) AddCommentCompleted(ctx context.Context, movieID string) error {
	if err := r.store.SAdd(ctx, r.key(keyCommentCompleted), movieID); err != nil {
		return fmt.Errorf("add comment completed %s: %w", movieID, err)
	}
	return nil
}

// IsCommentCompleted checks the durable comment-completed set.
func (r *Repository) IsCommentCompleted(ctx context.Context, movieID string) (bool, error) {
	ok, err := r.store.SIsMember(ctx, r.key(keyCommentCompleted), movieID)
	if err != nil {
		return false, fmt.Errorf("check comment completed %s: %w", movieID, err)
	}
	return ok, nil
}

// CompletedSorts returns the sort orders already exhausted for movieID.
func (r *Repository) CompletedSorts(ctx context.Context, movieID string) ([]string, error) {
	raw, err := r.store.Get(ctx, r.key(keyCompletedSorts+movieID))
	if errors.Is(err, statestore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completed sorts %s: %w", movieID, err)
	}
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, ","), nil
}

// AddCompletedSort records that one sort order finished for movieID and
// returns the updated set. Single-worker execution makes the read-modify-
// write safe; a concurrent deployment would need a per-entity lock here.
func (r *Repository) AddCompletedSort(ctx context.Context, movieID, sort string) ([]string, error) {
	sorts, err := r.CompletedSorts(ctx, movieID)
	if err != nil {
		return nil, err
	}
	for _, s := range sorts {
		if s == sort {
			return sorts, nil
		}
	}
	sorts = append(sorts, sort)
	key := r.key(keyCompletedSorts + movieID)
	if err := r.store.Set(ctx, key, strings.Join(sorts, ","), 0); err != nil {
		return nil, fmt.Errorf("save completed sorts %s: %w", movieID, err)
	}
	return sorts, nil
}

// DeleteCompletedSorts removes the ephemeral per-sort marker. Callers must
// only do this after the durable completed-set write has succeeded.
func (r *Repository) DeleteCompletedSorts(ctx context.Context, movieID string) error {
	if err := r.store.Delete(ctx, r.key(keyCompletedSorts+movieID)); err != nil {
		return fmt.Errorf("delete completed sorts %s: %w", movieID, err)
	}
	return nil
}

// FeedOffset returns the persisted discovery feed offset, zero if unset.
func (r *Repository) FeedOffset(ctx context.Context) (int, error) {
	raw, err := r.store.Get(ctx, r.key(keyFeedOffset))
	if errors.Is(err, statestore.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get feed offset: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.logger.Warn("feed offset is not an integer; resetting to zero", zap.String("raw", raw))
		return 0, nil
	}
	return n, nil
}

// SetFeedOffset persists the next discovery feed offset.
func (r *Repository) SetFeedOffset(ctx context.Context, offset int) error {
	if err := r.store.Set(ctx, r.key(keyFeedOffset), strconv.Itoa(offset), 0); err != nil {
		return fmt.Errorf("set feed offset: %w", err)
	}
	return nil
}

// SweepCompleted deletes COMPLETED records whose last update is older than
// retention. Returns how many records were removed.
func (r *Repository) SweepCompleted(ctx context.Context, ns Namespace, retention time.Duration) (int, error) {
	records, err := r.ListAll(ctx, ns)
	if err != nil {
		return 0, err
	}
	cutoff := r.clock.Now().Add(-retention)
	removed := 0
	for _, rec := range records {
		if !rec.Terminal() || rec.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.Delete(ctx, ns, rec.MovieID); err != nil {
			return removed, err
		}
		removed++
		r.logger.Info("swept completed task",
			zap.String("namespace", string(ns)),
			zap.String("movie_id", rec.MovieID),
			zap.Time("updated_at", rec.UpdatedAt),
		)
	}
	return removed, nil
}
