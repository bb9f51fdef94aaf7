package crawl

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/database"
	"github.com/fairyland/douban-crawler/internal/task"
)

// CrawlComments runs one comment-crawl pass over every known movie id plus
// any comment tasks left resumable from previous runs. A movie on the durable
// completed set is skipped without a single fetch.
func (e *Engine) CrawlComments(ctx context.Context) error {
	runLogger := e.logger.With(zap.String("run_id", uuid.NewString()))

	targets, err := e.commentTargets(ctx)
	if err != nil {
		return err
	}
	runLogger.Info("comment pass", zap.Int("targets", len(targets)))

	for _, movieID := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.driveComments(ctx, runLogger, movieID)
		e.pacer.Pause(ctx)
	}
	return nil
}

// commentTargets merges the known-id set with resumable comment tasks.
// Order is unspecified but duplicates are not.
func (e *Engine) commentTargets(ctx context.Context) ([]string, error) {
	known, err := e.repo.KnownIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}
	records, err := e.repo.ListAll(ctx, task.NamespaceComment)
	if err != nil {
		return nil, fmt.Errorf("resume scan: %w", err)
	}
	for _, rec := range records {
		if rec.Resumable() {
			known[rec.MovieID] = struct{}{}
		}
	}
	targets := make([]string, 0, len(known))
	for id := range known {
		targets = append(targets, id)
	}
	slices.Sort(targets)
	return targets, nil
}

// driveComments walks every configured sort for one movie and records
// completion. The durable completed-set write happens before the task is
// marked completed, and the per-sort marker is deleted last; a crash at any
// point either resumes the unfinished sorts or finds the durable set already
// written.
func (e *Engine) driveComments(ctx context.Context, logger *zap.Logger, movieID string) {
	logger = logger.With(zap.String("movie_id", movieID))

	done, err := e.repo.IsCommentCompleted(ctx, movieID)
	if err != nil {
		logger.Error("cannot check completed set", zap.Error(err))
		return
	}
	if done {
		logger.Debug("comments already completed")
		return
	}

	if err := e.ensureCommentTask(ctx, movieID); err != nil {
		logger.Error("cannot ensure comment task", zap.Error(err))
		return
	}
	rec, err := e.repo.Load(ctx, task.NamespaceComment, movieID)
	if err != nil {
		logger.Error("cannot load comment task", zap.Error(err))
		return
	}
	if !rec.Resumable() {
		return
	}

	if err := e.repo.MarkProcessing(ctx, task.NamespaceComment, movieID); err != nil {
		logger.Error("cannot enter processing", zap.Error(err))
		return
	}

	doneSorts, err := e.repo.CompletedSorts(ctx, movieID)
	if err != nil {
		logger.Error("cannot read sort marker", zap.Error(err))
		return
	}
	for _, sort := range e.cfg.CommentSorts {
		if slices.Contains(doneSorts, sort) {
			continue
		}
		if err := e.walkSort(ctx, logger, movieID, sort); err != nil {
			e.failMovie(ctx, logger, task.NamespaceComment, movieID, err)
			return
		}
		if _, err := e.repo.AddCompletedSort(ctx, movieID, sort); err != nil {
			logger.Error("cannot record completed sort", zap.Error(err))
			return
		}
		// The delay applies across sort boundaries too, not just page turns.
		e.pacer.Pause(ctx)
	}

	if err := e.repo.MarkParsed(ctx, task.NamespaceComment, movieID); err != nil {
		logger.Error("cannot mark parsed", zap.Error(err))
		return
	}

	// Durable completion first, then the task record, then the ephemeral
	// marker. Reordering these re-crawls or, worse, skips work after a crash.
	if err := e.repo.AddCommentCompleted(ctx, movieID); err != nil {
		logger.Error("cannot write completed set", zap.Error(err))
		return
	}
	if err := e.repo.MarkCompleted(ctx, task.NamespaceComment, movieID, nil); err != nil {
		logger.Error("cannot mark completed", zap.Error(err))
		return
	}
	if err := e.repo.DeleteCompletedSorts(ctx, movieID); err != nil {
		logger.Warn("cannot delete sort marker", zap.Error(err))
	}
	TotalTasksCompleted.WithLabelValues(string(task.NamespaceComment)).Inc()
	logger.Info("comments crawled")
}

func (e *Engine) ensureCommentTask(ctx context.Context, movieID string) error {
	exists, err := e.repo.Exists(ctx, task.NamespaceComment, movieID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = e.repo.Create(ctx, task.NamespaceComment, movieID)
	return err
}

// walkSort paginates one ordering until exhaustion or the page ceiling.
// Every extracted comment is upserted before the next page is fetched.
func (e *Engine) walkSort(ctx context.Context, logger *zap.Logger, movieID, sort string) error {
	start := 0
	for page := 0; page < e.cfg.MaxCommentPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		response, err := e.fetchWithRetry(ctx, FetchRequest{
			URL:     e.commentsURL(movieID, sort, start),
			Headers: e.cfg.Headers,
			Cookies: e.cfg.Cookies,
		})
		if err != nil {
			return fmt.Errorf("comments %s sort %s start %d: %w", movieID, sort, start, err)
		}
		commentPage, err := e.extractor.CommentPage(response.Body)
		if err != nil {
			return fmt.Errorf("parse comments %s: %w", movieID, err)
		}
		if len(commentPage.Comments) == 0 {
			break
		}

		for _, comment := range commentPage.Comments {
			if err := e.movies.UpsertComment(ctx, database.CommentRow{
				MovieID:     movieID,
				CommentID:   comment.CommentID,
				Username:    comment.Username,
				Rating:      comment.Rating,
				Content:     comment.Content,
				UsefulCount: comment.UsefulCount,
				CommentTime: comment.CommentTime,
			}); err != nil {
				return fmt.Errorf("upsert comment %s: %w", comment.CommentID, err)
			}
			TotalCommentsScraped.Inc()
		}
		logger.Debug("comment page saved",
			zap.String("sort", sort),
			zap.Int("start", start),
			zap.Int("comments", len(commentPage.Comments)),
		)

		if !commentPage.HasNext {
			break
		}
		start += e.cfg.PageSize
		e.pacer.Pause(ctx)
	}
	return nil
}
