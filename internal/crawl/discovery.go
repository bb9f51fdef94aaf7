package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fairyland/douban-crawler/internal/extract"
	"github.com/fairyland/douban-crawler/internal/task"
)

// discoverMovies walks the recommendation feed from the persisted offset and
// mints a PENDING info task for every movie id not already known. The offset
// is advanced only after the page's task records exist, so a crash between
// the two re-reads the same page instead of skipping it; duplicate ids are
// absorbed by the dedup checks.
func (e *Engine) discoverMovies(ctx context.Context, logger *zap.Logger) ([]string, error) {
	known, err := e.repo.KnownIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known ids: %w", err)
	}

	var discovered []string
	for page := 0; page < e.cfg.MaxFeedPages; page++ {
		if err := ctx.Err(); err != nil {
			return discovered, err
		}

		offset, err := e.repo.FeedOffset(ctx)
		if err != nil {
			return discovered, err
		}

		feed, err := e.fetchFeedPage(ctx, offset)
		if err != nil {
			return discovered, fmt.Errorf("feed page at %d: %w", offset, err)
		}
		logger.Info("feed page fetched",
			zap.Int("offset", offset),
			zap.Int("items", len(feed.Items)),
		)

		for _, item := range feed.Items {
			if item.Type != "movie" || item.ID == "" {
				continue
			}
			fresh, err := e.enqueueMovie(ctx, known, item.ID)
			if err != nil {
				return discovered, err
			}
			if fresh {
				discovered = append(discovered, item.ID)
				TotalMoviesDiscovered.Inc()
			}
		}

		if err := e.repo.SetFeedOffset(ctx, feed.Start+feed.Count); err != nil {
			return discovered, err
		}

		if len(feed.Items) == 0 || len(feed.Items) < e.cfg.FeedPageSize {
			break
		}
		e.pacer.Pause(ctx)
	}
	return discovered, nil
}

// enqueueMovie creates a PENDING info task for movieID unless it is already
// known or tracked. Returns true when a new task was minted.
func (e *Engine) enqueueMovie(ctx context.Context, known map[string]struct{}, movieID string) (bool, error) {
	if _, ok := known[movieID]; ok {
		return false, nil
	}
	exists, err := e.repo.Exists(ctx, task.NamespaceInfo, movieID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := e.repo.Create(ctx, task.NamespaceInfo, movieID); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) fetchFeedPage(ctx context.Context, offset int) (extract.FeedPage, error) {
	response, err := e.fetchWithRetry(ctx, FetchRequest{
		URL:     e.feedURL(offset),
		Headers: e.cfg.Headers,
		Cookies: e.cfg.Cookies,
	})
	if err != nil {
		return extract.FeedPage{}, err
	}
	return e.extractor.FeedPage(response.Body)
}
