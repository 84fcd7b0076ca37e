package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/metrics"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

// PublishDue publishes every future changeset whose date has passed and
// returns how many were published. A changeset that fails is logged and
// skipped; the first such error is returned after the rest are processed.
func (s *ChangesetService) PublishDue(ctx context.Context) (int, error) {
	now := s.now().UTC()

	due, err := s.repomanager.Repositories().Changesets.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	var (
		published int
		firstErr  error
	)
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		c.Status = models.StatusPublish
		c.Date = &now
		if err := s.commit(ctx, c); err != nil {
			var e *Error
			if errors.As(err, &e) && e.Code == CodeConflict {
				s.logger.Info(ctx, "scheduled changeset changed concurrently, skipping", "uuid", c.UUID)
				continue
			}
			s.logger.Error(ctx, "scheduled publish failed", "uuid", c.UUID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		published++
		metrics.Transitions.WithLabelValues(models.StatusFuture, models.StatusPublish).Inc()
		metrics.Published.WithLabelValues("scheduler").Inc()
		s.logger.Info(ctx, "scheduled changeset published", "uuid", c.UUID, "actor", common.SystemActorID)
		s.archive(ctx, c)
	}
	return published, firstErr
}

// RunScheduler calls PublishDue every interval until ctx is done.
func (s *ChangesetService) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PublishDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn(ctx, "scheduler pass finished with errors", "error", err)
			}
		}
	}
}
