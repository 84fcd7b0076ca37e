package changesets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

// Repository persists changesets. Handles are opaque int64 post ids.
type Repository interface {
	// FindByUUID resolves a canonical UUID to its post id, comparing
	// case-insensitively. Returns common.ErrorNotFound when absent.
	FindByUUID(ctx context.Context, uuid string) (int64, error)
	Get(ctx context.Context, id int64) (*models.Changeset, error)
	// List returns changesets with any of the given statuses, all when empty.
	List(ctx context.Context, statuses ...string) ([]*models.Changeset, error)
	// ListDue returns future changesets whose date is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*models.Changeset, error)
	// Save inserts when c.PostID is zero and updates otherwise, returning the
	// post id. Updates compare c.Version and fail with
	// common.ErrVersionConflict on mismatch; on success c.Version is bumped.
	Save(ctx context.Context, c *models.Changeset) (int64, error)
	Trash(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// Policy tunes what the store accepts.
type Policy struct {
	// RejectEmptyContent refuses inserts of changesets that have neither a
	// title nor data, failing with common.ErrEmptyContent.
	RejectEmptyContent bool
}

func (p Policy) checkInsert(c *models.Changeset) bool {
	return !(p.RejectEmptyContent && c.IsEmpty())
}
