package options

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

// Repository holds the live values of settings, written when a changeset is published.
type Repository interface {
	// Get returns the stored option or common.ErrorNotFound.
	Get(ctx context.Context, name string) (*models.Option, error)
	Set(ctx context.Context, name string, value json.RawMessage) error
}
