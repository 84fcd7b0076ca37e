package repomanager

import (
	"context"

	"github.com/dmitrijs2005/changesetd/internal/server/repositories/changesets"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/options"
)

// Repositories groups the repositories bound to one handle, either the
// pool or an open transaction.
type Repositories struct {
	Changesets changesets.Repository
	Options    options.Repository
}

// RepositoryManager vends repositories and runs units of work atomically.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// Repositories returns non-transactional repositories.
	Repositories() Repositories
	// WithTx runs fn with repositories bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	Close() error
}
