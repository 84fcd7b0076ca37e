package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/changesetd/internal/server/repositories/changesets"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/options"
)

// MemoryRepositoryManager keeps all tables in process. Transactions run
// against a copy of the tables under the write lock; the copy replaces the
// live tables only when fn succeeds, in place, so handles returned by
// Repositories observe the commit.
type MemoryRepositoryManager struct {
	mu         sync.RWMutex
	changesets *changesets.MemoryState
	options    *options.MemoryState
	policy     changesets.Policy
}

func NewMemoryRepositoryManager(policy changesets.Policy) *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		changesets: changesets.NewMemoryState(),
		options:    options.NewMemoryState(),
		policy:     policy,
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

// Repositories returns handles over the live tables. They must not be used
// from inside a WithTx callback.
func (m *MemoryRepositoryManager) Repositories() Repositories {
	return Repositories{
		Changesets: changesets.NewMemoryRepository(&m.mu, m.changesets, m.policy),
		Options:    options.NewMemoryRepository(&m.mu, m.options),
	}
}

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs := m.changesets.Clone()
	opts := m.options.Clone()

	if err := fn(ctx, Repositories{
		Changesets: changesets.NewMemoryRepository(nil, cs, m.policy),
		Options:    options.NewMemoryRepository(nil, opts),
	}); err != nil {
		return err
	}

	*m.changesets = *cs
	*m.options = *opts
	return nil
}

func (m *MemoryRepositoryManager) Close() error { return nil }
