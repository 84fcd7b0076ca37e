package options

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

// MemoryState is the option table of the in-memory store.
type MemoryState struct {
	rows map[string]models.Option
}

func NewMemoryState() *MemoryState {
	return &MemoryState{rows: map[string]models.Option{}}
}

func (s *MemoryState) Clone() *MemoryState {
	out := &MemoryState{rows: make(map[string]models.Option, len(s.rows))}
	for k, v := range s.rows {
		v.Value = append(json.RawMessage(nil), v.Value...)
		out.rows[k] = v
	}
	return out
}

// MemoryRepository implements Repository over a MemoryState; a nil mu
// means the caller already holds the store lock.
type MemoryRepository struct {
	mu    *sync.RWMutex
	state *MemoryState
}

func NewMemoryRepository(mu *sync.RWMutex, state *MemoryState) *MemoryRepository {
	return &MemoryRepository{mu: mu, state: state}
}

func (r *MemoryRepository) Get(_ context.Context, name string) (*models.Option, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	o, ok := r.state.rows[name]
	if !ok {
		return nil, common.ErrorNotFound
	}
	o.Value = append(json.RawMessage(nil), o.Value...)
	return &o, nil
}

func (r *MemoryRepository) Set(_ context.Context, name string, value json.RawMessage) error {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	r.state.rows[name] = models.Option{
		Name:      name,
		Value:     append(json.RawMessage(nil), value...),
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}
