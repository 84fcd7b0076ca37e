package changesets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
)

// MemoryState is the table held by the in-memory store. It is cloned per
// transaction and swapped back on commit.
type MemoryState struct {
	nextID int64
	rows   map[int64]*models.Changeset
}

// NewMemoryState returns an empty table.
func NewMemoryState() *MemoryState {
	return &MemoryState{nextID: 1, rows: map[int64]*models.Changeset{}}
}

// Clone deep-copies the table.
func (s *MemoryState) Clone() *MemoryState {
	out := &MemoryState{nextID: s.nextID, rows: make(map[int64]*models.Changeset, len(s.rows))}
	for id, c := range s.rows {
		out.rows[id] = c.Clone()
	}
	return out
}

// MemoryRepository implements Repository over a MemoryState. When mu is
// non-nil every call takes it; transactional handles pass nil because the
// owner already holds the lock.
type MemoryRepository struct {
	mu     *sync.RWMutex
	state  *MemoryState
	policy Policy
	now    func() time.Time
}

// NewMemoryRepository binds a repository to state.
func NewMemoryRepository(mu *sync.RWMutex, state *MemoryState, policy Policy) *MemoryRepository {
	return &MemoryRepository{mu: mu, state: state, policy: policy, now: time.Now}
}

func (r *MemoryRepository) rlock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *MemoryRepository) lock() func() {
	if r.mu == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) FindByUUID(_ context.Context, uuid string) (int64, error) {
	defer r.rlock()()
	for id, c := range r.state.rows {
		if strings.EqualFold(c.UUID, uuid) {
			return id, nil
		}
	}
	return 0, common.ErrorNotFound
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (*models.Changeset, error) {
	defer r.rlock()()
	c, ok := r.state.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, statuses ...string) ([]*models.Changeset, error) {
	defer r.rlock()()
	var out []*models.Changeset
	for _, c := range r.state.rows {
		if len(statuses) > 0 && !contains(statuses, c.Status) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostID < out[j].PostID })
	return out, nil
}

func (r *MemoryRepository) ListDue(_ context.Context, now time.Time) ([]*models.Changeset, error) {
	defer r.rlock()()
	var out []*models.Changeset
	for _, c := range r.state.rows {
		if c.Status == models.StatusFuture && c.Date != nil && !c.Date.After(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(*out[j].Date) {
			return out[i].Date.Before(*out[j].Date)
		}
		return out[i].PostID < out[j].PostID
	})
	return out, nil
}

func (r *MemoryRepository) Save(_ context.Context, c *models.Changeset) (int64, error) {
	defer r.lock()()
	now := r.now().UTC()

	if c.PostID == 0 {
		if !r.policy.checkInsert(c) {
			return 0, common.ErrEmptyContent
		}
		c.PostID = r.state.nextID
		r.state.nextID++
		c.UUID = strings.ToLower(c.UUID)
		c.Version = 1
		c.CreatedAt = now
		c.UpdatedAt = now
		c.Data = dataOrEmpty(c.Data)
		r.state.rows[c.PostID] = c.Clone()
		return c.PostID, nil
	}

	stored, ok := r.state.rows[c.PostID]
	if !ok || stored.Version != c.Version {
		return 0, common.ErrVersionConflict
	}
	c.Version++
	c.UUID = stored.UUID
	c.CreatedAt = stored.CreatedAt
	c.UpdatedAt = now
	c.Data = dataOrEmpty(c.Data)
	r.state.rows[c.PostID] = c.Clone()
	return c.PostID, nil
}

func (r *MemoryRepository) Trash(_ context.Context, id int64) error {
	defer r.lock()()
	c, ok := r.state.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	c.Status = models.StatusTrash
	c.Version++
	c.UpdatedAt = r.now().UTC()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	defer r.lock()()
	if _, ok := r.state.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.state.rows, id)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
