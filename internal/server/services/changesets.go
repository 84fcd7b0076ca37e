// Package services holds the changeset state machine: reads filtered by
// capability, updates that move a changeset between statuses behind the
// settings transaction, publication and deletion.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/metrics"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
	"github.com/dmitrijs2005/changesetd/internal/server/validation"
	"github.com/dmitrijs2005/changesetd/internal/timex"
	"github.com/google/uuid"
)

// Read views.
const (
	ViewView  = "view"
	ViewEmbed = "embed"
	ViewEdit  = "edit"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidUUID reports whether s is a canonical lowercase UUID.
func ValidUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// Archiver keeps a copy of every published changeset.
type Archiver interface {
	Archive(ctx context.Context, c *models.Changeset) error
}

type nopArchiver struct{}

func (nopArchiver) Archive(context.Context, *models.Changeset) error { return nil }

// UpdateRequest carries the optional fields of an update. Nil fields are
// left unchanged; Data is absent when empty.
type UpdateRequest struct {
	Status *string
	Date   *string
	Title  *string
	Slug   *string
	Data   json.RawMessage
}

type UpdateResult struct {
	Changeset *models.Changeset
	// Outcomes is set when the request carried data.
	Outcomes map[string]settings.Outcome
	// NextUUID is the identifier to continue editing with after a publish.
	NextUUID string
}

type DeleteResult struct {
	// Deleted is true for a permanent delete, in which case Changeset is
	// the snapshot taken before removal. Otherwise Changeset is trashed.
	Deleted   bool
	Changeset *models.Changeset
}

type ChangesetService struct {
	repomanager repomanager.RepositoryManager
	registry    *settings.Registry
	engine      *validation.Engine
	authorizer  authz.Authorizer
	archiver    Archiver
	logger      logging.Logger
	now         func() time.Time
	newUUID     func() string
}

type Option func(*ChangesetService)

func WithArchiver(a Archiver) Option {
	return func(s *ChangesetService) { s.archiver = a }
}

func WithLogger(l logging.Logger) Option {
	return func(s *ChangesetService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *ChangesetService) { s.now = now }
}

func WithUUIDGenerator(gen func() string) Option {
	return func(s *ChangesetService) { s.newUUID = gen }
}

func NewChangesetService(m repomanager.RepositoryManager, registry *settings.Registry, engine *validation.Engine, authorizer authz.Authorizer, opts ...Option) *ChangesetService {
	s := &ChangesetService{
		repomanager: m,
		registry:    registry,
		engine:      engine,
		authorizer:  authorizer,
		archiver:    nopArchiver{},
		logger:      logging.NewDiscardLogger(),
		now:         time.Now,
		newUUID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "changesets")
	return s
}

// Get returns the changeset with uuid, omitting settings the actor may not see.
func (s *ChangesetService) Get(ctx context.Context, actor authz.Actor, id, view string) (*models.Changeset, error) {
	if !ValidUUID(id) {
		return nil, s.reject(ctx, newError(CodeInvalidUUID))
	}
	if err := s.checkView(ctx, actor, view); err != nil {
		return nil, err
	}

	repos := s.repomanager.Repositories()
	postID, err := repos.Changesets.FindByUUID(ctx, id)
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	c, err := repos.Changesets.Get(ctx, postID)
	if err != nil {
		return nil, s.storageError(ctx, err)
	}

	c.Data = s.visibleData(ctx, actor, c.Data)
	return c, nil
}

// List returns changesets in the given statuses, or every status but trash
// when none are given.
func (s *ChangesetService) List(ctx context.Context, actor authz.Actor, view string, statuses ...string) ([]*models.Changeset, error) {
	if err := s.checkView(ctx, actor, view); err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if !knownStatus(st) {
			return nil, s.reject(ctx, newError(CodeBadStatus))
		}
	}
	if len(statuses) == 0 {
		statuses = []string{models.StatusAutoDraft, models.StatusDraft, models.StatusPending, models.StatusFuture, models.StatusPublish}
	}

	list, err := s.repomanager.Repositories().Changesets.List(ctx, statuses...)
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	for _, c := range list {
		c.Data = s.visibleData(ctx, actor, c.Data)
	}
	return list, nil
}

func (s *ChangesetService) checkView(ctx context.Context, actor authz.Actor, view string) error {
	switch view {
	case "", ViewView, ViewEmbed:
	case ViewEdit:
		if !s.authorizer.Can(ctx, actor, authz.CapEdit) {
			return s.reject(ctx, newError(CodeForbiddenContext))
		}
	default:
		return s.reject(ctx, newError(CodeInvalidContext))
	}
	if !s.authorizer.Can(ctx, actor, authz.CapRead) {
		return s.reject(ctx, newError(CodeForbidden))
	}
	return nil
}

// visibleData drops settings whose capability the actor lacks.
func (s *ChangesetService) visibleData(ctx context.Context, actor authz.Actor, data models.SettingsData) models.SettingsData {
	can := s.canSee(ctx, actor)
	out := make(models.SettingsData, len(data))
	for id, e := range data {
		if can(id) {
			out[id] = e
		}
	}
	return out
}

// visibleOutcomes applies the visibleData rule to a validity map.
func (s *ChangesetService) visibleOutcomes(ctx context.Context, actor authz.Actor, outcomes map[string]settings.Outcome) map[string]settings.Outcome {
	if outcomes == nil {
		return nil
	}
	can := s.canSee(ctx, actor)
	out := make(map[string]settings.Outcome, len(outcomes))
	for id, o := range outcomes {
		if can(id) {
			out[id] = o
		}
	}
	return out
}

// canSee returns a per-request check of whether actor may see a setting id.
// Decisions are cached per capability.
func (s *ChangesetService) canSee(ctx context.Context, actor authz.Actor) func(id string) bool {
	allowed := map[string]bool{}
	return func(id string) bool {
		capability := s.registry.CapabilityFor(id)
		ok, seen := allowed[capability]
		if !seen {
			ok = s.authorizer.Can(ctx, actor, capability)
			allowed[capability] = ok
		}
		return ok
	}
}

// Update applies req to the changeset with uuid, creating it when missing.
func (s *ChangesetService) Update(ctx context.Context, actor authz.Actor, id string, req UpdateRequest) (*UpdateResult, error) {
	if !ValidUUID(id) {
		return nil, s.reject(ctx, newError(CodeInvalidUUID))
	}

	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && (*req.Status == models.StatusPublish || *req.Status == models.StatusFuture) &&
		!s.authorizer.Can(ctx, actor, authz.CapPublish) {
		return nil, s.reject(ctx, newError(CodePublishUnauthorized))
	}
	if existing == nil && !s.authorizer.Can(ctx, actor, authz.CapCreate) {
		return nil, s.reject(ctx, newReasonError(CodeForbidden, ReasonCannotCreate, nil))
	}
	if existing != nil && !s.authorizer.Can(ctx, actor, authz.CapEdit) {
		return nil, s.reject(ctx, newReasonError(CodeForbidden, ReasonCannotEdit, nil))
	}

	if existing != nil && amendsClosed(existing, req) {
		return nil, s.reject(ctx, newError(CodeAlreadyPublished))
	}

	if req.Slug != nil && !strings.EqualFold(*req.Slug, id) {
		return nil, s.reject(ctx, newError(CodeCannotEditSlug))
	}

	cs := existing.Clone()
	if cs == nil {
		cs = &models.Changeset{UUID: id, Status: models.StatusAutoDraft, Author: actor.ID, Data: models.SettingsData{}}
	}
	from := cs.Status

	var outcomes map[string]settings.Outcome
	if len(req.Data) > 0 {
		res, err := s.engine.Run(ctx, cs.Data, req.Data, actor)
		if errors.Is(err, validation.ErrInvalidData) {
			e := newError(CodeInvalidData)
			e.Err = err
			return nil, s.reject(ctx, e)
		}
		if err != nil {
			return nil, err
		}
		if !res.Accepted {
			return nil, s.reject(ctx, transactionFail(res.Outcomes, len(res.Rejected())))
		}
		cs.Data = res.Merged
		outcomes = res.Outcomes
	}

	if req.Status != nil && !requestableStatus(*req.Status) {
		return nil, s.reject(ctx, newError(CodeBadStatus))
	}
	status := cs.Status
	if req.Status != nil {
		status = *req.Status
	}

	now := s.now().UTC()
	if err := s.applyDate(ctx, cs, req, status, now); err != nil {
		return nil, err
	}

	if req.Title != nil {
		cs.Title = *req.Title
	}
	cs.Status = status
	if status == models.StatusPublish {
		cs.Date = &now
	}

	if err := s.commit(ctx, cs); err != nil {
		return nil, err
	}

	metrics.Transitions.WithLabelValues(from, cs.Status).Inc()
	s.logger.Info(ctx, "changeset saved", "uuid", cs.UUID, "from", from, "to", cs.Status, "actor", actor.ID, "settings", len(cs.Data))

	result := &UpdateResult{Outcomes: s.visibleOutcomes(ctx, actor, outcomes)}
	if cs.Status == models.StatusPublish {
		result.NextUUID = s.successor(cs.UUID)
		metrics.Published.WithLabelValues("request").Inc()
		s.archive(ctx, cs)
	}

	cs.Data = s.visibleData(ctx, actor, cs.Data)
	result.Changeset = cs
	return result, nil
}

// amendsClosed reports whether req tries to change a published changeset,
// or to amend or publish a trashed one. A trashed changeset may still be
// restored to draft or pending.
func amendsClosed(c *models.Changeset, req UpdateRequest) bool {
	switch c.Status {
	case models.StatusPublish:
		return len(req.Data) > 0 || req.Date != nil || req.Status != nil
	case models.StatusTrash:
		return len(req.Data) > 0 ||
			(req.Status != nil && (*req.Status == models.StatusPublish || *req.Status == models.StatusFuture))
	}
	return false
}

// applyDate validates the requested date against the resulting status and
// stores it on cs.
func (s *ChangesetService) applyDate(ctx context.Context, cs *models.Changeset, req UpdateRequest, status string, now time.Time) error {
	if req.Date != nil {
		date, err := timex.ParseGMT(*req.Date)
		if err != nil {
			e := newError(CodeBadDate)
			e.Err = err
			return s.reject(ctx, e)
		}
		if status == models.StatusAutoDraft {
			return s.reject(ctx, newError(CodeAutoDraftDate))
		}
		explicit := req.Status != nil && *req.Status != models.StatusFuture
		if !explicit && !date.After(now) {
			return s.reject(ctx, newError(CodeNotFutureDate))
		}
		cs.Date = &date
	}

	if status == models.StatusFuture && (cs.Date == nil || !cs.Date.After(now)) {
		return s.reject(ctx, newError(CodeNotFutureDate))
	}
	return nil
}

// commit saves cs and, when it is published, applies its settings, all in
// one transaction.
func (s *ChangesetService) commit(ctx context.Context, cs *models.Changeset) error {
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if _, err := r.Changesets.Save(ctx, cs); err != nil {
			return err
		}
		if cs.Status == models.StatusPublish {
			return s.applySettings(ctx, r, cs)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var applyErr *applyError
	switch {
	case errors.Is(err, common.ErrEmptyContent):
		return s.reject(ctx, newReasonError(CodeSaveFailure, ReasonEmptyContent, err))
	case errors.Is(err, common.ErrVersionConflict):
		e := newError(CodeConflict)
		e.Err = err
		return s.reject(ctx, e)
	case errors.As(err, &applyErr):
		return s.reject(ctx, newReasonError(CodeSaveFailure, ReasonApplyFailed, err))
	default:
		s.logger.Error(ctx, "changeset commit failed", "uuid", cs.UUID, "error", err)
		return s.reject(ctx, newReasonError(CodeSaveFailure, ReasonStorage, err))
	}
}

type applyError struct{ err error }

func (e *applyError) Error() string { return e.err.Error() }
func (e *applyError) Unwrap() error { return e.err }

// applySettings writes every registered setting of cs to the options store.
// Settings missing from the registry are skipped.
func (s *ChangesetService) applySettings(ctx context.Context, r repomanager.Repositories, cs *models.Changeset) error {
	ids := make([]string, 0, len(cs.Data))
	for id := range cs.Data {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		setting, ok := s.registry.Lookup(id)
		if !ok {
			s.logger.Warn(ctx, "skipping unregistered setting on publish", "uuid", cs.UUID, "setting", id)
			continue
		}
		if err := s.registry.Apply(ctx, r.Options, setting, cs.Data[id].Value); err != nil {
			return &applyError{err: err}
		}
	}
	return nil
}

// successor returns a fresh changeset uuid distinct from published.
func (s *ChangesetService) successor(published string) string {
	for {
		next := strings.ToLower(s.newUUID())
		if next != published && ValidUUID(next) {
			return next
		}
	}
}

func (s *ChangesetService) archive(ctx context.Context, cs *models.Changeset) {
	if err := s.archiver.Archive(ctx, cs); err != nil {
		s.logger.Error(ctx, "changeset archive failed", "uuid", cs.UUID, "error", err)
	}
}

// Delete trashes the changeset with uuid or, with force, removes it.
func (s *ChangesetService) Delete(ctx context.Context, actor authz.Actor, id string, force bool) (*DeleteResult, error) {
	if !ValidUUID(id) {
		return nil, s.reject(ctx, newError(CodeInvalidUUID))
	}
	if !s.authorizer.Can(ctx, actor, authz.CapDelete) {
		return nil, s.reject(ctx, newError(CodeForbidden))
	}

	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, s.reject(ctx, newError(CodeNotFound))
	}

	if !force {
		if existing.Status == models.StatusTrash {
			return nil, s.reject(ctx, newError(CodeAlreadyTrashed))
		}
		err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
			return r.Changesets.Trash(ctx, existing.PostID)
		})
		if err != nil {
			return nil, s.storageError(ctx, err)
		}
		metrics.Transitions.WithLabelValues(existing.Status, models.StatusTrash).Inc()
		s.logger.Info(ctx, "changeset trashed", "uuid", id, "actor", actor.ID)

		trashed := existing.Clone()
		trashed.Status = models.StatusTrash
		trashed.Version++
		trashed.Data = s.visibleData(ctx, actor, trashed.Data)
		return &DeleteResult{Changeset: trashed}, nil
	}

	err = s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		return r.Changesets.Delete(ctx, existing.PostID)
	})
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	metrics.Transitions.WithLabelValues(existing.Status, models.StatusDeleted).Inc()
	s.logger.Info(ctx, "changeset deleted", "uuid", id, "actor", actor.ID)

	existing.Data = s.visibleData(ctx, actor, existing.Data)
	return &DeleteResult{Deleted: true, Changeset: existing}, nil
}

// find loads the changeset with uuid, or nil when there is none.
func (s *ChangesetService) find(ctx context.Context, id string) (*models.Changeset, error) {
	repos := s.repomanager.Repositories()
	postID, err := repos.Changesets.FindByUUID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	c, err := repos.Changesets.Get(ctx, postID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	return c, nil
}

func (s *ChangesetService) storageError(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return s.reject(ctx, newError(CodeNotFound))
	}
	s.logger.Error(ctx, "changeset storage error", "error", err)
	return errors.Join(common.ErrorInternal, err)
}

func (s *ChangesetService) reject(ctx context.Context, e *Error) *Error {
	metrics.Rejections.WithLabelValues(e.Code).Inc()
	s.logger.Debug(ctx, "changeset request rejected", "code", e.Code, "reason", e.Reason)
	return e
}

func requestableStatus(st string) bool {
	switch st {
	case models.StatusDraft, models.StatusPending, models.StatusFuture, models.StatusPublish:
		return true
	}
	return false
}

func knownStatus(st string) bool {
	return requestableStatus(st) || st == models.StatusAutoDraft || st == models.StatusTrash
}

// SettingValue returns the live value of a registered setting the actor may see.
func (s *ChangesetService) SettingValue(ctx context.Context, actor authz.Actor, id string) (json.RawMessage, error) {
	if _, ok := s.registry.Lookup(id); !ok {
		return nil, s.reject(ctx, newError(CodeNotFound))
	}
	if !s.authorizer.Can(ctx, actor, s.registry.CapabilityFor(id)) {
		return nil, s.reject(ctx, newError(CodeForbidden))
	}
	v, err := s.registry.Value(ctx, s.repomanager.Repositories().Options, id)
	if err != nil {
		return nil, s.storageError(ctx, err)
	}
	return v, nil
}
