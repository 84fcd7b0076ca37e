// Package validation runs the all-or-nothing settings transaction: proposed
// entries are merged over the stored ones and the whole merged set is
// validated before anything may be written.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
)

// ErrInvalidData reports proposed data that is not a map of setting entries.
var ErrInvalidData = errors.New("invalid changeset data")

// Result is the outcome of one transaction.
type Result struct {
	// Merged is stored data with the proposal applied. It is only meaningful
	// when Accepted is true.
	Merged models.SettingsData
	// Outcomes has one entry per merged or proposed setting id.
	Outcomes map[string]settings.Outcome
	Accepted bool
}

// Rejected lists ids whose outcome blocked the transaction, sorted.
func (r *Result) Rejected() []string {
	var ids []string
	for id, o := range r.Outcomes {
		if !o.IsValid() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type Engine struct {
	registry          *settings.Registry
	authorizer        authz.Authorizer
	allowUnrecognized bool
	logger            logging.Logger
}

type Option func(*Engine)

// WithAllowUnrecognized admits settings missing from the registry instead
// of failing the transaction.
func WithAllowUnrecognized(allow bool) Option {
	return func(e *Engine) { e.allowUnrecognized = allow }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(registry *settings.Registry, authorizer authz.Authorizer, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		authorizer: authorizer,
		logger:     logging.NewDiscardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "validation")
	return e
}

// proposal is one parsed entry; a nil entry removes the setting.
type proposal struct {
	id    string
	entry *models.SettingEntry
}

// parse checks the shape of proposed data: a JSON object mapping setting ids
// to null or to objects holding a "value" key.
func parse(proposed json.RawMessage) ([]proposal, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(proposed, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("%w: expected an object of settings", ErrInvalidData)
	}

	out := make([]proposal, 0, len(raw))
	for id, body := range raw {
		if isNull(body) {
			out = append(out, proposal{id: id})
			continue
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("%w: setting %q is not an object", ErrInvalidData, id)
		}
		value, ok := fields["value"]
		if !ok {
			return nil, fmt.Errorf("%w: setting %q has no value", ErrInvalidData, id)
		}
		if isNull(value) {
			out = append(out, proposal{id: id})
			continue
		}

		entry := &models.SettingEntry{Value: value}
		if t, ok := fields["type"]; ok {
			if err := json.Unmarshal(t, &entry.Type); err != nil {
				return nil, fmt.Errorf("%w: setting %q has a non-string type", ErrInvalidData, id)
			}
		}
		out = append(out, proposal{id: id, entry: entry})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// Run merges proposed over existing and validates every merged id against
// the registry. Capability is checked for the ids the actor touches.
func (e *Engine) Run(ctx context.Context, existing models.SettingsData, proposed json.RawMessage, actor authz.Actor) (*Result, error) {
	props, err := parse(proposed)
	if err != nil {
		return nil, err
	}

	merged := existing.Clone()
	touched := make(map[string]bool, len(props))
	outcomes := make(map[string]settings.Outcome, len(merged)+len(props))

	for _, p := range props {
		touched[p.id] = true
		if p.entry == nil {
			delete(merged, p.id)
			outcomes[p.id] = e.checkCapability(ctx, p.id, actor)
			continue
		}

		entry := *p.entry
		entry.UserID = actor.ID
		if s, ok := e.registry.Lookup(p.id); ok {
			entry.Type = s.Type
		}
		merged[p.id] = entry
	}

	for id, entry := range merged {
		s, ok := e.registry.Lookup(id)
		if !ok {
			outcomes[id] = e.registry.Validate(ctx, nil, entry.Value, actor)
			continue
		}
		if touched[id] {
			if o := e.checkCapability(ctx, id, actor); !o.IsValid() {
				outcomes[id] = o
				continue
			}
		}
		outcomes[id] = e.registry.Validate(ctx, s, entry.Value, actor)
	}

	res := &Result{Merged: merged, Outcomes: outcomes, Accepted: true}
	for id, o := range outcomes {
		if o.IsValid() || (e.allowUnrecognized && o.Code == settings.CodeUnrecognized) {
			continue
		}
		res.Accepted = false
		e.logger.Debug(ctx, "setting rejected", "setting", id, "code", o.Code, "message", o.Message)
	}
	return res, nil
}

func (e *Engine) checkCapability(ctx context.Context, id string, actor authz.Actor) settings.Outcome {
	capability := e.registry.CapabilityFor(id)
	if !e.authorizer.Can(ctx, actor, capability) {
		return settings.Outcome{
			Code:    settings.CodeForbidden,
			Message: fmt.Sprintf("Sorry, you are not allowed to edit this setting (requires %s).", capability),
		}
	}
	return settings.Valid()
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
