// Package settings is the registry of settings a changeset may stage: the
// rules each value must satisfy, the capability needed to touch it and how it
// is applied when a changeset is published.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/options"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Value kinds accepted by Setting.Kind.
const (
	KindAny     = ""
	KindString  = "string"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindObject  = "object"
)

const (
	TypeOption = "option"
	// DefaultCapability guards settings that do not name their own.
	DefaultCapability = authz.CapCustomize
)

// ValidateFunc is a custom check run after the declarative rules pass.
type ValidateFunc func(ctx context.Context, value any, actor authz.Actor) Outcome

// Setting describes one registered setting.
type Setting struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	Kind       string `yaml:"kind"`
	Capability string `yaml:"capability"`
	// Rules use validator tag syntax, e.g. "required,max=64".
	Rules string `yaml:"rules"`
	// Code and Message override the outcome reported when Rules fail.
	Code    string `yaml:"code"`
	Message string `yaml:"message"`
	Default any    `yaml:"default"`

	Validate ValidateFunc `yaml:"-"`
}

// OptionName is the key the setting is applied under in the options store.
func (s *Setting) OptionName() string {
	if s.Type == "" || s.Type == TypeOption {
		return s.ID
	}
	return s.Type + ":" + s.ID
}

var ErrDuplicate = errors.New("duplicate setting")

// Registry maps setting ids to definitions. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	settings map[string]*Setting
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		settings: map[string]*Setting{},
		validate: validator.New(),
	}
}

// Register adds s. Ids are unique.
func (r *Registry) Register(s Setting) error {
	if s.ID == "" {
		return errors.New("setting id is empty")
	}
	switch s.Kind {
	case KindAny, KindString, KindNumber, KindBoolean, KindObject:
	default:
		return fmt.Errorf("setting %s: unknown kind %q", s.ID, s.Kind)
	}
	if s.Type == "" {
		s.Type = TypeOption
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.settings[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	r.settings[s.ID] = &s
	return nil
}

// MustRegister is Register for static definitions.
func (r *Registry) MustRegister(settings ...Setting) *Registry {
	for _, s := range settings {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Lookup(id string) (*Setting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[id]
	return s, ok
}

// IDs returns registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.settings))
	for id := range r.settings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Capability returns the capability required to see or edit s.
func (r *Registry) Capability(s *Setting) string {
	if s == nil || s.Capability == "" {
		return DefaultCapability
	}
	return s.Capability
}

// CapabilityFor is Capability by id; unregistered ids need the default.
func (r *Registry) CapabilityFor(id string) string {
	s, _ := r.Lookup(id)
	return r.Capability(s)
}

// Validate checks value against s without side effects. A nil s yields
// unrecognized.
func (r *Registry) Validate(ctx context.Context, s *Setting, value json.RawMessage, actor authz.Actor) Outcome {
	if s == nil {
		return Outcome{Code: CodeUnrecognized, Message: "Setting is not registered."}
	}

	var v any
	if len(value) > 0 {
		if err := json.Unmarshal(value, &v); err != nil {
			return Outcome{Code: CodeInvalidValue, Message: "Value is not valid JSON."}
		}
	}

	if !kindMatches(s.Kind, v) {
		return Outcome{Code: CodeInvalidType, Message: fmt.Sprintf("Value must be of type %s.", s.Kind)}
	}

	if s.Rules != "" {
		if err := r.checkRules(v, s.Rules); err != nil {
			code := s.Code
			if code == "" {
				code = CodeInvalidValue
			}
			msg := s.Message
			if msg == "" {
				msg = err.Error()
			}
			return Outcome{Code: code, Message: msg}
		}
	}

	if s.Validate != nil {
		return s.Validate(ctx, v, actor)
	}
	return Valid()
}

// checkRules runs validator tags against a decoded JSON value. Tags that do
// not apply to the value's type make validator panic; that counts as a
// failed rule.
func (r *Registry) checkRules(v any, rules string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rules %q do not apply to value: %v", rules, p)
		}
	}()
	return r.validate.Var(v, rules)
}

func kindMatches(kind string, v any) bool {
	switch kind {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// Apply makes value the live value of s.
func (r *Registry) Apply(ctx context.Context, opts options.Repository, s *Setting, value json.RawMessage) error {
	if err := opts.Set(ctx, s.OptionName(), value); err != nil {
		return fmt.Errorf("apply %s: %w", s.ID, err)
	}
	return nil
}

// Value returns the live value of setting id, falling back to its default.
// Unregistered ids yield common.ErrorNotFound.
func (r *Registry) Value(ctx context.Context, opts options.Repository, id string) (json.RawMessage, error) {
	s, ok := r.Lookup(id)
	if !ok {
		return nil, common.ErrorNotFound
	}

	o, err := opts.Get(ctx, s.OptionName())
	if err == nil {
		return o.Value, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	return json.Marshal(s.Default)
}

type registryFile struct {
	Settings []Setting `yaml:"settings"`
}

// LoadFile registers every setting defined in a YAML file of the form
//
//	settings:
//	  - id: blogname
//	    kind: string
//	    rules: max=255
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.Load(data)
}

// Load is LoadFile over in-memory YAML.
func (r *Registry) Load(data []byte) error {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	for _, s := range f.Settings {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
