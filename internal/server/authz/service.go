// Package authz answers capability questions for actors using a casbin
// policy. Subjects are "user:<id>" and "role:<name>"; objects are capability
// names and may be matched with keyMatch wildcards.
package authz

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/metrics"
	"github.com/fsnotify/fsnotify"
)

var (
	//go:embed model.conf
	modelText string
	//go:embed policy.csv
	defaultPolicy string
)

// Authorizer decides whether an actor holds a capability.
type Authorizer interface {
	Can(ctx context.Context, actor Actor, capability string) bool
}

type Config struct {
	// PolicyPath is a casbin CSV policy file. Empty selects Policy, or the
	// built-in policy when Policy is empty too.
	PolicyPath string
	Policy     string
	Logger     logging.Logger
}

// Service is a casbin-backed Authorizer whose policy can be reloaded.
type Service struct {
	cfg      Config
	enforcer *casbin.Enforcer
	logger   logging.Logger
	mu       sync.RWMutex
}

func NewService(cfg Config) (*Service, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz: invalid model: %w", err)
	}

	var adapter persist.Adapter
	switch {
	case cfg.PolicyPath != "":
		if _, err := os.Stat(cfg.PolicyPath); err != nil {
			return nil, fmt.Errorf("authz: policy file: %w", err)
		}
		adapter = fileadapter.NewAdapter(cfg.PolicyPath)
	case cfg.Policy != "":
		adapter = stringadapter.NewAdapter(cfg.Policy)
	default:
		adapter = stringadapter.NewAdapter(defaultPolicy)
	}

	enf, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	return &Service{cfg: cfg, enforcer: enf, logger: logger.With("component", "authz")}, nil
}

// Can reports whether any of the actor's subjects is granted capability.
// Enforcement errors deny.
func (s *Service) Can(ctx context.Context, actor Actor, capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := false
	for _, sub := range actor.Subjects() {
		ok, err := s.enforcer.Enforce(sub, capability)
		if err != nil {
			s.logger.Error(ctx, "authz: enforce failed", "subject", sub, "capability", capability, "error", err)
			break
		}
		if ok {
			allowed = true
			break
		}
	}

	metrics.AuthzDecisions.WithLabelValues(capability, metrics.Result(allowed)).Inc()
	if !allowed {
		s.logger.Debug(ctx, "authz denied", "actor", actor.ID, "roles", strings.Join(actor.Roles, ","), "capability", capability)
	}
	return allowed
}

// ReloadPolicy reloads policy data from its source.
func (s *Service) ReloadPolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: reload policy failed: %w", err)
	}
	s.logger.Info(ctx, "authz policy reloaded")
	return nil
}

// ErrNoPolicyFile is returned by Watch when the policy is not file-backed.
var ErrNoPolicyFile = errors.New("authz: policy is not file-backed")

// Watch reloads the policy whenever its file is written, until ctx is done.
// The returned channel receives the outcome of each reload and is closed
// when watching stops.
func (s *Service) Watch(ctx context.Context) (<-chan error, error) {
	if s.cfg.PolicyPath == "" {
		return nil, ErrNoPolicyFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(s.cfg.PolicyPath); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch file %s: %w", s.cfg.PolicyPath, err)
	}

	out := make(chan error, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				err := s.ReloadPolicy(ctx)
				if err != nil {
					s.logger.Error(ctx, "authz policy reload failed", "path", s.cfg.PolicyPath, "error", err)
				}
				select {
				case out <- err:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn(ctx, "authz policy watcher error", "error", err)
			}
		}
	}()

	return out, nil
}
