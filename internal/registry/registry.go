// Package registry maps inbound paths to backend targets.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"service-gateway/internal/config"
	"service-gateway/internal/model"
)

// ErrNotFound is returned when no configured prefix matches a path.
var ErrNotFound = errors.New("no backend configured for path")

// Registry is a static, read-only routing table. It is safe for concurrent use.
type Registry struct {
	targets []model.Target
}

// New builds a Registry from targets in declaration order.
func New(targets []model.Target) (*Registry, error) {
	out := make([]model.Target, 0, len(targets))
	for i, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i)
		}
		if !strings.HasPrefix(t.Prefix, "/") {
			return nil, fmt.Errorf("target %q: prefix %q must start with '/'", t.Name, t.Prefix)
		}
		if t.BaseURL == "" {
			return nil, fmt.Errorf("target %q: base URL is required", t.Name)
		}
		t.Methods = append([]string(nil), t.Methods...)
		out = append(out, t)
	}
	return &Registry{targets: out}, nil
}

// FromConfig builds a Registry from the [[backends]] routing table.
func FromConfig(cfg *config.Config) (*Registry, error) {
	targets := make([]model.Target, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		targets = append(targets, model.Target{
			Name:    b.Name,
			Prefix:  b.Prefix,
			BaseURL: b.UpstreamBase(),
			Methods: b.Methods,
		})
	}
	return New(targets)
}

// Resolve returns the target whose prefix matches path and the remaining suffix.
// The longest matching prefix wins; equal lengths resolve in declaration order.
func (r *Registry) Resolve(path string) (model.Target, string, error) {
	best := -1
	for i, t := range r.targets {
		if !matches(t.Prefix, path) {
			continue
		}
		if best < 0 || len(t.Prefix) > len(r.targets[best].Prefix) {
			best = i
		}
	}
	if best < 0 {
		return model.Target{}, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	t := r.targets[best]
	return t, suffix(t.Prefix, path), nil
}

// Targets returns a copy of the routing table in declaration order.
func (r *Registry) Targets() []model.Target {
	out := make([]model.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// matches reports whether prefix covers path on a segment boundary:
// "/users" matches "/users" and "/users/1" but not "/usersx".
func matches(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// suffix strips prefix from path. A trailing slash on the prefix stays with
// the suffix so "/users/" under prefix "/users/" still reaches ".../users/".
func suffix(prefix, path string) string {
	if strings.HasSuffix(prefix, "/") {
		return path[len(prefix)-1:]
	}
	return path[len(prefix):]
}
