package tracker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// ErrUnknownBean is returned when no implementation is registered under a
// requested name.
var ErrUnknownBean = models.ErrUnknownBugTrackerBean

// Factory builds a Tracker for one run's effective configuration.
type Factory func(cfg config.EffectiveConfig) (Tracker, error)

// Registry maps implementation names ("beans") to tracker factories. Names
// are matched case-insensitively.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	names     map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		names:     make(map[string]string),
	}
}

// Register adds or replaces the factory registered under name.
func (r *Registry) Register(name string, factory Factory) {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
	r.names[key] = name
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBean, name)
	}
	return f, nil
}

// New builds the tracker selected by cfg.BugTracker. It returns a nil
// Tracker when the selection does not reconcile (NONE or EMAIL).
func (r *Registry) New(cfg config.EffectiveConfig) (Tracker, error) {
	bean := cfg.BugTracker.BeanName()
	if bean == "" {
		return nil, nil
	}
	factory, err := r.Lookup(bean)
	if err != nil {
		return nil, err
	}
	t, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tracker: %w", bean, err)
	}
	return t, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
