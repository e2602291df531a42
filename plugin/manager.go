package plugin

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quickjot/quickjot/types"
)

// ErrFactoryExists reports a duplicate factory registration.
var ErrFactoryExists = errors.New("plugin factory already registered")

// Manager owns the plugin registry and lifecycle. All methods are safe for
// concurrent use; Get sits on the hot path and takes only a read lock.
type Manager struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loaded    map[string]Plugin
	deps      Dependencies
	logger    *zap.Logger
}

// NewManager creates a plugin manager. The dependencies are handed to every
// plugin the manager initializes.
func NewManager(deps Dependencies, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		factories: make(map[string]Factory),
		loaded:    make(map[string]Plugin),
		deps:      deps,
		logger:    logger.With(zap.String("component", "plugin_manager")),
	}
}

// RegisterFactory makes a plugin constructable under the given name.
// Registration does not load the plugin; Load does.
func (m *Manager) RegisterFactory(name string, factory Factory) error {
	if name == "" {
		return errors.New("plugin name must not be empty")
	}
	if factory == nil {
		return errors.New("plugin factory must not be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.factories[name]; exists {
		return ErrFactoryExists
	}
	m.factories[name] = factory
	m.logger.Debug("plugin factory registered", zap.String("plugin", name))
	return nil
}

// Discover returns the names of all registered factories, sorted.
func (m *Manager) Discover() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load constructs and initializes the named plugin, then publishes it for
// routing. A plugin whose Initialize fails is never published.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, name)
}

func (m *Manager) loadLocked(ctx context.Context, name string) error {
	factory, ok := m.factories[name]
	if !ok {
		return types.Errorf(types.ErrPluginNotFound, "no factory for plugin %q", name)
	}
	if _, ok := m.loaded[name]; ok {
		// Already serving. Load is idempotent; Reload swaps instances.
		return nil
	}

	inst := factory()
	if inst == nil {
		return types.Errorf(types.ErrInitialization, "factory for plugin %q returned nil", name)
	}
	if err := inst.Initialize(ctx, m.deps); err != nil {
		m.logger.Error("plugin initialization failed",
			zap.String("plugin", name),
			zap.Error(err))
		return types.Errorf(types.ErrInitialization, "initialize plugin %q", name).WithCause(err)
	}

	m.loaded[name] = inst
	m.logger.Info("plugin loaded",
		zap.String("plugin", name),
		zap.String("version", inst.Version()))
	return nil
}

// LoadAll loads every registered plugin. A failing plugin does not stop the
// batch; the joined error reports each failure and the rest keep serving.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.loadLocked(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the loaded plugin for a routing identity.
func (m *Manager) Get(name string) (Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.loaded[name]
	if !ok {
		return nil, types.Errorf(types.ErrPluginNotFound, "plugin %q is not loaded", name)
	}
	return inst, nil
}

// Reload replaces a running plugin with a freshly built instance.
//
// The new instance is initialized before it is published; if that fails the
// old instance keeps serving untouched. The old instance is shut down only
// after the swap, so there is no window without a routable plugin.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	factory, ok := m.factories[name]
	if !ok {
		return types.Errorf(types.ErrPluginNotFound, "no factory for plugin %q", name)
	}
	old, wasLoaded := m.loaded[name]

	next := factory()
	if next == nil {
		return types.Errorf(types.ErrInitialization, "factory for plugin %q returned nil", name)
	}
	if err := next.Initialize(ctx, m.deps); err != nil {
		m.logger.Error("plugin reload failed, previous instance keeps serving",
			zap.String("plugin", name),
			zap.Error(err))
		return types.Errorf(types.ErrInitialization, "reload plugin %q", name).WithCause(err)
	}

	m.loaded[name] = next
	m.logger.Info("plugin reloaded",
		zap.String("plugin", name),
		zap.String("version", next.Version()))

	if wasLoaded {
		if err := old.Shutdown(ctx); err != nil {
			m.logger.Warn("old plugin instance shutdown failed",
				zap.String("plugin", name),
				zap.Error(err))
		}
	}
	return nil
}

// List returns descriptors for every loaded plugin, sorted by name. The
// returned slice is a snapshot; the classifier reads it on every request.
func (m *Manager) List() []Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Descriptor, 0, len(m.loaded))
	for _, inst := range m.loaded {
		out = append(out, Describe(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ShutdownAll shuts down every loaded plugin and empties the registry.
// Individual failures do not stop the batch.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := m.loaded[name].Shutdown(ctx); err != nil {
			m.logger.Error("plugin shutdown failed",
				zap.String("plugin", name),
				zap.Error(err))
			errs = append(errs, types.Errorf(types.ErrExecution, "shutdown plugin %q", name).WithCause(err))
		}
		delete(m.loaded, name)
	}

	m.logger.Info("all plugins shut down", zap.Int("count", len(names)))
	return errors.Join(errs...)
}
