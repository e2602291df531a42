package plugin

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quickjot/quickjot/llm"
	"github.com/quickjot/quickjot/types"
)

// Dependencies carries the shared resources handed to every plugin at
// Initialize time.
type Dependencies struct {
	DB     *gorm.DB
	LLM    llm.Client
	Logger *zap.Logger
}

// Plugin is the contract every quickjot plugin implements.
//
// Name is the stable routing identity and must be unique; DisplayName and
// Description are surfaced to users and to the intent classifier. Execute
// must be safe for concurrent calls once Initialize has returned.
type Plugin interface {
	// Name returns the unique plugin identity used for routing.
	Name() string
	// DisplayName returns the human-facing plugin name.
	DisplayName() string
	// Description explains what the plugin handles. The classifier reads
	// this text, so it should state the domain and typical inputs.
	Description() string
	// Version returns the plugin version string.
	Version() string

	// Initialize prepares the plugin with its dependencies. A plugin that
	// returns an error here is never published for routing.
	Initialize(ctx context.Context, deps Dependencies) error
	// Execute handles one access request. conv is a read-only snapshot of
	// the user's conversation context; plugins request context changes
	// through the response's ContextUpdate rather than mutating conv.
	// decision carries the routed action and extracted parameters, which
	// the plugin must validate itself.
	Execute(ctx context.Context, req *types.AccessRequest, conv *types.Context, decision *types.Decision) (*types.AccessResponse, error)
	// Shutdown releases plugin resources.
	Shutdown(ctx context.Context) error
}

// Factory constructs a fresh plugin instance. Reload calls the factory
// again, so factories must not return shared singletons.
type Factory func() Plugin

// Descriptor is the catalog entry the manager exposes for a loaded plugin.
type Descriptor struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Describe builds a descriptor from a live plugin.
func Describe(p Plugin) Descriptor {
	return Descriptor{
		Name:        p.Name(),
		DisplayName: p.DisplayName(),
		Description: p.Description(),
		Version:     p.Version(),
	}
}
