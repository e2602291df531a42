package conversation

import (
	"context"

	"github.com/quickjot/quickjot/types"
)

// Store is the conversation persistence interface the router depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetContext returns the user's conversation context. A user with no
	// stored context gets a fresh empty one; absence is not an error.
	GetContext(ctx context.Context, userID string) (*types.Context, error)

	// UpsertContext stores the context snapshot for its user, replacing any
	// previous one. Last writer wins.
	UpsertContext(ctx context.Context, c *types.Context) error

	// AppendTurn adds one turn to the user's log. Turns are never updated
	// or rewritten once stored; old turns beyond the retention cap may be
	// dropped.
	AppendTurn(ctx context.Context, turn *types.Turn) error

	// RecentTurns returns up to limit of the user's most recent turns,
	// ordered oldest to newest.
	RecentTurns(ctx context.Context, userID string, limit int) ([]types.Turn, error)
}
