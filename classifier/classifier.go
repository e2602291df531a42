// Package classifier turns free-form user input into a routing decision by
// asking a language model to pick from the live plugin catalog.
package classifier

import (
	"context"

	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/types"
)

// Input is everything the classifier may consider for one decision: the raw
// input, the user's current context, the recent turn window and the catalog
// of plugins loaded right now.
type Input struct {
	UserID    string
	InputText string
	Context   *types.Context
	History   []types.Turn
	Catalog   []plugin.Descriptor
}

// Classifier produces a routing decision for one request.
type Classifier interface {
	// Decide picks the plugin and action for the input. Implementations
	// must return a decision that passes Valid or an error; the router
	// never falls back to a default plugin on its own.
	Decide(ctx context.Context, in Input) (*types.Decision, error)
}

// ForceAction wraps a classifier so every decision carries a fixed action.
// The inner classifier still picks the plugin. Used by query-only entry
// points where the intent is known up front.
func ForceAction(inner Classifier, action string) Classifier {
	return forcedAction{inner: inner, action: action}
}

type forcedAction struct {
	inner  Classifier
	action string
}

func (f forcedAction) Decide(ctx context.Context, in Input) (*types.Decision, error) {
	d, err := f.inner.Decide(ctx, in)
	if err != nil {
		return nil, err
	}
	d.Action = f.action
	return d, nil
}
