// Package types defines the shared value types that cross component
// boundaries: the access envelope consumed and produced by the router,
// the structured error taxonomy, the classifier's routing decision, and
// the per-user conversation state carried between turns.
package types
