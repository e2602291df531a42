// Package conversation persists per-user dialogue state: a single mutable
// context row per user plus an append-only turn log with bounded retention.
package conversation
