// Package testutil provides shared test doubles for quickjot packages,
// most importantly a scripted language-model client so classifier, plugin
// and router tests can run without a live endpoint.
package testutil
