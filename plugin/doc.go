// Package plugin defines the quickjot plugin contract and the manager that
// owns plugin lifecycle: discovery, loading, hot reload and shutdown.
//
// A plugin becomes visible to the router only after its Initialize call
// succeeds, and a reload never removes the running instance until its
// replacement is ready.
package plugin
