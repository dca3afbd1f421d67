package core

// ModuleID uniquely identifies a module, namespaced by concern,
// e.g. "store.sqlite" or "gateway.http".
type ModuleID string

// ModuleInfo describes a registered module: its ID and a factory for
// fresh instances.
type ModuleInfo struct {
	// ID is the unique identifier used in configuration and logs.
	ID ModuleID

	// New returns a new, unconfigured instance of the module.
	New func() Module
}

// Module is the minimal interface all modules implement. Lifecycle
// behaviour is added through the optional interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
