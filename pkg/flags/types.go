package flags

import "context"

// Name identifies a feature flag uniquely across the cluster.
type Name string

// Event is the lifecycle event passed to a Migration. Enable is the
// only event this spec's Non-goals allow — disable is explicitly
// unsupported (spec §1, §4.4 disable()).
type Event string

// EnableEvent is the sole Event value a Migration ever observes.
const EnableEvent Event = "enable"

// Migration is the Go-native reading of spec §3's "(module, function)"
// migration reference: a function value invoked exactly once per node
// per successful enable, before the flag is persisted as enabled.
type Migration func(ctx context.Context, event Event) error

// Properties describes a feature flag as declared by an application.
// MigrationRef is the declared reference spec §3 names ("optional
// callable reference (module, function)"): a name resolved against
// the Coordinator's registered migrations at enable time, not a Go
// func value embedded directly in the declaration. This indirection
// is what makes spec §4.3's `{invalid_migration_fun, value}` error
// (a declared migration with no registered function) representable —
// a declaration and its implementation can disagree, which an
// embedded func field could never express, since a well-typed Go
// func literal is always "valid" by construction.
type Properties struct {
	Desc         string
	DependsOn    []Name
	MigrationRef Name
	Stability    string
}

// Filter selects a subset of the registry for list().
type Filter string

const (
	FilterAll      Filter = "all"
	FilterEnabled  Filter = "enabled"
	FilterDisabled Filter = "disabled"
)
