package flags

import (
	"sync"
	"sync/atomic"
)

// Snapshot is the immutable pair (AllFlags, EnabledNames) of spec §3.
// A Snapshot is never mutated after it is built; publishing a new one
// is the only way state changes, which is what lets Registry reads be
// lock-free.
type Snapshot struct {
	AllFlags     map[Name]Properties
	EnabledNames map[Name]struct{}
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		AllFlags:     map[Name]Properties{},
		EnabledNames: map[Name]struct{}{},
	}
}

// Registry is the hot-swappable in-memory query structure of spec
// §4.1: three O(1) read-only operations over an atomically-published
// snapshot, re-architected from the original's generated-module
// dispatch table (spec §9 DESIGN NOTES) into a published immutable
// value behind atomic.Pointer, so readers never take a lock.
type Registry struct {
	current atomic.Pointer[Snapshot]

	// rebuildMu is the "node-local lock that serialises all rebuilds
	// process-wide" of spec §4.1/§5. It is held for the full
	// build-then-publish cycle, not just the pointer swap, so two
	// concurrent Rebuild calls can never interleave their reads of
	// AppCatalog/EnabledStore with their writes of the new snapshot.
	rebuildMu sync.Mutex
}

// NewRegistry returns a Registry pre-populated with an empty snapshot.
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(emptySnapshot())
	return r
}

// Rebuild runs build() while holding the process-wide rebuild lock and
// publishes its result atomically. build() is expected to read
// AppCatalog and EnabledStore and return a brand-new *Snapshot; a
// returned error aborts the rebuild and leaves the prior snapshot live.
func (r *Registry) Rebuild(build func() (*Snapshot, error)) error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	next, err := build()
	if err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

func (r *Registry) snapshot() *Snapshot {
	return r.current.Load()
}

// List returns a copy of the flags selected by filter.
func (r *Registry) List(filter Filter) map[Name]Properties {
	s := r.snapshot()
	out := make(map[Name]Properties)

	switch filter {
	case FilterEnabled:
		for n := range s.EnabledNames {
			if p, ok := s.AllFlags[n]; ok {
				out[n] = p
			}
		}
	case FilterDisabled:
		for n, p := range s.AllFlags {
			if _, enabled := s.EnabledNames[n]; !enabled {
				out[n] = p
			}
		}
	default: // FilterAll and anything unrecognized behave as "all"
		for n, p := range s.AllFlags {
			out[n] = p
		}
	}
	return out
}

// IsSupported reports whether name is declared by any application on
// this node. Unknown names return false.
func (r *Registry) IsSupported(name Name) bool {
	_, ok := r.snapshot().AllFlags[name]
	return ok
}

// IsEnabled reports whether name is in the persisted enabled set.
// Unknown names return false (spec §4.1).
func (r *Registry) IsEnabled(name Name) bool {
	_, ok := r.snapshot().EnabledNames[name]
	return ok
}

// Properties returns the declared properties for a supported flag.
func (r *Registry) Properties(name Name) (Properties, bool) {
	p, ok := r.snapshot().AllFlags[name]
	return p, ok
}
