package flags

import (
	"github.com/coriolis-mq/coriolis/pkg/log"
)

// Catalog is spec §4.3's AppCatalog contract: enumerate installed
// applications and, for each, the feature flags it declares. FlagsFor
// returns (flags, false) for the "absent" case — no application by
// that name, or its declaration failed — which the registry rebuild
// treats as "nothing declared", never as a fatal error.
type Catalog interface {
	Applications() []string
	FlagsFor(app string) (map[Name]Properties, bool)
}

// Application is one static declaration: a fixed map of flags compiled
// into the application, the common case for a real broker (spec §4.3's
// "declared" form).
type Application struct {
	Name  string
	Flags map[Name]Properties
}

// StaticCatalog serves the "declared" form of spec §4.3: every
// application's flag map is known up front.
type StaticCatalog struct {
	apps map[string]map[Name]Properties
}

// NewStaticCatalog builds a StaticCatalog from a literal application
// list. Duplicate application names overwrite earlier ones, last wins,
// matching the unique-name merge discipline spec §3 applies to flags
// themselves.
func NewStaticCatalog(apps []Application) *StaticCatalog {
	c := &StaticCatalog{apps: make(map[string]map[Name]Properties, len(apps))}
	for _, a := range apps {
		c.apps[a.Name] = a.Flags
	}
	return c
}

func (c *StaticCatalog) Applications() []string {
	names := make([]string, 0, len(c.apps))
	for n := range c.apps {
		names = append(names, n)
	}
	return names
}

func (c *StaticCatalog) FlagsFor(app string) (map[Name]Properties, bool) {
	flags, ok := c.apps[app]
	return flags, ok
}

// FuncCatalog serves the "computed" form of spec §4.3: a
// (module, function) pair is realized in Go as a zero-argument
// function value invoked lazily on every FlagsFor call. A function
// that panics or returns an error is logged and treated as absent,
// per spec §4.3's "MUST NOT abort cluster initialisation".
type FuncCatalog struct {
	funcs map[string]func() (map[Name]Properties, error)
}

// NewFuncCatalog wraps a set of computed flag declarations.
func NewFuncCatalog(funcs map[string]func() (map[Name]Properties, error)) *FuncCatalog {
	return &FuncCatalog{funcs: funcs}
}

func (c *FuncCatalog) Applications() []string {
	names := make([]string, 0, len(c.funcs))
	for n := range c.funcs {
		names = append(names, n)
	}
	return names
}

func (c *FuncCatalog) FlagsFor(app string) (flags map[Name]Properties, ok bool) {
	fn, present := c.funcs[app]
	if !present {
		return nil, false
	}

	clog := log.WithComponent("appcatalog")
	defer func() {
		if r := recover(); r != nil {
			clog.Warn().Str("app", app).Interface("panic", r).Msg("computed flag declaration panicked, treating as absent")
			flags, ok = nil, false
		}
	}()

	result, err := fn()
	if err != nil {
		clog.Warn().Str("app", app).Err(err).Msg("computed flag declaration failed, treating as absent")
		return nil, false
	}
	if result == nil {
		return nil, false
	}
	return result, true
}

// MultiCatalog merges several catalogs into one, which is how a real
// node sees both statically-declared and computed applications at
// once. Applications present in more than one source catalog are
// merged last-source-wins at the application level (the flag-level
// last-writer-wins merge happens one layer up, in Coordinator.rebuildLocked).
type MultiCatalog struct {
	sources []Catalog
}

// NewMultiCatalog combines catalogs in the given order.
func NewMultiCatalog(sources ...Catalog) *MultiCatalog {
	return &MultiCatalog{sources: sources}
}

func (c *MultiCatalog) Applications() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, src := range c.sources {
		for _, n := range src.Applications() {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				names = append(names, n)
			}
		}
	}
	return names
}

func (c *MultiCatalog) FlagsFor(app string) (map[Name]Properties, bool) {
	var flags map[Name]Properties
	found := false
	for _, src := range c.sources {
		if f, ok := src.FlagsFor(app); ok {
			flags, found = f, true
		}
	}
	return flags, found
}
