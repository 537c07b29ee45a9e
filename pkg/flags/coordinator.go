package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/events"
	"github.com/coriolis-mq/coriolis/pkg/log"
	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"github.com/google/uuid"
)

// Coordinator is the Feature-Flag Coordinator of spec §4.4: a
// single-threaded actor (one coarse mutex held for the duration of
// Init, Enable, and the peer-side mark-enabled op, matching spec §5's
// "one cooperative single-threaded actor per long-lived component")
// sitting on top of a Registry, an EnabledStore, an AppCatalog, and a
// peer transport. Read-only queries (List, IsEnabled, IsSupported,
// AreSupported, CheckNodeCompatibility) do not take the mutex; they
// read the Registry's lock-free snapshot.
type Coordinator struct {
	actorMu sync.Mutex

	registry *Registry
	store    EnabledStore
	catalog  Catalog
	peers    PeerSource
	client   PeerClient
	timeout  time.Duration
	cache    CatalogCacher
	events   *events.Broker

	// migrations resolves a Properties.MigrationRef to the function it
	// names. A ref with no entry here is spec §4.3's
	// invalid_migration_fun: the catalog declared a migration the
	// binary never registered.
	migrations map[Name]Migration
}

// CatalogCacher persists and restores the last successfully computed
// set of declared flags, so a node whose computed catalog (spec
// §4.3's "computed" form) is temporarily failing can still answer
// queries from the last known-good declarations instead of reporting
// nothing supported. *storage.CatalogCache implements this.
type CatalogCacher interface {
	Save(declared map[Name]Properties) error
	Load() (map[Name]Properties, error)
}

// NewCoordinator wires a Coordinator. timeout bounds every peer RPC
// issued during support checks and propagation; CheckNodeCompatibility
// uses the timeout passed to it instead.
func NewCoordinator(store EnabledStore, catalog Catalog, peers PeerSource, client PeerClient, timeout time.Duration) *Coordinator {
	return &Coordinator{
		registry: NewRegistry(),
		store:    store,
		catalog:  catalog,
		peers:    peers,
		client:   client,
		timeout:  timeout,
	}
}

// WithCatalogCache attaches a CatalogCacher, enabling the
// known-good-declarations fallback described on CatalogCacher.
func (c *Coordinator) WithCatalogCache(cache CatalogCacher) *Coordinator {
	c.cache = cache
	return c
}

// WithMigrations attaches the table Properties.MigrationRef is
// resolved against. Binaries register every migration they ship with
// at construction time, the same way cmd/coriolisd registers its
// built-ins before any catalog is loaded; a ref absent from this table
// at enable time is reported as invalid_migration_fun rather than
// silently skipped.
func (c *Coordinator) WithMigrations(migrations map[Name]Migration) *Coordinator {
	c.migrations = migrations
	return c
}

// WithEvents attaches an events.Broker that Enable and rebuildLocked
// publish to; a nil broker (the default) means publishing is skipped.
func (c *Coordinator) WithEvents(broker *events.Broker) *Coordinator {
	c.events = broker
	return c
}

func (c *Coordinator) publish(typ events.EventType, message string, metadata map[string]string) {
	if c.events == nil {
		return
	}
	c.events.Publish(&events.Event{ID: uuid.NewString(), Type: typ, Message: message, Metadata: metadata})
}

// Init triggers the first registry build (spec §4.4 init()).
func (c *Coordinator) Init(ctx context.Context) error {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	return c.rebuildLocked()
}

// List returns the flags selected by filter.
func (c *Coordinator) List(filter Filter) map[Name]Properties {
	return c.registry.List(filter)
}

// IsEnabled reports local enabled-state only.
func (c *Coordinator) IsEnabled(name Name) bool {
	return c.registry.IsEnabled(name)
}

// IsSupported reports support locally and on every running peer.
func (c *Coordinator) IsSupported(ctx context.Context, name Name) bool {
	if !c.registry.IsSupported(name) {
		return false
	}
	return c.isSupportedRemotely(ctx, []Name{name})
}

// AreSupported reports support for every name, locally and remotely.
func (c *Coordinator) AreSupported(ctx context.Context, names []Name) bool {
	for _, n := range names {
		if !c.registry.IsSupported(n) {
			return false
		}
	}
	return c.isSupportedRemotely(ctx, names)
}

// Disable always fails: spec §1/§4.4 name disable as a non-goal, so
// the operation exists only to surface a well-formed error to callers
// that probe for it.
func (c *Coordinator) Disable(name Name) error {
	return &CoordinatorError{Kind: KindUnsupported, Flag: name, Reason: errors.New("disable is not supported")}
}

// Enable runs the dependency-ordered, migration-executing, cluster
// propagating enable algorithm of spec §4.4.
func (c *Coordinator) Enable(ctx context.Context, name Name) error {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()

	timer := metrics.NewTimer()
	err := c.enableLocked(ctx, name)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		c.publish(events.EventFlagEnableFailed, fmt.Sprintf("enable %q failed: %v", name, err), map[string]string{"flag": string(name)})
	} else {
		c.publish(events.EventFlagEnabled, fmt.Sprintf("enabled %q", name), map[string]string{"flag": string(name)})
	}
	metrics.FlagEnableTotal.WithLabelValues(outcome).Inc()
	timer.ObserveDurationVec(metrics.FlagEnableDuration, outcome)
	return err
}

func (c *Coordinator) enableLocked(ctx context.Context, name Name) error {
	if c.registry.IsEnabled(name) {
		return nil
	}
	if !c.registry.IsSupported(name) || !c.isSupportedRemotely(ctx, []Name{name}) {
		return unsupportedErr(name)
	}

	props, ok := c.registry.Properties(name)
	if !ok {
		return unsupportedErr(name)
	}

	for _, dep := range props.DependsOn {
		if err := c.enableLocked(ctx, dep); err != nil {
			return err
		}
	}

	if err := c.runMigrationRef(ctx, name, props.MigrationRef); err != nil {
		return err
	}

	if err := c.persistEnabled(name); err != nil {
		return err
	}
	if err := c.rebuildLocked(); err != nil {
		return err
	}
	return c.propagate(ctx, name)
}

// markEnabledLocally is the peer-side entry point invoked via PeerRPC
// when another node's enable() reaches its propagation step (spec
// §4.4 step 6). It runs the same local side effects as enableLocked —
// recursive dependency marking, migration, persistence, rebuild — but
// never propagates further, since the originating node already
// notifies every running peer itself.
func (c *Coordinator) markEnabledLocally(ctx context.Context, name Name) error {
	c.actorMu.Lock()
	defer c.actorMu.Unlock()
	return c.markEnabledLocalLocked(ctx, name)
}

func (c *Coordinator) markEnabledLocalLocked(ctx context.Context, name Name) error {
	if c.registry.IsEnabled(name) {
		return nil
	}
	if !c.registry.IsSupported(name) {
		return unsupportedErr(name)
	}

	props, _ := c.registry.Properties(name)
	for _, dep := range props.DependsOn {
		if err := c.markEnabledLocalLocked(ctx, dep); err != nil {
			return err
		}
	}

	if err := c.runMigrationRef(ctx, name, props.MigrationRef); err != nil {
		return err
	}

	if err := c.persistEnabled(name); err != nil {
		return err
	}
	return c.rebuildLocked()
}

// runMigrationRef resolves ref against the registered migrations table
// and invokes it. An empty ref means the flag declares no migration
// (ok unchanged). A non-empty ref absent from the table is spec §4.3's
// invalid_migration_fun: the catalog names a migration this binary
// never registered.
func (c *Coordinator) runMigrationRef(ctx context.Context, name Name, ref Name) error {
	if ref == "" {
		return nil
	}
	fn, ok := c.migrations[ref]
	if !ok {
		return invalidMigrationFunErr(name)
	}
	return c.runMigration(ctx, name, fn)
}

// runMigration invokes m with EnableEvent. A panic is caught and
// reported as migration_fun_crash with a fresh trace id (spec §4.4
// step 4); an ordinary returned error is surfaced unchanged.
func (c *Coordinator) runMigration(ctx context.Context, name Name, m Migration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			crashErr := migrationCrashErr(name, fmt.Errorf("%v", r))
			if ce, ok := AsCoordinatorError(crashErr); ok {
				log.WithTraceID(ce.Trace.String()).Error().Str("flag", string(name)).Msg(crashErr.Error())
			}
			err = crashErr
		}
	}()
	return m(ctx, EnableEvent)
}

func (c *Coordinator) persistEnabled(name Name) error {
	current, err := c.store.Read()
	if err != nil {
		return err
	}
	for _, n := range current {
		if n == name {
			return nil
		}
	}
	return c.store.Write(append(current, name))
}

func (c *Coordinator) propagate(ctx context.Context, name Name) error {
	for _, p := range c.peers.RunningPeers(ctx) {
		if err := c.client.MarkAsEnabledLocally(ctx, p.Addr, string(name), c.timeout); err != nil {
			return err
		}
	}
	return nil
}

// isSupportedRemotely short-circuits on the first running peer that
// reports false or is unreachable; with no running peers it returns
// true (spec §4.4's single-node degenerate case).
func (c *Coordinator) isSupportedRemotely(ctx context.Context, names []Name) bool {
	peers := c.peers.RunningPeers(ctx)
	if len(peers) == 0 {
		return true
	}
	strNames := make([]string, len(names))
	for i, n := range names {
		strNames[i] = string(n)
	}
	for _, p := range peers {
		ok, err := c.client.AreSupportedLocally(ctx, p.Addr, strNames, c.timeout)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// CheckNodeCompatibility implements spec §4.4's two-sided check: local
// enabled names must be a subset of the peer's supported set, and the
// peer's enabled names must be a subset of the local supported set.
func (c *Coordinator) CheckNodeCompatibility(ctx context.Context, peer Peer, timeout time.Duration) error {
	peerAll, err := c.client.List(ctx, peer.Addr, string(FilterAll), timeout)
	if err != nil {
		return incompatibleErr(err)
	}
	peerEnabled, err := c.client.List(ctx, peer.Addr, string(FilterEnabled), timeout)
	if err != nil {
		return incompatibleErr(err)
	}

	localAll := c.registry.List(FilterAll)
	localEnabled := c.registry.List(FilterEnabled)

	for n := range localEnabled {
		if _, ok := peerAll[string(n)]; !ok {
			return incompatibleErr(fmt.Errorf("locally-enabled flag %q not supported by peer %s", n, peer.ID))
		}
	}
	for n := range peerEnabled {
		if _, ok := localAll[Name(n)]; !ok {
			return incompatibleErr(fmt.Errorf("peer %s's enabled flag %q not supported locally", peer.ID, n))
		}
	}
	return nil
}

// IsNodeCompatible is CheckNodeCompatibility reduced to a bool.
func (c *Coordinator) IsNodeCompatible(ctx context.Context, peer Peer, timeout time.Duration) bool {
	return c.CheckNodeCompatibility(ctx, peer, timeout) == nil
}

func (c *Coordinator) rebuildLocked() error {
	err := c.registry.Rebuild(func() (*Snapshot, error) {
		allFlags := make(map[Name]Properties)
		for _, app := range c.catalog.Applications() {
			declared, ok := c.catalog.FlagsFor(app)
			if !ok {
				continue
			}
			for name, props := range declared {
				allFlags[name] = props
			}
		}

		if len(allFlags) == 0 && c.cache != nil {
			cached, err := c.cache.Load()
			if err == nil && len(cached) > 0 {
				log.WithComponent("flags").Warn().Msg("app catalog produced no declarations, falling back to last known-good cache")
				allFlags = cached
			}
		} else if len(allFlags) > 0 && c.cache != nil {
			if err := c.cache.Save(allFlags); err != nil {
				log.WithComponent("flags").Warn().Err(err).Msg("failed to persist catalog cache")
			}
		}

		enabledNames, err := c.store.Read()
		if err != nil {
			return nil, err
		}
		enabledSet := make(map[Name]struct{}, len(enabledNames))
		for _, n := range enabledNames {
			if _, ok := allFlags[n]; ok {
				enabledSet[n] = struct{}{}
			}
		}

		metrics.FlagsSupported.Set(float64(len(allFlags)))
		metrics.FlagsEnabled.Set(float64(len(enabledSet)))
		metrics.RegistryRebuildTotal.Inc()

		return &Snapshot{AllFlags: allFlags, EnabledNames: enabledSet}, nil
	})
	if err == nil {
		c.publish(events.EventRegistryRebuilt, "registry rebuilt", nil)
	}
	return err
}

// wireProperties is the PeerRPC projection of Properties. MigrationRef
// is just a declared name, not a func value, so — unlike the old
// embedded-func design — it crosses the wire unchanged; a peer never
// needs the referenced Go function to know that a flag declares one.
type wireProperties struct {
	Desc         string `json:"desc"`
	DependsOn    []Name `json:"depends_on"`
	MigrationRef Name   `json:"migration_ref,omitempty"`
	Stability    string `json:"stability"`
}

// HandleOp satisfies peerrpc.OpHandler, dispatching the three named
// peer operations of spec §6, the liveness "ping" used by
// MembershipOracle.RunningPeers, and the CLI-facing "enable" and
// "status" ops.
func (c *Coordinator) HandleOp(ctx context.Context, op string, args json.RawMessage) (json.RawMessage, error) {
	clog := log.WithComponent("flags")

	switch op {
	case "ping":
		return json.Marshal(true)

	case "list":
		var filter string
		if len(args) > 0 {
			if err := json.Unmarshal(args, &filter); err != nil {
				return nil, fmt.Errorf("flags: decode list filter: %w", err)
			}
		}
		declared := c.registry.List(Filter(filter))
		out := make(map[string]wireProperties, len(declared))
		for n, p := range declared {
			out[string(n)] = wireProperties{Desc: p.Desc, DependsOn: p.DependsOn, MigrationRef: p.MigrationRef, Stability: p.Stability}
		}
		return json.Marshal(out)

	case "are_supported_locally":
		var names []string
		if err := json.Unmarshal(args, &names); err != nil {
			return nil, fmt.Errorf("flags: decode are_supported_locally names: %w", err)
		}
		for _, n := range names {
			if !c.registry.IsSupported(Name(n)) {
				return json.Marshal(false)
			}
		}
		return json.Marshal(true)

	case "mark_as_enabled_locally":
		var name string
		if err := json.Unmarshal(args, &name); err != nil {
			return nil, fmt.Errorf("flags: decode mark_as_enabled_locally name: %w", err)
		}
		if err := c.markEnabledLocally(ctx, Name(name)); err != nil {
			clog.Warn().Str("flag", name).Err(err).Msg("peer mark-enabled failed")
			return nil, err
		}
		return json.Marshal("ok")

	case "enable":
		var name string
		if err := json.Unmarshal(args, &name); err != nil {
			return nil, fmt.Errorf("flags: decode enable name: %w", err)
		}
		if err := c.Enable(ctx, Name(name)); err != nil {
			return nil, err
		}
		return json.Marshal("ok")

	case "status":
		var name string
		if err := json.Unmarshal(args, &name); err != nil {
			return nil, fmt.Errorf("flags: decode status name: %w", err)
		}
		return json.Marshal(statusResult{
			Supported: c.registry.IsSupported(Name(name)),
			Enabled:   c.registry.IsEnabled(Name(name)),
		})

	default:
		return nil, fmt.Errorf("flags: unknown peer op %q", op)
	}
}

// statusResult is the wire shape of the "status" op, used by
// cmd/coriolisd's "flag status" command.
type statusResult struct {
	Supported bool `json:"supported"`
	Enabled   bool `json:"enabled"`
}
