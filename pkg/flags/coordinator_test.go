package flags

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory EnabledStore for tests.
type memStore struct {
	mu    sync.Mutex
	names []Name
}

func (s *memStore) Read() ([]Name, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Name, len(s.names))
	copy(out, s.names)
	return out, nil
}

func (s *memStore) Write(names []Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = names
	return nil
}

// noPeers is a PeerSource with nobody running.
type noPeers struct{}

func (noPeers) RunningPeers(ctx context.Context) []Peer { return nil }

// stubPeers reports a fixed peer list.
type stubPeers struct{ peers []Peer }

func (s stubPeers) RunningPeers(ctx context.Context) []Peer { return s.peers }

// stubClient is a PeerClient backed by a per-peer Coordinator, so
// tests can exercise two-node scenarios without a network.
type stubClient struct {
	nodes map[string]*Coordinator
}

func (c *stubClient) List(ctx context.Context, addr, filter string, timeout time.Duration) (map[string]json.RawMessage, error) {
	co, ok := c.nodes[addr]
	if !ok {
		return nil, errors.New("no such peer")
	}
	raw, err := co.HandleOp(ctx, "list", mustJSON(filter))
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *stubClient) AreSupportedLocally(ctx context.Context, addr string, names []string, timeout time.Duration) (bool, error) {
	co, ok := c.nodes[addr]
	if !ok {
		return false, errors.New("no such peer")
	}
	raw, err := co.HandleOp(ctx, "are_supported_locally", mustJSON(names))
	if err != nil {
		return false, err
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, err
	}
	return out, nil
}

func (c *stubClient) MarkAsEnabledLocally(ctx context.Context, addr, name string, timeout time.Duration) error {
	co, ok := c.nodes[addr]
	if !ok {
		return errors.New("no such peer")
	}
	_, err := co.HandleOp(ctx, "mark_as_enabled_locally", mustJSON(name))
	return err
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func newSingleNode(t *testing.T, apps []Application, migrations ...map[Name]Migration) (*Coordinator, *memStore) {
	t.Helper()
	store := &memStore{}
	catalog := NewStaticCatalog(apps)
	co := NewCoordinator(store, catalog, noPeers{}, &stubClient{nodes: map[string]*Coordinator{}}, time.Second)
	if len(migrations) > 0 {
		co.WithMigrations(migrations[0])
	}
	require.NoError(t, co.Init(context.Background()))
	return co, store
}

// S1: ff_b depends on ff_a, no peers, enable(ff_b) pulls in ff_a too.
func TestScenarioS1DependencyOrderSingleNode(t *testing.T) {
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"ff_a": {DependsOn: nil},
			"ff_b": {DependsOn: []Name{"ff_a"}},
		}},
	})

	err := co.Enable(context.Background(), "ff_b")
	require.NoError(t, err)

	enabled := co.List(FilterEnabled)
	_, hasA := enabled["ff_a"]
	_, hasB := enabled["ff_b"]
	assert.True(t, hasA)
	assert.True(t, hasB)
}

// S2: local supports ff_x, the one peer does not -> unsupported, no state change.
func TestScenarioS2PeerDoesNotSupport(t *testing.T) {
	local, _ := newSingleNode(t, nil)
	remote, _ := newSingleNode(t, nil)

	client := &stubClient{nodes: map[string]*Coordinator{"remote": remote}}
	store := &memStore{}
	catalog := NewStaticCatalog([]Application{
		{Name: "broker", Flags: map[Name]Properties{"ff_x": {}}},
	})
	co := NewCoordinator(store, catalog, stubPeers{peers: []Peer{{ID: "q", Addr: "remote"}}}, client, time.Second)
	require.NoError(t, co.Init(context.Background()))
	_ = local

	err := co.Enable(context.Background(), "ff_x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, co.IsEnabled("ff_x"))
}

// S3: a migration returns an error verbatim; the flag stays disabled.
func TestScenarioS3MigrationErrorSurfacedVerbatim(t *testing.T) {
	diskFull := errors.New("disk_full")
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"ff_m": {MigrationRef: "fails"},
		}},
	}, map[Name]Migration{
		"fails": func(ctx context.Context, ev Event) error { return diskFull },
	})

	err := co.Enable(context.Background(), "ff_m")
	require.Error(t, err)
	assert.Equal(t, diskFull, err)
	assert.False(t, co.IsEnabled("ff_m"))
}

// A declared migration name with no registered function is
// invalid_migration_fun (spec §4.3), not a silent no-op.
func TestEnableWithUnregisteredMigrationRefIsInvalidMigrationFun(t *testing.T) {
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"ff_m": {MigrationRef: "never_registered"},
		}},
	})

	err := co.Enable(context.Background(), "ff_m")
	require.Error(t, err)
	ce, ok := AsCoordinatorError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidMigrationFun, ce.Kind)
	assert.False(t, co.IsEnabled("ff_m"))
}

// S6: two-node compatibility check succeeds when each side's enabled
// set is covered by the other's supported set.
func TestScenarioS6CompatibilityCheckSucceeds(t *testing.T) {
	remoteStore := &memStore{names: []Name{"b"}}
	remoteCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"a": {}, "b": {}}}})
	remote := NewCoordinator(remoteStore, remoteCatalog, noPeers{}, &stubClient{nodes: map[string]*Coordinator{}}, time.Second)
	require.NoError(t, remote.Init(context.Background()))

	localStore := &memStore{names: []Name{"a"}}
	localCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"a": {}, "b": {}}}})
	client := &stubClient{nodes: map[string]*Coordinator{"remote": remote}}
	local := NewCoordinator(localStore, localCatalog, stubPeers{}, client, time.Second)
	require.NoError(t, local.Init(context.Background()))

	err := local.CheckNodeCompatibility(context.Background(), Peer{ID: "remote", Addr: "remote"}, time.Second)
	assert.NoError(t, err)
	assert.True(t, local.IsNodeCompatible(context.Background(), Peer{ID: "remote", Addr: "remote"}, time.Second))
}

// Property 1: is_enabled implies is_supported, for every snapshot.
func TestPropertyEnabledImpliesSupported(t *testing.T) {
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{"ff_a": {}}},
	})
	require.NoError(t, co.Enable(context.Background(), "ff_a"))

	for name := range co.List(FilterAll) {
		if co.IsEnabled(name) {
			assert.True(t, co.registry.IsSupported(name))
		}
	}
}

// Property 2: enable is idempotent, no second migration execution.
func TestPropertyEnableIsIdempotent(t *testing.T) {
	calls := 0
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"ff_a": {MigrationRef: "count"},
		}},
	}, map[Name]Migration{
		"count": func(ctx context.Context, ev Event) error { calls++; return nil },
	})

	require.NoError(t, co.Enable(context.Background(), "ff_a"))
	require.NoError(t, co.Enable(context.Background(), "ff_a"))
	assert.Equal(t, 1, calls)
}

// Property 3: after a successful enable, every running peer has the
// flag enabled too.
func TestPropertyEnablePropagatesToRunningPeers(t *testing.T) {
	remoteStore := &memStore{}
	remoteCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"ff_a": {}}}})
	remote := NewCoordinator(remoteStore, remoteCatalog, noPeers{}, &stubClient{nodes: map[string]*Coordinator{}}, time.Second)
	require.NoError(t, remote.Init(context.Background()))

	localStore := &memStore{}
	localCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"ff_a": {}}}})
	client := &stubClient{nodes: map[string]*Coordinator{"remote": remote}}
	local := NewCoordinator(localStore, localCatalog, stubPeers{peers: []Peer{{ID: "remote", Addr: "remote"}}}, client, time.Second)
	require.NoError(t, local.Init(context.Background()))

	require.NoError(t, local.Enable(context.Background(), "ff_a"))
	assert.True(t, local.IsEnabled("ff_a"))
	assert.True(t, remote.IsEnabled("ff_a"))
}

// Property 4: list(disabled) == list(all) \ list(enabled).
func TestPropertyListDisabledIsSetDifference(t *testing.T) {
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{"ff_a": {}, "ff_b": {}, "ff_c": {}}},
	})
	require.NoError(t, co.Enable(context.Background(), "ff_a"))

	all := co.List(FilterAll)
	enabled := co.List(FilterEnabled)
	disabled := co.List(FilterDisabled)
	assert.Equal(t, len(all), len(enabled)+len(disabled))
	for n := range disabled {
		_, isEnabled := enabled[n]
		assert.False(t, isEnabled)
	}
}

// Property 5: dependency order — enabling ff_c (depends on a, then b)
// completes a's migration before b's before c's.
func TestPropertyDependencyOrderRespected(t *testing.T) {
	var order []string
	mk := func(name string) Migration {
		return func(ctx context.Context, ev Event) error {
			order = append(order, name)
			return nil
		}
	}
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"a": {MigrationRef: "m_a"},
			"b": {DependsOn: []Name{"a"}, MigrationRef: "m_b"},
			"c": {DependsOn: []Name{"a", "b"}, MigrationRef: "m_c"},
		}},
	}, map[Name]Migration{
		"m_a": mk("a"),
		"m_b": mk("b"),
		"m_c": mk("c"),
	})

	require.NoError(t, co.Enable(context.Background(), "c"))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

// Property 6: compatibility check iff both enabled-subset directions hold.
func TestPropertyCompatibilityBothDirections(t *testing.T) {
	remoteStore := &memStore{names: []Name{"x"}}
	remoteCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"x": {}}}})
	remote := NewCoordinator(remoteStore, remoteCatalog, noPeers{}, &stubClient{nodes: map[string]*Coordinator{}}, time.Second)
	require.NoError(t, remote.Init(context.Background()))

	localStore := &memStore{names: []Name{"y"}}
	localCatalog := NewStaticCatalog([]Application{{Name: "broker", Flags: map[Name]Properties{"x": {}, "y": {}}}})
	client := &stubClient{nodes: map[string]*Coordinator{"remote": remote}}
	local := NewCoordinator(localStore, localCatalog, stubPeers{}, client, time.Second)
	require.NoError(t, local.Init(context.Background()))

	err := local.CheckNodeCompatibility(context.Background(), Peer{ID: "remote", Addr: "remote"}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleFeatureFlags))
}

func TestMigrationPanicSurfacesAsCrash(t *testing.T) {
	co, _ := newSingleNode(t, []Application{
		{Name: "broker", Flags: map[Name]Properties{
			"ff_a": {MigrationRef: "panics"},
		}},
	}, map[Name]Migration{
		"panics": func(ctx context.Context, ev Event) error { panic("kaboom") },
	})

	err := co.Enable(context.Background(), "ff_a")
	require.Error(t, err)
	ce, ok := AsCoordinatorError(err)
	require.True(t, ok)
	assert.Equal(t, KindMigrationCrash, ce.Kind)
}

func TestDisableAlwaysFails(t *testing.T) {
	co, _ := newSingleNode(t, nil)
	err := co.Disable("ff_a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
}
