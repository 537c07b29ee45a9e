package flags

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryStartsEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.List(FilterAll))
	assert.False(t, r.IsSupported("ff_a"))
	assert.False(t, r.IsEnabled("ff_a"))
}

func TestRegistryRebuildPublishesSnapshot(t *testing.T) {
	r := NewRegistry()
	err := r.Rebuild(func() (*Snapshot, error) {
		return &Snapshot{
			AllFlags:     map[Name]Properties{"ff_a": {Desc: "a"}, "ff_b": {Desc: "b"}},
			EnabledNames: map[Name]struct{}{"ff_a": {}},
		}, nil
	})
	require.NoError(t, err)

	assert.True(t, r.IsSupported("ff_a"))
	assert.True(t, r.IsSupported("ff_b"))
	assert.True(t, r.IsEnabled("ff_a"))
	assert.False(t, r.IsEnabled("ff_b"))
	assert.False(t, r.IsSupported("ff_missing"))
}

func TestRegistryListDisabledIsAllMinusEnabled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Rebuild(func() (*Snapshot, error) {
		return &Snapshot{
			AllFlags:     map[Name]Properties{"ff_a": {}, "ff_b": {}, "ff_c": {}},
			EnabledNames: map[Name]struct{}{"ff_a": {}, "ff_c": {}},
		}, nil
	}))

	all := r.List(FilterAll)
	enabled := r.List(FilterEnabled)
	disabled := r.List(FilterDisabled)

	assert.Len(t, all, 3)
	assert.Len(t, enabled, 2)
	for name := range disabled {
		_, stillEnabled := enabled[name]
		assert.False(t, stillEnabled)
	}
	assert.Equal(t, len(all), len(enabled)+len(disabled))
}

func TestRegistryRebuildFailureKeepsPriorSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Rebuild(func() (*Snapshot, error) {
		return &Snapshot{
			AllFlags:     map[Name]Properties{"ff_a": {}},
			EnabledNames: map[Name]struct{}{"ff_a": {}},
		}, nil
	}))

	err := r.Rebuild(func() (*Snapshot, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	assert.True(t, r.IsSupported("ff_a"))
	assert.True(t, r.IsEnabled("ff_a"))
}
