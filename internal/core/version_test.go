package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/types"
)

// ---------------------------------------------------------------------------
// versionCache
// ---------------------------------------------------------------------------

func TestVersionCacheDebVersion(t *testing.T) {
	cache := newVersionCache()

	v1, err := cache.debVersion("1.0.0")
	require.NoError(t, err)

	// Second call should hit cache
	v2, err := cache.debVersion("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestVersionCacheDebVersionInvalid(t *testing.T) {
	cache := newVersionCache()
	_, err := cache.debVersion("not-a-version!!!")
	require.Error(t, err)
	_, err = cache.debVersion("not-a-version!!!")
	require.Error(t, err)
}

func TestVersionCacheCompare(t *testing.T) {
	cache := newVersionCache()

	assert.Equal(t, -1, cache.compare("1.0.0", "2.0.0"))
	assert.Equal(t, 0, cache.compare("1.0.0", "1.0.0"))
	assert.Equal(t, 1, cache.compare("2.0.0", "1.0.0"))
	assert.Equal(t, -1, cache.compare("1.0~rc1", "1.0"))
	assert.Equal(t, 1, cache.compare("1:0.1", "9.9"))
	assert.Equal(t, 1, cache.compare("4.6.1-1~maverick2", "4.6.1-1~maverick1"))
}

func TestVersionCacheSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		relation types.Relation
		want     string
		ok       bool
	}{
		{name: "none", version: "1.0", relation: types.RelationNone, ok: true},
		{name: "eq", version: "1.0", relation: types.RelationEq, want: "1.0", ok: true},
		{name: "eq mismatch", version: "1.0", relation: types.RelationEq, want: "1.1", ok: false},
		{name: "ne", version: "1.0", relation: types.RelationNe, want: "1.1", ok: true},
		{name: "gte equal", version: "0.12", relation: types.RelationGte, want: "0.12", ok: true},
		{name: "gt strict", version: "0.12", relation: types.RelationGt, want: "0.12", ok: false},
		{name: "lte", version: "0.9.5", relation: types.RelationLte, want: "0.9.6", ok: true},
		{name: "lt", version: "0.9.6", relation: types.RelationLt, want: "0.9.6", ok: false},
		{name: "glob", version: "1.2.3-1", relation: types.RelationPattern, want: "1.2.*", ok: true},
		{name: "glob mismatch", version: "1.3.0", relation: types.RelationPattern, want: "1.2.*", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := newVersionCache()
			assert.Equal(t, tt.ok, cache.satisfies(tt.version, tt.relation, tt.want))
		})
	}
}

func TestSortVersions(t *testing.T) {
	got := SortVersions([]string{"0.12.1", "0.9.5", "1:0.1", "0.12.1~rc1"})
	assert.Equal(t, []string{"0.9.5", "0.12.1~rc1", "0.12.1", "1:0.1"}, got)
}

func TestValidVersion(t *testing.T) {
	assert.True(t, ValidVersion("1.49.0.1"))
	assert.False(t, ValidVersion("not-a-version!!!"))
}
