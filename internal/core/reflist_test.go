package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// RefList set algebra
// ---------------------------------------------------------------------------

func TestNewRefListSortsAndDedups(t *testing.T) {
	list := NewRefList("Pamd64 b 1 h", "Pamd64 a 1 h", "Pamd64 b 1 h")
	assert.Equal(t, []string{"Pamd64 a 1 h", "Pamd64 b 1 h"}, list.Keys())
	assert.True(t, list.Has("Pamd64 a 1 h"))
	assert.False(t, list.Has("Pamd64 c 1 h"))
}

func TestRefListAlgebra(t *testing.T) {
	a := NewRefList("P1", "P2", "P3")
	b := NewRefList("P2", "P4")

	assert.Equal(t, []string{"P1", "P2", "P3", "P4"}, a.Union(b).Keys())
	assert.Equal(t, []string{"P2"}, a.Intersect(b).Keys())
	assert.Equal(t, []string{"P1", "P3"}, a.Subtract(b).Keys())
	assert.True(t, a.Union(RefList{}).Equal(a))
	assert.True(t, a.Subtract(a).Equal(RefList{}))
}

func TestParseKey(t *testing.T) {
	parts, ok := ParseKey("Pamd64 nginx 1.2-1 0123456789abcdef")
	require.True(t, ok)
	assert.Equal(t, KeyParts{Architecture: "amd64", Name: "nginx", Version: "1.2-1", FilesHash: "0123456789abcdef"}, parts)
	assert.Equal(t, "Pamd64 nginx 1.2-1", parts.ShortKey())

	_, ok = ParseKey("garbage")
	assert.False(t, ok)
}

func TestRefListFilterLatest(t *testing.T) {
	list := NewRefList(
		binaryPkg("nginx", "1.0", "amd64").Key(),
		binaryPkg("nginx", "1.2", "amd64").Key(),
		binaryPkg("nginx", "1.1", "i386").Key(),
		binaryPkg("curl", "7.0", "amd64").Key(),
	)
	got := list.FilterLatest()
	assert.Equal(t, NewRefList(
		binaryPkg("nginx", "1.2", "amd64").Key(),
		binaryPkg("nginx", "1.1", "i386").Key(),
		binaryPkg("curl", "7.0", "amd64").Key(),
	).Keys(), got.Keys())
}

func TestRefListOverride(t *testing.T) {
	base := NewRefList(binaryPkg("nginx", "1.2", "amd64").Key(), binaryPkg("curl", "7.0", "amd64").Key())
	override := NewRefList(binaryPkg("nginx", "1.0", "amd64").Key())

	got := base.Override(override)
	assert.Equal(t, NewRefList(binaryPkg("nginx", "1.0", "amd64").Key(), binaryPkg("curl", "7.0", "amd64").Key()).Keys(), got.Keys())
}

// ---------------------------------------------------------------------------
// Diff
// ---------------------------------------------------------------------------

func TestRefListDiff(t *testing.T) {
	left := NewRefList(
		binaryPkg("nginx", "1.0", "amd64").Key(),
		binaryPkg("curl", "7.0", "amd64").Key(),
		binaryPkg("same", "1", "amd64").Key(),
	)
	right := NewRefList(
		binaryPkg("nginx", "1.2", "amd64").Key(),
		binaryPkg("wget", "1.0", "amd64").Key(),
		binaryPkg("same", "1", "amd64").Key(),
	)
	twoNginx := NewRefList(
		binaryPkg("nginx", "1.0", "amd64").Key(),
		binaryPkg("nginx", "1.1", "amd64").Key(),
	)

	tests := []struct {
		name         string
		left         RefList
		right        RefList
		onlyMatching bool
		want         []RefListDiff
	}{
		{
			name:  "all rows",
			left:  left,
			right: right,
			want: []RefListDiff{
				{Left: binaryPkg("curl", "7.0", "amd64").Key()},
				{Left: binaryPkg("nginx", "1.0", "amd64").Key(), Right: binaryPkg("nginx", "1.2", "amd64").Key()},
				{Right: binaryPkg("wget", "1.0", "amd64").Key()},
			},
		},
		{
			name:         "only matching",
			left:         left,
			right:        right,
			onlyMatching: true,
			want: []RefListDiff{
				{Left: binaryPkg("nginx", "1.0", "amd64").Key(), Right: binaryPkg("nginx", "1.2", "amd64").Key()},
			},
		},
		{
			name:  "unpaired version in a shared group",
			left:  twoNginx,
			right: right,
			want: []RefListDiff{
				{Left: binaryPkg("nginx", "1.0", "amd64").Key(), Right: binaryPkg("nginx", "1.2", "amd64").Key()},
				{Left: binaryPkg("nginx", "1.1", "amd64").Key()},
				{Right: binaryPkg("same", "1", "amd64").Key()},
				{Right: binaryPkg("wget", "1.0", "amd64").Key()},
			},
		},
		{
			name:         "only matching drops unpaired version in a shared group",
			left:         twoNginx,
			right:        right,
			onlyMatching: true,
			want: []RefListDiff{
				{Left: binaryPkg("nginx", "1.0", "amd64").Key(), Right: binaryPkg("nginx", "1.2", "amd64").Key()},
			},
		},
		{name: "identical", left: left, right: left},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.left.Diff(tt.right, tt.onlyMatching))
		})
	}
}
