package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/types"
)

// ---------------------------------------------------------------------------
// ParseDependency
// ---------------------------------------------------------------------------

func TestParseDependency(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect types.Dependency
	}{
		{name: "simple", input: "libfoo", expect: types.Dependency{Pkg: "libfoo"}},
		{name: "gte", input: "libfoo (>= 1.2.0)", expect: types.Dependency{Pkg: "libfoo", Relation: types.RelationGte, Version: "1.2.0"}},
		{name: "strict less", input: "libfoo (<< 2.0)", expect: types.Dependency{Pkg: "libfoo", Relation: types.RelationLt, Version: "2.0"}},
		{name: "strict greater", input: "libfoo (>> 1.0)", expect: types.Dependency{Pkg: "libfoo", Relation: types.RelationGt, Version: "1.0"}},
		{name: "legacy less", input: "libfoo (< 1.0)", expect: types.Dependency{Pkg: "libfoo", Relation: types.RelationLte, Version: "1.0"}},
		{name: "no space", input: "libfoo (>=1.0)", expect: types.Dependency{Pkg: "libfoo", Relation: types.RelationGte, Version: "1.0"}},
		{name: "multiarch qualifier", input: "python3:any (>= 3.9)", expect: types.Dependency{Pkg: "python3", Relation: types.RelationGte, Version: "3.9"}},
		{name: "arch restriction dropped", input: "libc6 (= 2.31) [amd64]", expect: types.Dependency{Pkg: "libc6", Relation: types.RelationEq, Version: "2.31"}},
		{name: "build profile dropped", input: "debhelper <!nocheck>", expect: types.Dependency{Pkg: "debhelper"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDependency(tt.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Errorf("ParseDependency mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDependencyInvalid(t *testing.T) {
	for _, input := range []string{"", "libfoo (>= 1.0", "libfoo (>=)", "(>= 1)"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDependency(input)
			require.Error(t, err)
		})
	}
}

func TestParseDependencyVariants(t *testing.T) {
	deps, err := ParseDependencyVariants("libfoo [amd64] | libbar (>= 2) [!amd64] | libbaz", "i386")
	require.NoError(t, err)
	assert.Equal(t, []string{"libbar (>= 2)", "libbaz"}, []string{deps[0].String(), deps[1].String()})

	deps, err = ParseDependencyVariants("libfoo [amd64] | libbar (>= 2) [!amd64]", "amd64")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "libfoo", deps[0].Pkg)
}

func TestSplitRelationList(t *testing.T) {
	got := SplitRelationList("libc6 (>= 2.31),\n libfoo | libbar , ")
	assert.Equal(t, []string{"libc6 (>= 2.31)", "libfoo | libbar"}, got)
}

// ---------------------------------------------------------------------------
// Provides
// ---------------------------------------------------------------------------

func TestProvidesDependency(t *testing.T) {
	cache := newVersionCache()
	pkg := binaryPkg("postfix", "3.5", "amd64")
	pkg.Provides = []string{"mail-transport-agent", "libfoo-abi (= 2.0)"}

	assert.True(t, providesDependency(pkg, types.Dependency{Pkg: "mail-transport-agent"}, cache))
	assert.False(t, providesDependency(pkg, types.Dependency{Pkg: "mail-transport-agent", Relation: types.RelationGte, Version: "1"}, cache))
	assert.True(t, providesDependency(pkg, types.Dependency{Pkg: "libfoo-abi", Relation: types.RelationGte, Version: "1.5"}, cache))
	assert.False(t, providesDependency(pkg, types.Dependency{Pkg: "libfoo-abi", Relation: types.RelationGt, Version: "2.0"}, cache))
}
