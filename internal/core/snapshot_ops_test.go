package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/internal/types"
)

// ---------------------------------------------------------------------------
// PackageList.Search
// ---------------------------------------------------------------------------

func TestPackageListSearch(t *testing.T) {
	mta := binaryPkg("postfix", "3.5", "amd64")
	mta.Provides = []string{"mail-transport-agent"}
	list := PackageListFrom([]types.Package{
		binaryPkg("nginx", "1.0", "amd64"),
		binaryPkg("nginx", "1.2", "amd64"),
		binaryPkg("nginx", "1.4", "i386"),
		binaryPkg("nginx-common", "1.2", "all"),
		mta,
	})

	got := list.Search(types.Dependency{Pkg: "nginx"}, "amd64", false)
	assert.Equal(t, []string{"nginx_1.2_amd64"}, keysOf(got))

	got = list.Search(types.Dependency{Pkg: "nginx"}, "amd64", true)
	assert.Equal(t, []string{"nginx_1.2_amd64", "nginx_1.0_amd64"}, keysOf(got))

	got = list.Search(types.Dependency{Pkg: "nginx", Relation: types.RelationLt, Version: "1.2"}, "amd64", true)
	assert.Equal(t, []string{"nginx_1.0_amd64"}, keysOf(got))

	got = list.Search(types.Dependency{Pkg: "nginx-common"}, "i386", false)
	assert.Equal(t, []string{"nginx-common_1.2_all"}, keysOf(got))

	got = list.Search(types.Dependency{Pkg: "mail-transport-agent"}, "amd64", false)
	assert.Equal(t, []string{"postfix_3.5_amd64"}, keysOf(got))
}

func TestPackageListRejectsDuplicateShortKey(t *testing.T) {
	list := NewPackageList(false)
	require.NoError(t, list.Add(binaryPkg("nginx", "1.0", "amd64")))

	other := binaryPkg("nginx", "1.0", "amd64")
	other.Files[0].Checksums.SHA256 = "ff"
	err := list.Add(other)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAborted, errbuilder.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Closure and Filter
// ---------------------------------------------------------------------------

func TestClosure(t *testing.T) {
	app := binaryPkg("app", "1.0", "amd64", "libfoo (>= 1.0)", "libmissing | libbar")
	app.Recommends = []string{"docs"}
	universe := PackageListFrom([]types.Package{
		app,
		binaryPkg("libfoo", "0.9", "amd64"),
		binaryPkg("libfoo", "1.1", "amd64", "libbase"),
		binaryPkg("libbar", "2.0", "amd64"),
		binaryPkg("libbase", "1.0", "all"),
		binaryPkg("docs", "1.0", "all"),
	})

	got, err := Closure([]types.Package{app}, universe, types.DependencyFlags{}, []string{"amd64"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app_1.0_amd64", "libfoo_1.1_amd64", "libbar_2.0_amd64", "libbase_1.0_all"}, keysOf(got))

	got, err = Closure([]types.Package{app}, universe, types.DependencyFlags{FollowRecommends: true}, []string{"amd64"})
	require.NoError(t, err)
	assert.Contains(t, keysOf(got), "docs_1.0_all")
}

func TestClosureAllVariantsAndSource(t *testing.T) {
	app := binaryPkg("app", "1.0", "amd64", "liba | libb")
	app.SourceName = "app-src (0.9)"
	universe := PackageListFrom([]types.Package{
		app,
		binaryPkg("liba", "1", "amd64"),
		binaryPkg("libb", "1", "amd64"),
		sourcePkg("app-src", "0.9"),
	})

	got, err := Closure([]types.Package{app}, universe, types.DependencyFlags{FollowAllVariants: true, FollowSource: true}, []string{"amd64"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app_1.0_amd64", "liba_1_amd64", "libb_1_amd64", "app-src_0.9_source"}, keysOf(got))
}

func TestFilterWithDeps(t *testing.T) {
	list := PackageListFrom([]types.Package{
		binaryPkg("app", "1.0", "amd64", "libfoo"),
		binaryPkg("libfoo", "1.0", "amd64"),
		binaryPkg("other", "1.0", "amd64"),
	})
	q, err := ParseQuery("app")
	require.NoError(t, err)

	got, err := Filter(list, q, false, types.DependencyFlags{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"app_1.0_amd64"}, keysOf(got))

	got, err = Filter(list, q, true, types.DependencyFlags{}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app_1.0_amd64", "libfoo_1.0_amd64"}, keysOf(got))
}

func TestVerifyDependencies(t *testing.T) {
	list := PackageListFrom([]types.Package{
		binaryPkg("app", "1.0", "amd64", "libfoo (>= 2.0)", "libbar"),
		binaryPkg("libfoo", "1.0", "amd64"),
	})
	extra := PackageListFrom([]types.Package{binaryPkg("libbar", "1.0", "all")})

	missing, err := list.VerifyDependencies(types.DependencyFlags{}, []string{"amd64"})
	require.NoError(t, err)
	assert.Equal(t, []string{"libbar {amd64}", "libfoo (>= 2.0) {amd64}"}, dependencyStrings(missing))

	missing, err = list.VerifyDependencies(types.DependencyFlags{}, []string{"amd64"}, extra)
	require.NoError(t, err)
	assert.Equal(t, []string{"libfoo (>= 2.0) {amd64}"}, dependencyStrings(missing))
}

func dependencyStrings(deps []types.Dependency) []string {
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		out = append(out, dep.String())
	}
	return out
}

// ---------------------------------------------------------------------------
// Merge
// ---------------------------------------------------------------------------

func TestMerge(t *testing.T) {
	old := binaryPkg("nginx", "1.2", "amd64").Key()
	newer := binaryPkg("nginx", "1.0", "amd64").Key()
	curl := binaryPkg("curl", "7.0", "amd64").Key()
	a := NewRefList(old, curl)
	b := NewRefList(newer)

	tests := []struct {
		name string
		opts MergeOptions
		want []string
	}{
		{name: "later source overrides", opts: MergeOptions{}, want: NewRefList(newer, curl).Keys()},
		{name: "latest", opts: MergeOptions{Latest: true}, want: NewRefList(old, curl).Keys()},
		{name: "no remove", opts: MergeOptions{NoRemove: true}, want: NewRefList(old, newer, curl).Keys()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge([]RefList{a, b}, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Keys())
		})
	}

	got, err := Merge([]RefList{a, {}}, MergeOptions{})
	require.NoError(t, err)
	assert.True(t, got.Equal(a))

	_, err = Merge([]RefList{a}, MergeOptions{Latest: true, NoRemove: true})
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

func TestPullPerQueryBestMatch(t *testing.T) {
	var sourcePkgs []types.Package
	for _, version := range []string{"0.9.4", "0.9.5", "0.10.0", "0.12.0", "0.12.1"} {
		for _, arch := range []string{"amd64", "i386", "armhf"} {
			sourcePkgs = append(sourcePkgs, binaryPkg("sensu", version, arch))
		}
	}
	source := PackageListFrom(sourcePkgs)
	target := PackageListFrom([]types.Package{binaryPkg("nginx", "1.0", "amd64")})
	queries := mustQueries(t, "sensu (>0.12)", "sensu (<0.9.6)")

	result, err := Pull(target, source, queries, PullOptions{Architectures: []string{"amd64", "i386"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"nginx_1.0_amd64",
		"sensu_0.12.1_amd64", "sensu_0.12.1_i386",
		"sensu_0.9.5_amd64", "sensu_0.9.5_i386",
	}, keysOf(result.List.Packages()))
}

func TestPullReplacesSameNameArch(t *testing.T) {
	source := PackageListFrom([]types.Package{binaryPkg("nginx", "1.2", "amd64"), binaryPkg("nginx", "1.1", "amd64")})
	target := PackageListFrom([]types.Package{binaryPkg("nginx", "1.0", "amd64"), binaryPkg("curl", "7.0", "amd64")})
	queries := mustQueries(t, "nginx")

	result, err := Pull(target, source, queries, PullOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nginx_1.2_amd64", "curl_7.0_amd64"}, keysOf(result.List.Packages()))
	assert.Equal(t, []string{"nginx_1.0_amd64"}, keysOf(result.Removed))
	assert.Equal(t, []string{"nginx_1.2_amd64"}, keysOf(result.Added))

	result, err = Pull(target, source, queries, PullOptions{AllMatches: true, NoRemove: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nginx_1.2_amd64", "nginx_1.1_amd64", "nginx_1.0_amd64", "curl_7.0_amd64"}, keysOf(result.List.Packages()))

	assert.Equal(t, 2, target.Len(), "target list must not be mutated")
}

func TestPullFollowsDependencies(t *testing.T) {
	source := PackageListFrom([]types.Package{
		binaryPkg("app", "1.0", "amd64", "libfoo"),
		binaryPkg("libfoo", "1.0", "amd64"),
	})
	target := PackageListFrom(nil)

	result, err := Pull(target, source, mustQueries(t, "app"), PullOptions{Architectures: []string{"amd64"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app_1.0_amd64", "libfoo_1.0_amd64"}, keysOf(result.List.Packages()))

	result, err = Pull(target, source, mustQueries(t, "app"), PullOptions{Architectures: []string{"amd64"}, NoDeps: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"app_1.0_amd64"}, keysOf(result.List.Packages()))
}

func mustQueries(t *testing.T, values ...string) []PackageQuery {
	t.Helper()
	out := make([]PackageQuery, 0, len(values))
	for _, value := range values {
		q, err := ParseQuery(value)
		require.NoError(t, err)
		out = append(out, q)
	}
	return out
}
