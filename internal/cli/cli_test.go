package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptkeeper/tests/testutil"
)

// run executes the command tree with a fresh viper state.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	expected := []string{
		"repo", "mirror", "snapshot", "publish", "package",
		"db", "serve", "api", "graph", "config", "task", "version",
	}
	for _, name := range expected {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestVerbs(t *testing.T) {
	tests := []struct {
		group string
		verbs []string
	}{
		{"repo", []string{"create", "add", "include", "import", "copy", "move", "remove", "edit", "list", "search", "show", "drop", "rename"}},
		{"mirror", []string{"create", "update", "edit", "list", "search", "show", "drop", "rename"}},
		{"snapshot", []string{"create", "merge", "pull", "filter", "diff", "verify", "list", "search", "show", "drop", "rename"}},
		{"publish", []string{"repo", "snapshot", "update", "switch", "source", "drop", "list", "show"}},
		{"package", []string{"search", "show"}},
		{"db", []string{"cleanup", "recover"}},
	}
	root := newRootCommand()
	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			group, _, err := root.Find([]string{tt.group})
			require.NoError(t, err)
			for _, verb := range tt.verbs {
				cmd, _, err := group.Find([]string{verb})
				require.NoError(t, err)
				assert.Equal(t, verb, cmd.Name())
			}
		})
	}
}

func TestPublishSourceVerbs(t *testing.T) {
	cmd, _, err := newRootCommand().Find([]string{"publish", "source"})
	require.NoError(t, err)
	for _, verb := range []string{"add", "update", "remove", "list", "drop"} {
		sub, _, err := cmd.Find([]string{verb})
		require.NoError(t, err)
		assert.Equal(t, verb, sub.Name())
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestMirrorCreateFlags(t *testing.T) {
	cmd := newMirrorCreateCommand()
	flags := []string{
		"filter", "filter-with-deps", "with-sources", "with-udebs",
		"with-installer", "force-components", "skip-component-check",
		"ignore-signatures", "keyring",
	}
	for _, name := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
}

func TestPublishCommandFlags(t *testing.T) {
	cmd := newPublishSourceKindCommand("snapshot", "snapshot")
	flags := []string{
		"distribution", "component", "origin", "label", "suite",
		"codename", "notautomatic", "butautomaticupgrades",
		"acquire-by-hash", "skip-contents", "skip-bz2", "force-overwrite",
		"skip-signing", "gpg-key", "keyring", "secret-keyring", "passphrase",
	}
	for _, name := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStringPrefersChangedFlag(t *testing.T) {
	viper.Reset()
	viper.Set("serveListen", ":9000")
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("listen", ":8080", "")
	assert.Equal(t, ":9000", resolveString(cmd, ":8080", "serveListen", "listen"))

	require.NoError(t, cmd.Flags().Set("listen", ":7000"))
	assert.Equal(t, ":7000", resolveString(cmd, ":7000", "serveListen", "listen"))
}

func TestResolveStrings(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		values   []string
		expected []string
	}{
		{
			name:     "nil cmd with values returns values",
			cmd:      nil,
			values:   []string{"a", "b"},
			expected: []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStrings(tt.cmd, tt.values, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStringsFallsBackToConfig(t *testing.T) {
	viper.Reset()
	assert.Empty(t, resolveStrings(nil, nil, "architectures", "architectures"))

	viper.Set("architectures", []string{"amd64", "arm64"})
	assert.Equal(t, []string{"amd64", "arm64"}, resolveStrings(nil, nil, "architectures", "architectures"))
}

func TestResolveBool(t *testing.T) {
	got := resolveBool(nil, true, "test_key", "test-flag")
	assert.True(t, got)

	got = resolveBool(nil, false, "test_key", "test-flag")
	assert.False(t, got)
}

func TestResolveInt(t *testing.T) {
	got := resolveInt(nil, 42, "test_key", "test-flag")
	assert.Equal(t, 42, got)
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")
}

func TestFlagChangedAfterSet(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		value   string
		storage string
		prefix  string
	}{
		{".", "", "."},
		{"debian/main", "", "debian/main"},
		{"s3:bucket:.", "s3:bucket", "."},
		{"filesystem:www:ppa", "filesystem:www", "ppa"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			storage, prefix := splitPrefix(tt.value)
			assert.Equal(t, tt.storage, storage)
			assert.Equal(t, tt.prefix, prefix)
		})
	}
}

func TestTaskCommands(t *testing.T) {
	commands, err := taskCommands("", []string{"repo", "create", "a,", "repo", "list"})
	require.NoError(t, err)
	assert.Equal(t, []string{"repo create a", "repo list"}, commands)

	file := filepath.Join(t.TempDir(), "commands")
	require.NoError(t, os.WriteFile(file, []byte("# setup\nrepo create a\n\nrepo list --raw\n"), 0o644))
	commands, err = taskCommands(file, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo create a", "repo list --raw"}, commands)

	_, err = taskCommands("", nil)
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "already exists",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("dup"),
			expected: 1,
		},
		{
			name: "in use",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("local repo is published"),
			expected: 1,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("mirror with name wheezy not found"),
			expected: 1,
		},
		{
			name:     "usage error",
			err:      usageError(assert.AnError),
			expected: 2,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestUsageErrorsExitWithTwo(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--root-dir", root, "repo", "list", "--bogus"}},
		{"missing argument", []string{"--root-dir", root, "repo", "show"}},
		{"too many arguments", []string{"--root-dir", root, "repo", "rename", "a", "b", "c"}},
		{"bad snapshot source", []string{"--root-dir", root, "snapshot", "create", "s", "from", "nowhere", "x"}},
		{"bad query", []string{"--root-dir", root, "repo", "remove", "main", "nginx (>= 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, 2, exitCodeForError(err))
		})
	}
}

func TestOperationalErrorsExitWithOne(t *testing.T) {
	_, err := run(t, "--root-dir", t.TempDir(), "repo", "show", "missing")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	assert.Equal(t, 1, exitCodeForError(err))
}

// ---------- Command execution tests ----------

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "aptkeeper version: dev\n", out)
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "aptkeeper.yaml")
	require.NoError(t, os.WriteFile(file, []byte("rootDir: /srv/aptkeeper\ndownloadConcurrency: 8\n"), 0o644))

	out, err := run(t, "--config", file, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "rootDir: /srv/aptkeeper")
	assert.Contains(t, out, "downloadConcurrency: 8")
	assert.Contains(t, out, "downloadRetries: 3")
}

func TestMissingConfigFileIsUsageError(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "show")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}

func TestRepoAddAndPublish(t *testing.T) {
	root := t.TempDir()
	debs := t.TempDir()
	deb := testutil.Deb{Name: "hello", Version: "1.0-1", Architecture: "amd64"}
	path := deb.Write(t, debs)

	out, err := run(t, "--root-dir", root, "repo", "create", "main", "--distribution", "stable", "--comment", "local builds")
	require.NoError(t, err)
	assert.Contains(t, out, "Local repo [main] successfully added.")

	out, err = run(t, "--root-dir", root, "repo", "add", "main", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Added: hello_1.0-1_amd64")

	out, err = run(t, "--root-dir", root, "repo", "show", "main", "--with-packages")
	require.NoError(t, err)
	assert.Contains(t, out, "Comment: local builds")
	assert.Contains(t, out, "Number of packages: 1")
	assert.Contains(t, out, "hello_1.0-1_amd64")

	out, err = run(t, "--root-dir", root, "repo", "search", "main", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello_1.0-1_amd64\n", out)

	out, err = run(t, "--root-dir", root, "repo", "search", "main", "hello", "--format", "{{.Name}}={{.Version}}")
	require.NoError(t, err)
	assert.Equal(t, "hello=1.0-1\n", out)

	_, err = run(t, "--root-dir", root, "repo", "search", "main", "missing")
	require.Error(t, err)
	assert.Equal(t, 1, exitCodeForError(err))

	out, err = run(t, "--root-dir", root, "publish", "repo", "main", "--skip-signing")
	require.NoError(t, err)
	assert.Contains(t, out, "has been successfully published")
	assert.FileExists(t, filepath.Join(root, "public", "dists", "stable", "Release"))
	assert.FileExists(t, filepath.Join(root, "public", "pool", "main", "h", "hello", deb.Filename()))

	out, err = run(t, "--root-dir", root, "publish", "list", "--raw")
	require.NoError(t, err)
	assert.Equal(t, ". stable\n", out)

	_, err = run(t, "--root-dir", root, "repo", "drop", "main")
	require.Error(t, err)
	assert.Equal(t, 1, exitCodeForError(err))

	_, err = run(t, "--root-dir", root, "publish", "drop", "stable")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "public", "dists", "stable", "Release"))

	out, err = run(t, "--root-dir", root, "repo", "drop", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "Local repo [main] has been removed.")
}

func TestSnapshotLifecycle(t *testing.T) {
	root := t.TempDir()
	debs := t.TempDir()
	v1 := testutil.Deb{Name: "hello", Version: "1.0-1", Architecture: "amd64"}.Write(t, debs)
	v2 := testutil.Deb{Name: "hello", Version: "2.0-1", Architecture: "amd64"}.Write(t, debs)

	_, err := run(t, "--root-dir", root, "repo", "create", "main")
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "repo", "add", "main", v1)
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "snapshot", "create", "first", "from", "repo", "main")
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "repo", "add", "main", v2)
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "snapshot", "create", "second", "from", "repo", "main")
	require.NoError(t, err)

	out, err := run(t, "--root-dir", root, "snapshot", "diff", "first", "second")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "2.0-1")

	out, err = run(t, "--root-dir", root, "snapshot", "list", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", out)

	_, err = run(t, "--root-dir", root, "snapshot", "list", "--sort", "size")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))

	_, err = run(t, "--root-dir", root, "snapshot", "merge", "--latest", "merged", "first", "second")
	require.NoError(t, err)
	out, err = run(t, "--root-dir", root, "snapshot", "show", "merged", "--with-packages")
	require.NoError(t, err)
	assert.Contains(t, out, "Number of packages: 1")
	assert.Contains(t, out, "hello_2.0-1_amd64")

	out, err = run(t, "--root-dir", root, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph aptkeeper {")
	assert.Contains(t, out, "Snapshot merged")

	out, err = run(t, "--root-dir", root, "snapshot", "rename", "merged", "final")
	require.NoError(t, err)
	assert.Contains(t, out, "merged -> final")

	_, err = run(t, "--root-dir", root, "snapshot", "drop", "final")
	require.NoError(t, err)
}

func TestTaskRunStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	out, err := run(t, "--root-dir", root, "task", "run", "repo create a, repo create a, repo create b")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeAlreadyExists, errbuilder.CodeOf(err))
	assert.Contains(t, out, "1) [Running]: repo create a")
	assert.Contains(t, out, "2) [Failed]: repo create a")
	assert.NotContains(t, out, "repo create b")

	out, err = run(t, "--root-dir", root, "repo", "list", "--raw")
	require.NoError(t, err)
	assert.Equal(t, "a\n", out)
}

func TestDBCleanupDryRun(t *testing.T) {
	root := t.TempDir()
	path := testutil.Deb{Name: "hello", Version: "1.0-1", Architecture: "amd64"}.Write(t, t.TempDir())
	_, err := run(t, "--root-dir", root, "repo", "create", "main")
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "repo", "add", "main", path)
	require.NoError(t, err)
	_, err = run(t, "--root-dir", root, "repo", "drop", "main")
	require.NoError(t, err)

	out, err := run(t, "--root-dir", root, "db", "cleanup", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would delete 1 unreferenced packages.")

	out, err = run(t, "--root-dir", root, "db", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 unreferenced packages.")
	assert.Contains(t, out, "Deleted 1 unreferenced files")
}
