package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/config"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/shell"
)

// fakeRunner records every invocation and answers with canned results
type fakeRunner struct {
	calls   []shell.Invocation
	results []shell.Result
	errs    []error
}

func (r *fakeRunner) Run(ctx context.Context, inv shell.Invocation) (shell.Result, error) {
	idx := len(r.calls)
	r.calls = append(r.calls, inv)

	var result shell.Result
	if idx < len(r.results) {
		result = r.results[idx]
	}

	var err error
	if idx < len(r.errs) {
		err = r.errs[idx]
	}

	return result, err
}

func newTestSequencer(t *testing.T, host platform.Name) (*Sequencer, *fakeRunner) {
	t.Helper()

	root := t.TempDir()
	for _, dir := range []string{"build/windows", "build/macos"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755))
	}

	cfg, err := config.Load(filepath.Join(root, config.FileName))
	require.NoError(t, err)
	cfg.Root = root

	runner := &fakeRunner{}
	seq := New(cfg, runner)
	seq.Detect = func() platform.Name { return host }
	return seq, runner
}

func TestRunWindows(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Windows)

	require.NoError(t, seq.Run(context.Background()))
	require.Len(t, runner.calls, 2)

	sync := runner.calls[0]
	assert.Equal(t, seq.Config.Root, sync.Dir)
	assert.Equal(t, []string{"python", "thirdparty/shaderc/utils/git-sync-deps"}, sync.Args)

	gen := runner.calls[1]
	assert.Equal(t, filepath.Join(seq.Config.Root, "build", "windows"), gen.Dir)
	assert.Equal(t, `cmake -G "Visual Studio 16 2019" ../../`, gen.Script)
}

func TestRunDarwin(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Darwin)

	require.NoError(t, seq.Run(context.Background()))
	require.Len(t, runner.calls, 2)

	gen := runner.calls[1]
	assert.Equal(t, filepath.Join(seq.Config.Root, "build", "macos"), gen.Dir)
	assert.Equal(t, `cmake -G "Xcode" ../../`, gen.Script)
}

func TestRunOtherPlatformsOnlySync(t *testing.T) {
	for _, host := range []platform.Name{platform.Linux, platform.FreeBSD, "Plan9"} {
		t.Run(string(host), func(t *testing.T) {
			seq, runner := newTestSequencer(t, host)

			require.NoError(t, seq.Run(context.Background()))
			require.Len(t, runner.calls, 1)
			assert.NotEmpty(t, runner.calls[0].Args)
		})
	}
}

func TestGenerateBuildUnknownPlatform(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Linux)

	ran, err := seq.GenerateBuild(context.Background(), platform.Linux, seq.Config.Root)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, runner.calls)
}

func TestExitStatusIsIgnored(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Darwin)
	runner.results = []shell.Result{{ExitCode: 1}, {ExitCode: 2}}

	require.NoError(t, seq.Run(context.Background()))
	assert.Len(t, runner.calls, 2)
}

func TestStrictModeStopsOnExitStatus(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Darwin)
	seq.Config.Strict = true
	runner.results = []shell.Result{{ExitCode: 1}}

	err := seq.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, runner.calls, 1)

	runner.calls = nil
	runner.results = []shell.Result{{}, {ExitCode: 2}}
	err = seq.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, runner.calls, 2)
}

func TestLaunchFailureAborts(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Windows)
	runner.errs = []error{eris.Wrap(shell.ErrNotFound, "python")}

	err := seq.Run(context.Background())
	require.Error(t, err)
	assert.True(t, eris.Is(err, shell.ErrNotFound))
	assert.Len(t, runner.calls, 1)
}

func TestMissingBuildDirectory(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Windows)
	require.NoError(t, os.RemoveAll(filepath.Join(seq.Config.Root, "build", "windows")))

	err := seq.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, runner.calls, 1)
}

func TestSyncDisabled(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Darwin)
	seq.Config.Sync.Mode = config.SyncNone

	require.NoError(t, seq.Run(context.Background()))
	require.Len(t, runner.calls, 1)
	assert.Empty(t, runner.calls[0].Args)
}

func TestNativeSyncWithoutDeps(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Linux)
	seq.Config.Sync.Mode = config.SyncNative

	depsFile := seq.Config.Resolve(seq.Config.Sync.DepsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(depsFile), 0o755))
	require.NoError(t, os.WriteFile(depsFile, []byte("vars = {}\ndeps = {}\n"), 0o644))

	require.NoError(t, seq.SyncDependencies(context.Background()))
	assert.Empty(t, runner.calls)
}

func TestNativeSyncMissingDepsFile(t *testing.T) {
	seq, _ := newTestSequencer(t, platform.Linux)
	seq.Config.Sync.Mode = config.SyncNative

	assert.Error(t, seq.SyncDependencies(context.Background()))
}

func TestSyncRunsInactiveArchiveManifest(t *testing.T) {
	seq, runner := newTestSequencer(t, platform.Linux)
	manifest := seq.Config.Resolve(seq.Config.Sync.Archives)
	require.NoError(t, os.MkdirAll(filepath.Dir(manifest), 0o755))
	require.NoError(t, os.WriteFile(manifest, []byte(`deps:
  vulkan-sdk:
    if: windows
    url: https://example.invalid/vulkan.zip
    dest: thirdparty/vulkan
    sha256: deadbeef
`), 0o644))

	require.NoError(t, seq.SyncDependencies(context.Background()))
	assert.Len(t, runner.calls, 1)

	report, err := seq.FetchArchives(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"vulkan-sdk"}, report.Inactive)
}

func TestDetectPlatformOverride(t *testing.T) {
	seq, _ := newTestSequencer(t, platform.Linux)
	assert.Equal(t, platform.Linux, seq.DetectPlatform())

	seq.Config.Platform = "darwin"
	assert.Equal(t, platform.Darwin, seq.DetectPlatform())

	seq.Config.Platform = "Windows"
	assert.Equal(t, platform.Windows, seq.DetectPlatform())
}

func TestGeneratorCommand(t *testing.T) {
	tests := []struct {
		cmake, generator, source string
		want                     string
	}{
		{"cmake", "Xcode", "../../", `cmake -G "Xcode" ../../`},
		{"cmake", "Visual Studio 16 2019", "../../", `cmake -G "Visual Studio 16 2019" ../../`},
		{"/opt/cmake bin/cmake", "Ninja", "../..", `'/opt/cmake bin/cmake' -G "Ninja" ../..`},
		{"cmake", `odd"name`, "../../", `cmake -G 'odd"name' ../../`},
	}

	for _, tt := range tests {
		got, err := GeneratorCommand(tt.cmake, tt.generator, tt.source)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
