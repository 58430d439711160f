package shell

import (
	"bytes"
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterp() (*Interp, *bytes.Buffer) {
	var out bytes.Buffer
	return &Interp{Stdout: &out, Stderr: &out}, &out
}

func TestRunScriptExitStatus(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   int
	}{
		{"exit 0", "exit 0", 0},
		{"exit 1", "exit 1", 1},
		{"exit 42", "exit 42", 42},
		{"failure in the middle", "false; true", 0},
		{"unknown command", "definitely-not-a-command-4711", 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestInterp()
			result, err := r.Run(context.Background(), Invocation{Dir: t.TempDir(), Script: tt.script})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.ExitCode)
		})
	}
}

func TestRunScriptUsesDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	r, out := newTestInterp()

	_, err := r.Run(context.Background(), Invocation{
		Dir:    dir,
		Script: `echo "$GENERATOR"; pwd`,
		Env:    map[string]string{"GENERATOR": "Xcode"},
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Xcode\n")
	assert.Contains(t, filepath.ToSlash(out.String()), filepath.ToSlash(filepath.Base(resolved)))
}

func TestRunArgsQuoting(t *testing.T) {
	r, out := newTestInterp()

	_, err := r.Run(context.Background(), Invocation{
		Dir:  t.TempDir(),
		Args: []string{"echo", "Visual Studio 16 2019", "it's", "$HOME"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Visual Studio 16 2019 it's $HOME\n", out.String())
}

func TestRunArgsMissingExecutable(t *testing.T) {
	r, _ := newTestInterp()

	_, err := r.Run(context.Background(), Invocation{
		Dir:  t.TempDir(),
		Args: []string{"definitely-not-a-command-4711", "--help"},
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestRunArgsExitStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX sh")
	}

	r, _ := newTestInterp()
	result, err := r.Run(context.Background(), Invocation{
		Dir:  t.TempDir(),
		Args: []string{"sh", "-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunArgsBuiltin(t *testing.T) {
	r, _ := newTestInterp()

	result, err := r.Run(context.Background(), Invocation{
		Dir:  t.TempDir(),
		Args: []string{"exit", "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.ExitCode)
}

func TestRunMissingDir(t *testing.T) {
	r, _ := newTestInterp()

	_, err := r.Run(context.Background(), Invocation{
		Dir:    filepath.Join(t.TempDir(), "build", "macos"),
		Script: "echo unreachable",
	})
	require.Error(t, err)
}

func TestDryRun(t *testing.T) {
	r, out := newTestInterp()
	r.DryRun = true

	result, err := r.Run(context.Background(), Invocation{Dir: t.TempDir(), Script: "echo hi; exit 5"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Empty(t, out.String())
}

func TestFormat(t *testing.T) {
	line, err := Format(Invocation{Args: []string{"cmake", "-G", "Visual Studio 16 2019", "../../"}})
	require.NoError(t, err)
	assert.Equal(t, `cmake -G 'Visual Studio 16 2019' ../../`, line)

	line, err = Format(Invocation{Script: `cmake -G "Xcode" ../../`})
	require.NoError(t, err)
	assert.Equal(t, `cmake -G "Xcode" ../../`, line)
}
