package gitdeps

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// makeUpstream creates a repository with two commits and returns its path and hashes.
func makeUpstream(t *testing.T) (string, plumbing.Hash, plumbing.Hash) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(content string) plumbing.Hash {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte(content), 0o644))
		_, err := wt.Add("VERSION")
		require.NoError(t, err)

		hash, err := wt.Commit("version "+content, &git.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		require.NoError(t, err)
		return hash
	}

	return dir, commit("1"), commit("2")
}

func requireLocalTransport(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack is required for local clones")
	}
}

func TestSyncClonesAndPins(t *testing.T) {
	requireLocalTransport(t)
	upstream, first, _ := makeUpstream(t)
	base := t.TempDir()

	deps := []Dependency{{Path: "third_party/lib", URL: upstream, Revision: first.String()}}
	syncer := &Syncer{Jobs: 2}

	report, err := syncer.Sync(context.Background(), base, deps)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"third_party/lib"}, report.Synced)

	content, err := os.ReadFile(filepath.Join(base, "third_party", "lib", "VERSION"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(content))

	// a second sync finds the checkout at the pinned revision
	report, err = syncer.Sync(context.Background(), base, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"third_party/lib"}, report.Skipped)
	assert.Empty(t, report.Synced)
}

func TestSyncMovesToNewRevision(t *testing.T) {
	requireLocalTransport(t)
	upstream, first, second := makeUpstream(t)
	base := t.TempDir()
	syncer := &Syncer{Jobs: 1}

	_, err := syncer.Sync(context.Background(), base, []Dependency{{Path: "lib", URL: upstream, Revision: first.String()}})
	require.NoError(t, err)

	report, err := syncer.Sync(context.Background(), base, []Dependency{{Path: "lib", URL: upstream, Revision: second.String()}})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"lib"}, report.Synced)

	repo, err := git.PlainOpen(filepath.Join(base, "lib"))
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, second, head.Hash())
}

func TestSyncCollectsFailures(t *testing.T) {
	requireLocalTransport(t)
	upstream, _, _ := makeUpstream(t)
	base := t.TempDir()

	deps := []Dependency{
		{Path: "good", URL: upstream},
		{Path: "bad", URL: upstream, Revision: "0000000000000000000000000000000000000001"},
	}

	report, err := (&Syncer{Jobs: 2}).Sync(context.Background(), base, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, report.Synced)
	assert.Contains(t, report.Failed, "bad")
	assert.Error(t, report.Err())
}

func TestSyncDryRunTouchesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	base := t.TempDir()
	deps := []Dependency{
		{Path: "a", URL: "https://example.invalid/a.git", Revision: "v1"},
		{Path: "b", URL: "https://example.invalid/b.git"},
	}

	report, err := (&Syncer{Jobs: 4, DryRun: true}).Sync(context.Background(), base, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, report.Synced)

	_, err = os.Stat(filepath.Join(base, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Syncer{Jobs: 1}).Sync(ctx, t.TempDir(), []Dependency{{Path: "a", URL: "https://example.invalid/a.git"}})
	assert.Error(t, err)
}
