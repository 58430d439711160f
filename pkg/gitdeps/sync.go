package gitdeps

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
)

// Syncer checks out dependencies with go-git
type Syncer struct {
	// Jobs limits the number of repositories synced in parallel
	Jobs int
	// Progress receives the remote's progress messages. Only used if Jobs is 1 since
	// the output of parallel clones would be interleaved.
	Progress io.Writer
	DryRun   bool
}

// Report lists the outcome of a Sync call per dependency path
type Report struct {
	Synced  []string
	Skipped []string
	Failed  map[string]error
}

// Err combines all failures into a single error or returns nil if there were none.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := make([]string, len(names))
	for idx, name := range names {
		msgs[idx] = fmt.Sprintf("%s: %s", name, r.Failed[name])
	}

	return eris.Errorf("%d dependencies failed to sync:\n%s", len(names), strings.Join(msgs, "\n"))
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeSkipped
)

// Sync checks out every dependency below baseDir. Failures of individual dependencies
// are collected in the report; only a cancelled context aborts the whole sync.
func (s *Syncer) Sync(ctx context.Context, baseDir string, deps []Dependency) (Report, error) {
	report := Report{Failed: map[string]error{}}
	lock := sync.Mutex{}

	jobs := s.Jobs
	if jobs < 1 {
		jobs = 1
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(jobs)

	for _, dep := range deps {
		dep := dep
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result, err := s.syncOne(gctx, filepath.Join(baseDir, filepath.FromSlash(dep.Path)), dep, jobs == 1)

			lock.Lock()
			defer lock.Unlock()

			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				logging.Log(ctx).Warn().Err(err).Str("dep", dep.Path).Msgf("Failed to sync %s", dep.Path)
				report.Failed[dep.Path] = err
			case result == outcomeSkipped:
				report.Skipped = append(report.Skipped, dep.Path)
			default:
				report.Synced = append(report.Synced, dep.Path)
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return report, eris.Wrap(err, "dependency sync aborted")
	}

	sort.Strings(report.Synced)
	sort.Strings(report.Skipped)
	return report, nil
}

func (s *Syncer) syncOne(ctx context.Context, dest string, dep Dependency, showProgress bool) (outcome, error) {
	log := logging.Log(ctx).With().Str("dep", dep.Path).Logger()

	var progress io.Writer
	if showProgress {
		progress = s.Progress
	}

	repo, err := git.PlainOpen(dest)
	cloned := false
	if eris.Is(err, git.ErrRepositoryNotExists) {
		log.Info().Msgf("Cloning %s into %s", dep.URL, dep.Path)
		if s.DryRun {
			return outcomeSynced, nil
		}

		repo, err = git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
			URL:        dep.URL,
			Progress:   progress,
			NoCheckout: dep.Revision != "",
		})
		if err != nil {
			return outcomeSynced, eris.Wrapf(err, "failed to clone %s", dep.URL)
		}
		cloned = true
	} else if err != nil {
		return outcomeSynced, eris.Wrapf(err, "failed to open %s", dest)
	}

	if dep.Revision == "" {
		// nothing pinned; a fresh clone already is on the remote's default branch
		if cloned {
			return outcomeSynced, nil
		}
		return outcomeSkipped, nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(dep.Revision))
	if err != nil {
		log.Info().Msgf("Fetching %s", dep.URL)
		if s.DryRun {
			return outcomeSynced, nil
		}

		err = repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: git.DefaultRemoteName,
			Progress:   progress,
			Tags:       git.AllTags,
		})
		if err != nil && !eris.Is(err, git.NoErrAlreadyUpToDate) {
			return outcomeSynced, eris.Wrapf(err, "failed to fetch %s", dep.URL)
		}

		hash, err = repo.ResolveRevision(plumbing.Revision(dep.Revision))
		if err != nil {
			return outcomeSynced, eris.Wrapf(err, "revision %s not found in %s", dep.Revision, dep.URL)
		}
	}

	if !cloned {
		head, err := repo.Head()
		if err == nil && head.Hash() == *hash {
			log.Debug().Msgf("%s already at %s", dep.Path, dep.Revision)
			return outcomeSkipped, nil
		}
	}

	log.Info().Msgf("Checking out %s at %s", dep.Path, dep.Revision)
	if s.DryRun {
		return outcomeSynced, nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return outcomeSynced, eris.Wrapf(err, "failed to open worktree of %s", dest)
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Hash:  *hash,
		Force: true,
	})
	if err != nil {
		return outcomeSynced, eris.Wrapf(err, "failed to check out %s in %s", dep.Revision, dest)
	}

	return outcomeSynced, nil
}
