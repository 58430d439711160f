// Package bootstrap prepares a checkout for building: it syncs the third-party
// dependencies and runs the CMake generator that matches the host platform.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/archives"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/config"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/gitdeps"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/shell"
)

// Sequencer runs the bootstrap steps in order
type Sequencer struct {
	Config *config.Config
	Runner shell.Runner
	// Detect reports the host platform; replaced in tests
	Detect func() platform.Name
	// Progress receives git progress output during a native sync
	Progress io.Writer
}

// New returns a Sequencer that runs commands through the given runner
func New(cfg *config.Config, runner shell.Runner) *Sequencer {
	return &Sequencer{
		Config:   cfg,
		Runner:   runner,
		Detect:   platform.Detect,
		Progress: os.Stderr,
	}
}

// Run syncs the dependencies, detects the platform and generates the build files.
// A non-zero exit status of either tool doesn't stop the sequence unless strict mode
// is enabled.
func (s *Sequencer) Run(ctx context.Context) error {
	logger := logging.Log(ctx).With().Str("run", nanoid.New()).Logger()
	ctx = logging.WithLogger(ctx, &logger)

	if err := s.SyncDependencies(ctx); err != nil {
		return err
	}

	systemName := s.DetectPlatform()
	logger.Info().Msgf("Building On %s System", systemName)
	logger.Info().Msgf("Current Path is %s", s.Config.Root)

	_, err := s.GenerateBuild(ctx, systemName, s.Config.Root)
	return err
}

// DetectPlatform returns the configured platform override or the host platform
func (s *Sequencer) DetectPlatform() platform.Name {
	if s.Config.Platform != "" {
		return platform.FromGOOS(strings.ToLower(s.Config.Platform))
	}

	return s.Detect()
}

// checkStatus decides what a non-zero exit status means for the sequence
func (s *Sequencer) checkStatus(ctx context.Context, what string, result shell.Result) error {
	if result.ExitCode == 0 {
		return nil
	}

	if s.Config.Strict {
		return eris.Errorf("%s exited with status %d", what, result.ExitCode)
	}

	logging.Log(ctx).Warn().Msgf("%s exited with status %d, continuing", what, result.ExitCode)
	return nil
}

// tolerate logs err and drops it unless strict mode is enabled
func (s *Sequencer) tolerate(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}

	if s.Config.Strict {
		return eris.Wrap(err, msg)
	}

	logging.Log(ctx).Warn().Err(err).Msg(msg)
	return nil
}

// SyncDependencies fetches the third-party sources. It only returns an error if the
// sync couldn't be started at all (or, in strict mode, if it failed).
func (s *Sequencer) SyncDependencies(ctx context.Context) error {
	ctx = logging.WithTask(ctx, "sync")
	cfg := s.Config

	switch cfg.Sync.Mode {
	case config.SyncNone:
		logging.Log(ctx).Debug().Msg("dependency sync disabled")
		return nil
	case config.SyncScript:
		result, err := s.Runner.Run(ctx, shell.Invocation{
			Dir:  cfg.Root,
			Args: cfg.Sync.Command,
		})
		if err != nil {
			return eris.Wrap(err, "failed to run the dependency sync tool")
		}

		if err = s.checkStatus(ctx, cfg.Sync.Command[len(cfg.Sync.Command)-1], result); err != nil {
			return err
		}
	case config.SyncNative:
		if err := s.syncNative(ctx); err != nil {
			return err
		}
	default:
		return eris.Errorf("unknown sync mode %s", cfg.Sync.Mode)
	}

	if cfg.Sync.Archives == "" {
		return nil
	}

	manifest := cfg.Resolve(cfg.Sync.Archives)
	if _, err := os.Stat(manifest); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			logging.Log(ctx).Debug().Str("path", manifest).Msgf("no archive manifest at %s", manifest)
			return nil
		}
		return eris.Wrapf(err, "failed to check %s", manifest)
	}

	_, err := s.FetchArchives(ctx, false)
	return s.tolerate(ctx, err, "failed to fetch prebuilt archives")
}

func (s *Sequencer) syncNative(ctx context.Context) error {
	cfg := s.Config
	depsPath := cfg.Resolve(cfg.Sync.DepsFile)

	file, err := gitdeps.Load(depsPath)
	if err != nil {
		return err
	}

	deps, err := file.Select(s.DetectPlatform())
	if err != nil {
		return err
	}

	syncer := &gitdeps.Syncer{
		Jobs:     cfg.Sync.Jobs,
		Progress: s.Progress,
		DryRun:   cfg.DryRun,
	}

	report, err := syncer.Sync(ctx, filepath.Dir(depsPath), deps)
	if err != nil {
		return err
	}

	logging.Log(ctx).Info().
		Int("synced", len(report.Synced)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msgf("Synced %d of %d dependencies", len(report.Synced)+len(report.Skipped), len(deps))

	return s.tolerate(ctx, report.Err(), "dependency sync incomplete")
}

// FetchArchives downloads the prebuilt archives listed in the configured manifest.
// If update is set, checksums are recalculated and written back to the manifest.
func (s *Sequencer) FetchArchives(ctx context.Context, update bool) (archives.Report, error) {
	cfg := s.Config
	fetcher := archives.NewFetcher(cfg.Root, cfg.Resolve(cfg.Sync.Archives), s.DetectPlatform())
	fetcher.DryRun = cfg.DryRun
	fetcher.Update = update

	report, err := fetcher.Fetch(ctx)
	if err != nil {
		return report, err
	}

	logging.Log(ctx).Info().
		Int("fetched", len(report.Fetched)).
		Int("uptodate", len(report.UpToDate)).
		Int("inactive", len(report.Inactive)).
		Msg("Prebuilt archives ready")

	return report, nil
}

// GenerateBuild runs the CMake generator for osName from its build directory below
// baseDir. It returns false without doing anything if there's no target for osName.
func (s *Sequencer) GenerateBuild(ctx context.Context, osName platform.Name, baseDir string) (bool, error) {
	ctx = logging.WithTask(ctx, "generate")

	target, ok := s.Config.Targets()[osName]
	if !ok {
		logging.Log(ctx).Debug().Msgf("no generator configured for %s", osName)
		return false, nil
	}

	dir := filepath.Join(baseDir, filepath.FromSlash(target.Dir))
	info, err := os.Stat(dir)
	if err != nil {
		return true, eris.Wrapf(err, "can't enter build directory %s", dir)
	}
	if !info.IsDir() {
		return true, eris.Errorf("build directory %s is not a directory", dir)
	}

	script, err := GeneratorCommand(s.Config.Generate.Cmake, target.Generator, s.Config.Generate.Source)
	if err != nil {
		return true, err
	}

	result, err := s.Runner.Run(ctx, shell.Invocation{
		Dir:    dir,
		Script: script,
	})
	if err != nil {
		return true, eris.Wrap(err, "failed to run the generator")
	}

	return true, s.checkStatus(ctx, "generator", result)
}

// GeneratorCommand builds the shell command line that invokes CMake, i.e.
// cmake -G "Visual Studio 16 2019" ../../
func GeneratorCommand(cmake, generator, source string) (string, error) {
	parts := make([]string, 0, 4)
	for _, arg := range []string{cmake, "-G"} {
		quoted, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return "", eris.Wrapf(err, "invalid argument %q", arg)
		}
		parts = append(parts, quoted)
	}

	if strings.ContainsAny(generator, "\"$`\\") {
		quoted, err := syntax.Quote(generator, syntax.LangBash)
		if err != nil {
			return "", eris.Wrapf(err, "invalid generator name %q", generator)
		}
		parts = append(parts, quoted)
	} else {
		parts = append(parts, fmt.Sprintf("%q", generator))
	}

	quoted, err := syntax.Quote(source, syntax.LangBash)
	if err != nil {
		return "", eris.Wrapf(err, "invalid source path %q", source)
	}

	return strings.Join(append(parts, quoted), " "), nil
}
