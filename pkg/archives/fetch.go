package archives

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/platform"
)

// Fetcher downloads and unpacks the archives listed in a manifest
type Fetcher struct {
	// Root is the directory all Dest paths are relative to
	Root     string
	Manifest string
	Platform platform.Name
	Client   *http.Client
	// Update recalculates all checksums and writes them back to the manifest
	Update       bool
	ShowProgress bool
	DryRun       bool
}

// Report lists the archive names by outcome
type Report struct {
	Fetched  []string
	UpToDate []string
	Inactive []string
	Updated  []string
}

type outcome int

const (
	outcomeFetched outcome = iota
	outcomeUpToDate
	outcomeInactive
)

// NewFetcher returns a Fetcher with the default HTTP client
func NewFetcher(root, manifest string, host platform.Name) *Fetcher {
	return &Fetcher{
		Root:     root,
		Manifest: manifest,
		Platform: host,
		Client: &http.Client{
			Timeout: time.Minute * 30,
		},
		ShowProgress: os.Getenv("CI") != "true",
	}
}

func (f *Fetcher) progressBar(length int64, desc string) *progressbar.ProgressBar {
	if !f.ShowProgress {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// Fetch processes every archive in the manifest. The stamps file is written even if
// an archive fails so that finished archives aren't downloaded again.
func (f *Fetcher) Fetch(ctx context.Context) (Report, error) {
	report := Report{}
	manifest, data, err := LoadManifest(f.Manifest)
	if err != nil {
		return report, err
	}

	stampPath := StampPath(f.Manifest)
	stamps, err := readStamps(stampPath)
	if err != nil {
		return report, err
	}

	vars := conditionVars(manifest, f.Platform, os.Getenv("CI") == "true")
	changes := map[string]string{}

	names := make([]string, 0, len(manifest.Deps))
	for name := range manifest.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err = ctx.Err(); err != nil {
			break
		}

		// placeholders are expanded even for inactive entries since --update needs the URL
		spec, active := resolve(manifest.Deps[name], vars)
		if !active && !f.Update {
			report.Inactive = append(report.Inactive, name)
			continue
		}

		var result outcome
		result, err = f.fetchOne(ctx, name, spec, active, stamps, changes)
		if err != nil {
			err = eris.Wrapf(err, "failed to fetch %s", name)
			break
		}

		switch result {
		case outcomeFetched:
			report.Fetched = append(report.Fetched, name)
		case outcomeUpToDate:
			report.UpToDate = append(report.UpToDate, name)
		default:
			report.Inactive = append(report.Inactive, name)
		}
	}

	if !f.DryRun {
		if sErr := writeStamps(stampPath, stamps); sErr != nil {
			logging.Log(ctx).Error().Err(sErr).Msg("Failed to save stamps")
		}
	}

	if err != nil {
		return report, err
	}

	if f.Update && len(changes) > 0 {
		logging.Log(ctx).Info().Msgf("Updating %s", filepath.Base(f.Manifest))
		generated, err := updateChecksums(data, changes)
		if err != nil {
			return report, err
		}

		if err = os.WriteFile(f.Manifest, generated, 0o660); err != nil {
			return report, eris.Wrapf(err, "failed to write %s", f.Manifest)
		}

		for name := range changes {
			report.Updated = append(report.Updated, name)
		}
		sort.Strings(report.Updated)
	}

	return report, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, name string, spec Spec, active bool, stamps, changes map[string]string) (outcome, error) {
	log := logging.Log(ctx).With().Str("dep", name).Logger()

	destPath := filepath.Join(f.Root, filepath.FromSlash(spec.Dest))
	destInfo, err := os.Stat(destPath)
	destExists := err == nil

	stampToken := spec.URL + "#" + spec.Sha256
	if stamp, ok := stamps[name]; ok && stamp == stampToken && destExists && !f.Update {
		return outcomeUpToDate, nil
	}

	log.Info().Msgf("%s: %s", name, spec.URL)
	if spec.Sha256 == "" && !f.Update {
		return outcomeFetched, eris.Errorf("Dependency %s doesn't have a checksum", name)
	}

	extractor, err := getExtractor(spec.URL)
	if err != nil {
		return outcomeFetched, err
	}

	if f.DryRun {
		return outcomeFetched, nil
	}

	archive, err := os.CreateTemp(filepath.Dir(f.Manifest), "deps_dl*.tmp")
	if err != nil {
		return outcomeFetched, eris.Wrap(err, "Failed to create download file")
	}
	defer func() {
		archive.Close()
		os.Remove(archive.Name())
	}()

	digest, size, err := f.download(ctx, spec.URL, archive)
	if err != nil {
		return outcomeFetched, err
	}

	if digest != spec.Sha256 {
		if !f.Update {
			return outcomeFetched, eris.Errorf("Checksum check failed: expected %s but got %s", spec.Sha256, digest)
		}

		log.Info().Msg("Updating checksum")
		changes[name] = digest
		spec.Sha256 = digest
	}

	if !active {
		return outcomeInactive, nil
	}

	if destExists {
		log.Info().Msgf("Remove %s", destPath)
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return outcomeFetched, eris.Wrapf(err, "failed to remove %s", destPath)
		}
	}

	if _, err = archive.Seek(0, io.SeekStart); err != nil {
		return outcomeFetched, eris.Wrap(err, "failed to rewind download")
	}

	err = extractor(archive, size, destPath, spec.Strip)
	if err != nil {
		return outcomeFetched, err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range spec.MarkExec {
			binPath = filepath.Join(destPath, filepath.FromSlash(binPath))
			fi, err := os.Stat(binPath)
			if err != nil {
				return outcomeFetched, eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0o700)
			if err != nil {
				return outcomeFetched, eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	stamps[name] = spec.URL + "#" + spec.Sha256
	return outcomeFetched, nil
}

func (f *Fetcher) download(ctx context.Context, url string, dest io.Writer) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, eris.Wrapf(err, "invalid URL %s", url)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed to start download for %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, eris.Errorf("Failed to download %s: %s", url, resp.Status)
	}

	hash := sha256.New()
	bar := f.progressBar(resp.ContentLength, "     download")
	size, err := io.Copy(io.MultiWriter(dest, hash, bar), resp.Body)
	if err != nil {
		return "", 0, eris.Wrapf(err, "Failed during download of %s", url)
	}
	bar.Finish()

	return hex.EncodeToString(hash.Sum(nil)), size, nil
}
