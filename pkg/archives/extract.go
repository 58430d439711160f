package archives

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// extractor unpacks the archive in f (size bytes long) into destPath, removing the
// first strip path components of every entry.
type extractor func(f *os.File, size int64, destPath string, strip int) error

// entryDest maps an archive entry to its location below destPath. It returns an empty
// string for entries that vanish after stripping.
func entryDest(destPath, item string, strip int) (string, error) {
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if len(pathParts) <= strip {
		return "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[strip:], string(filepath.Separator)))
	if dest == destPath {
		return "", nil
	}

	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, destPath)
	}

	return dest, nil
}

func createFile(dest string, mode os.FileMode) (*os.File, error) {
	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	handle, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return handle, nil
}

func copyEntry(dest string, mode os.FileMode, src io.Reader) error {
	handle, err := createFile(dest, mode)
	if err != nil {
		return err
	}
	defer handle.Close()

	if _, err = io.Copy(handle, src); err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return eris.Wrapf(handle.Close(), "Failed to close %s", dest)
}

func getExtractor(url string) (extractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, size int64, destPath string, strip int) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, size int64, destPath string, strip int) error {
			return extractTar(bzip2.NewReader(f), destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, size int64, destPath string, strip int) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(reader, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.br"):
		return func(f *os.File, size int64, destPath string, strip int) error {
			return extractTar(brotli.NewReader(f), destPath, strip)
		}, nil
	}

	return nil, eris.Errorf("Archive format of %s not supported", url)
}

func extractZip(f *os.File, size int64, destPath string, strip int) error {
	archive, err := zip.NewReader(f, size)
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := entryDest(destPath, item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
		}

		mode := item.Mode().Perm()
		if mode == 0 {
			mode = 0o660
		}

		err = copyEntry(dest, mode, itemHandle)
		itemHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, destPath string, strip int) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		if item.FileInfo().IsDir() {
			continue
		}

		dest, err := entryDest(destPath, item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeSymlink:
			err = os.MkdirAll(filepath.Dir(dest), 0o770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeReg:
			mode := item.FileInfo().Mode().Perm()
			if mode == 0 {
				mode = 0o660
			}

			err = copyEntry(dest, mode, archive)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
