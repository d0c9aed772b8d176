package store

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"klinesync/internal/domain"
)

// Compile-time interface check.
var _ ArchiveStore = (*FSStore)(nil)

// FSStore lays artifacts out as {root}/{mode}/{interval}/{SYMBOL-interval-KEY}.csv.
// Remote archives arrive zipped; only the extracted CSV is kept.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir. The directory tree is created
// lazily as artifacts are committed.
func NewFSStore(dir string) *FSStore {
	return &FSStore{root: dir}
}

// Path returns the artifact path for an archive.
func (s *FSStore) Path(a domain.Archive) string {
	return filepath.Join(s.root, string(a.Mode), a.Interval, a.Stem()+".csv")
}

// Exists reports whether the artifact is present with non-zero size.
func (s *FSStore) Exists(a domain.Archive) bool {
	info, err := os.Stat(s.Path(a))
	return err == nil && info.Size() > 0
}

// Store spools the zipped archive from r to a temp file, extracts the CSV
// entry to a second temp file, and renames it onto the final path. The
// rename is the only step that touches the final path, so readers never
// observe a partial artifact. Short or corrupt archives surface as
// transient errors because a retry re-downloads the object; filesystem
// failures surface as local-io errors.
func (s *FSStore) Store(ctx context.Context, a domain.Archive, r io.Reader) (int64, error) {
	dest := s.Path(a)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, domain.NewLocalIO("creating "+dir, err)
	}

	// zip needs random access, so the body is spooled to disk first.
	zf, err := os.CreateTemp(dir, "."+a.Stem()+"-*.zip")
	if err != nil {
		return 0, domain.NewLocalIO("creating temp archive", err)
	}
	zipPath := zf.Name()
	defer os.Remove(zipPath)

	if _, err := io.Copy(zf, r); err != nil {
		zf.Close()
		return 0, classifyCopy(err, "spooling "+a.Stem()+".zip")
	}
	if err := zf.Close(); err != nil {
		return 0, domain.NewLocalIO("closing temp archive", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return s.extract(a, zipPath, dest)
}

// extract copies the CSV entry out of the archive at zipPath and commits
// it to dest via rename.
func (s *FSStore) extract(a domain.Archive, zipPath, dest string) (int64, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		// Truncated or corrupt download.
		return 0, domain.NewTransient("opening "+a.Stem()+".zip", 0, err)
	}
	defer zr.Close()

	entry := csvEntry(&zr.Reader)
	if entry == nil {
		return 0, domain.NewTransient(a.Stem()+".zip contains no csv entry", 0, nil)
	}
	src, err := entry.Open()
	if err != nil {
		return 0, domain.NewTransient("reading "+entry.Name, 0, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+a.Stem()+"-*.csv")
	if err != nil {
		return 0, domain.NewLocalIO("creating temp artifact", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return 0, classifyCopy(err, "extracting "+entry.Name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, domain.NewLocalIO("syncing temp artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, domain.NewLocalIO("closing temp artifact", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, domain.NewLocalIO("publishing "+dest, err)
	}
	return n, nil
}

// classifyCopy splits an io.Copy failure by side: write errors come from
// our own filesystem, anything else came from the source (network body or
// zip decompression) and is worth a retry.
func classifyCopy(err error, msg string) error {
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return domain.NewLocalIO(msg, err)
	}
	return domain.NewTransient(msg, 0, err)
}

func csvEntry(zr *zip.Reader) *zip.File {
	for _, f := range zr.File {
		if strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			return f
		}
	}
	return nil
}
