// Package tarball packs and unpacks the gzipped tar archives used for
// workspace distribution and log archival.
package tarball

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

var format = archives.CompressedArchive{
	Compression: archives.Gz{},
	Archival:    archives.Tar{},
	Extraction:  archives.Tar{},
}

// Pack writes a gzipped tar to w. files maps disk paths to their names
// in the archive; directories are walked recursively.
func Pack(ctx context.Context, w io.Writer, files map[string]string) error {
	list, err := archives.FilesFromDisk(ctx, nil, files)
	if err != nil {
		return fmt.Errorf("collect files: %w", err)
	}
	if err := format.Archive(ctx, w, list); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}

// PackDir writes a gzipped tar of dir's contents, rooted at the top of
// the archive. A .git directory at the top level is left out.
func PackDir(ctx context.Context, w io.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		files[filepath.Join(dir, entry.Name())] = entry.Name()
	}
	return Pack(ctx, w, files)
}

// Extract unpacks a gzipped tar stream into destDir. Entries that would
// escape destDir are rejected.
func Extract(ctx context.Context, r io.Reader, destDir string) error {
	return format.Extract(ctx, r, func(_ context.Context, f archives.FileInfo) error {
		name := filepath.Clean(f.NameInArchive)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("invalid path in archive: %s", f.NameInArchive)
		}
		target := filepath.Join(destDir, name)

		switch {
		case f.IsDir():
			return os.MkdirAll(target, 0o755)
		case f.LinkTarget != "":
			if filepath.IsAbs(f.LinkTarget) {
				return fmt.Errorf("invalid link target in archive: %s", f.LinkTarget)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(f.LinkTarget, target)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			_ = src.Close()
			return err
		}
		_, copyErr := io.Copy(dst, src)
		_ = src.Close()
		_ = dst.Close()
		return copyErr
	})
}
