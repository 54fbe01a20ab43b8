// Package photosource reads photos from a library directory.
package photosource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/photodedup/pkg/models"
)

// ErrOutsideLibrary is returned for ids that resolve outside the library root.
var ErrOutsideLibrary = errors.New("path outside photo library")

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// IsImage reports whether the file name has a supported image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Dir is a photo library rooted at a directory. Photo ids are slash-separated
// paths relative to the root and timestamps are file modification times.
type Dir struct {
	root  string
	trash string
}

// NewDir opens a library. When trash is non-empty, deleted photos are moved
// there instead of being unlinked.
func NewDir(root, trash string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root %s is not a directory", abs)
	}

	d := &Dir{root: abs}
	if trash != "" {
		if d.trash, err = filepath.Abs(trash); err != nil {
			return nil, fmt.Errorf("resolve trash dir: %w", err)
		}
		if err := os.MkdirAll(d.trash, 0o750); err != nil {
			return nil, fmt.Errorf("create trash dir: %w", err)
		}
	}
	return d, nil
}

// Root returns the absolute library root.
func (d *Dir) Root() string { return d.root }

// List returns every photo in the library, newest first. Equal modification
// times are ordered by id.
func (d *Dir) List(ctx context.Context) ([]models.PhotoStub, error) {
	var stubs []models.PhotoStub

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != d.root && (strings.HasPrefix(entry.Name(), ".") || d.isTrash(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !IsImage(entry.Name()) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between readdir and stat
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		stubs = append(stubs, models.PhotoStub{
			ID:        filepath.ToSlash(rel),
			Timestamp: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}

	slices.SortFunc(stubs, func(a, b models.PhotoStub) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return stubs, nil
}

// FetchPage returns up to limit photos starting at offset in List order.
func (d *Dir) FetchPage(ctx context.Context, offset, limit int) ([]models.PhotoStub, error) {
	if offset < 0 || limit <= 0 {
		return []models.PhotoStub{}, nil
	}
	all, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []models.PhotoStub{}, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

// Open opens the photo with the given id for reading.
func (d *Dir) Open(_ context.Context, id string) (io.ReadCloser, error) {
	path, err := d.resolve(id)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes photos from the library. Every id is validated before
// anything is touched. Missing files are treated as already deleted.
func (d *Dir) Delete(ctx context.Context, ids []string) error {
	paths := make([]string, len(ids))
	for i, id := range ids {
		p, err := d.resolve(id)
		if err != nil {
			return err
		}
		paths[i] = p
	}

	var errs []error
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.remove(ids[i], p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", ids[i], err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dir) remove(id, path string) error {
	if d.trash == "" {
		return os.Remove(path)
	}

	dst := filepath.Join(d.trash, filepath.FromSlash(id))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(dst, ext), time.Now().UnixNano(), ext)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	if err := os.Rename(path, dst); err != nil {
		return err
	}
	log.Debug().Str("photo", id).Str("trash", dst).Msg("Moved photo to trash")
	return nil
}

// resolve maps an id to an absolute path inside the root.
func (d *Dir) resolve(id string) (string, error) {
	if id == "" || filepath.IsAbs(id) || strings.HasPrefix(id, "/") {
		return "", fmt.Errorf("%q: %w", id, ErrOutsideLibrary)
	}
	path := filepath.Join(d.root, filepath.FromSlash(id))
	rel, err := filepath.Rel(d.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", id, ErrOutsideLibrary)
	}
	if d.isTrash(path) {
		return "", fmt.Errorf("%q: %w", id, ErrOutsideLibrary)
	}
	return path, nil
}

func (d *Dir) isTrash(path string) bool {
	if d.trash == "" {
		return false
	}
	return path == d.trash || strings.HasPrefix(path, d.trash+string(filepath.Separator))
}
