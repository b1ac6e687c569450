package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore serves blobs from a local directory, keyed by relative path.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (d *DirStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Clean against a rooted path so keys cannot escape the directory.
	path := filepath.Join(d.root, filepath.Clean("/"+key))
	data, err := os.ReadFile(path) // #nosec G304 -- path is confined to root above
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %w", ErrPermanent, key, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTransient, key, err)
	}
	return data, nil
}
