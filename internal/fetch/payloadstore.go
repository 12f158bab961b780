// Package fetch downloads paper payloads over HTTP into an on-disk
// payload store, with bounded concurrency and retry on transient
// upstream failures.
package fetch

import (
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/paperdex/paperdex/pkg/errors"
)

// PayloadStore lays payloads out on disk, one file per paper keyed by
// external ID. Presence of the final file is the dedup signal (not a
// content hash), so writes land in a temp file and only a complete
// download is renamed into place.
type PayloadStore struct {
	root string
}

func NewPayloadStore(root string) (*PayloadStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.Internal(err, "creating payload root %s", root)
	}
	return &PayloadStore{root: root}, nil
}

// Path returns the final on-disk location for a paper's payload.
func (s *PayloadStore) Path(externalID string) string {
	return filepath.Join(s.root, externalID+".pdf")
}

// Exists reports whether a completed payload is already on disk, and
// its size.
func (s *PayloadStore) Exists(externalID string) (bool, int64) {
	info, err := os.Stat(s.Path(externalID))
	if err != nil || info.IsDir() {
		return false, 0
	}
	return true, info.Size()
}

// WriteAtomic streams r into a temp file next to the final path and
// renames it into place once the stream is fully copied. A short read
// or disk error leaves nothing at the final path.
func (s *PayloadStore) WriteAtomic(externalID string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(s.root, externalID+".partial-*")
	if err != nil {
		return 0, apperrors.Internal(err, "creating temp payload for %s", externalID)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		// Mid-stream failures are usually the connection dying, so
		// classify for the retry layer.
		return 0, apperrors.Transient(err, "streaming payload for %s", externalID)
	}
	if err := tmp.Close(); err != nil {
		return 0, apperrors.Internal(err, "flushing payload for %s", externalID)
	}
	if err := os.Rename(tmp.Name(), s.Path(externalID)); err != nil {
		return 0, apperrors.Internal(err, "publishing payload for %s", externalID)
	}
	return n, nil
}
