package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sophon-labs/sophon/internal/hashing"
)

// ErrChecksum reports a stored blob whose XXH64 digest does not match the
// digest token of its chunk name. The file is retained on disk; callers
// decide whether to refetch.
var ErrChecksum = errors.New("chunk checksum mismatch")

// Store is a flat directory of downloaded chunk files keyed by chunk name.
// Concurrent Put calls on distinct chunks are safe; the orchestrator never
// schedules the same chunk twice concurrently.
type Store struct {
	dir string

	mkdirOnce sync.Once
	mkdirErr  error
}

// New creates a store rooted at dir. The directory is created lazily on the
// first Put.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the on-disk path of a chunk.
func (s *Store) Path(chunkName string) string {
	return filepath.Join(s.dir, chunkName)
}

// Exists reports whether a chunk file is present.
func (s *Store) Exists(chunkName string) bool {
	fi, err := os.Stat(s.Path(chunkName))
	return err == nil && fi.Mode().IsRegular()
}

// Matches reports whether a chunk file is present and its XXH64 digest
// matches the leading token of its name.
func (s *Store) Matches(ctx context.Context, chunkName string) bool {
	if !s.Exists(chunkName) {
		return false
	}
	sum, err := hashing.XXH64File(ctx, s.Path(chunkName))
	if err != nil {
		return false
	}
	return hashing.Equal(sum, nameToken(chunkName))
}

// Put streams r into the chunk file, then verifies the stored blob's XXH64
// against the name token. On mismatch the file is retained and ErrChecksum
// returned. Returns the number of bytes stored.
func (s *Store) Put(ctx context.Context, chunkName string, r io.Reader) (int64, error) {
	s.mkdirOnce.Do(func() {
		s.mkdirErr = os.MkdirAll(s.dir, 0o755)
	})
	if s.mkdirErr != nil {
		return 0, fmt.Errorf("failed to create chunk directory: %w", s.mkdirErr)
	}

	f, err := os.Create(s.Path(chunkName))
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk file: %w", err)
	}
	written, err := copyContext(ctx, f, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close chunk file: %w", cerr)
	}
	if err != nil {
		return written, err
	}

	sum, err := hashing.XXH64File(ctx, s.Path(chunkName))
	if err != nil {
		return written, err
	}
	if !hashing.Equal(sum, nameToken(chunkName)) {
		return written, fmt.Errorf("%w: %s stored as %s", ErrChecksum, chunkName, sum)
	}
	return written, nil
}

// Open returns a readable seekable handle on a stored chunk.
func (s *Store) Open(chunkName string) (*os.File, error) {
	f, err := os.Open(s.Path(chunkName))
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk %s: %w", chunkName, err)
	}
	return f, nil
}

// PurgeAll removes the whole store directory.
func (s *Store) PurgeAll() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to purge chunk store: %w", err)
	}
	return nil
}

func nameToken(chunkName string) string {
	if i := strings.IndexByte(chunkName, '_'); i >= 0 {
		return chunkName[:i]
	}
	return chunkName
}

func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 80*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, fmt.Errorf("failed to write chunk bytes: %w", werr)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("failed to read chunk bytes: %w", err)
		}
	}
}
