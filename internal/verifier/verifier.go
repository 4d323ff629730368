package verifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sophon-labs/sophon/internal/hashing"
	"github.com/sophon-labs/sophon/internal/observability"
	"github.com/sophon-labs/sophon/internal/progress"
	"github.com/sophon-labs/sophon/internal/sophon"
)

// Verifier streams assembled assets and checks every chunk range against its
// decompressed MD5. It is the single authority on correctness: repair is a
// second pass of the pipeline over whatever it flags.
type Verifier struct {
	log     *observability.Logger
	metrics *observability.Metrics
}

// New creates a verifier. log and metrics may be nil.
func New(log *observability.Logger, metrics *observability.Metrics) *Verifier {
	if log == nil {
		log = observability.Nop()
	}
	return &Verifier{log: log, metrics: metrics}
}

// VerifyAssets checks assets in parallel with the given worker count and
// returns the conflict set. Progress advances by one finished block per
// chunk whether the chunk was hashed, skipped after a mismatch, or missing
// with the file, so the UI total stays consistent.
func (v *Verifier) VerifyAssets(ctx context.Context, gameDir string, assets []sophon.Asset, workers int, tr *progress.Tracker) ([]sophon.Asset, error) {
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	var conflicts []sophon.Asset

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, asset := range assets {
		g.Go(func() error {
			ok, err := v.verifyAsset(gctx, gameDir, asset, tr)
			if err != nil {
				return err
			}
			if v.metrics != nil && !asset.Property.IsDirectory() {
				v.metrics.RecordVerify(ok)
			}
			if !ok {
				mu.Lock()
				conflicts = append(conflicts, asset)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (v *Verifier) verifyAsset(ctx context.Context, gameDir string, asset sophon.Asset, tr *progress.Tracker) (bool, error) {
	prop := asset.Property
	target := filepath.Join(gameDir, filepath.FromSlash(prop.AssetName))

	if prop.IsDirectory() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return false, fmt.Errorf("failed to ensure directory asset: %w", err)
		}
		return true, nil
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			v.log.VerifyConflict(prop.AssetName, "missing")
			finishRemaining(tr, len(prop.AssetChunks))
			return false, nil
		}
		return false, fmt.Errorf("failed to open %s for verification: %w", prop.AssetName, err)
	}
	defer f.Close()

	for i, c := range prop.AssetChunks {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		section := io.NewSectionReader(f, c.ChunkOnFileOffset, c.ChunkSizeDecompressed)
		sum, err := hashing.MD5(ctx, section)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			v.log.VerifyConflict(prop.AssetName, "unreadable chunk range")
			finishRemaining(tr, len(prop.AssetChunks)-i)
			return false, nil
		}
		if !hashing.Equal(sum, c.ChunkDecompressedHashMd5) {
			v.log.VerifyConflict(prop.AssetName, "chunk hash mismatch")
			finishRemaining(tr, len(prop.AssetChunks)-i)
			return false, nil
		}
		if tr != nil {
			tr.ReportChunk(c.ChunkSizeDecompressed, true)
		}
	}
	return true, nil
}

// finishRemaining advances progress for chunks that will not be hashed, as
// zero-byte finished blocks.
func finishRemaining(tr *progress.Tracker, n int) {
	if tr == nil {
		return
	}
	for i := 0; i < n; i++ {
		tr.ReportChunk(0, true)
	}
}
