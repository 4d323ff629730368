package operation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sophon-labs/sophon/internal/chunkstore"
	"github.com/sophon-labs/sophon/internal/httpx"
	"github.com/sophon-labs/sophon/internal/progress"
	"github.com/sophon-labs/sophon/internal/sophon"
)

// downloadChunks fetches the given chunks of one asset into the store,
// fanning out with the orchestrator's worker degree. A chunk whose stored
// XXH64 already matches is not refetched, which is what makes cancelled and
// predownloaded operations resumable. When tr is non-nil each stored chunk
// reports its decompressed size as one finished block (predownload is the
// only pipeline that accounts progress at download time).
func (o *Orchestrator) downloadChunks(ctx context.Context, store *chunkstore.Store, urlPrefix string, chunks []sophon.AssetChunk, tr *progress.Tracker) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, c := range chunks {
		g.Go(func() error {
			if err := o.downloadChunk(gctx, store, urlPrefix, c); err != nil {
				return err
			}
			if tr != nil {
				tr.ReportChunk(c.ChunkSizeDecompressed, true)
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) downloadChunk(ctx context.Context, store *chunkstore.Store, urlPrefix string, c sophon.AssetChunk) error {
	if store.Matches(ctx, c.ChunkName) {
		o.log.ChunkReused(c.ChunkName)
		if o.metrics != nil {
			o.metrics.ChunksReusedTotal.Inc()
		}
		return nil
	}

	url := fmt.Sprintf("%s/%s", urlPrefix, c.ChunkName)
	body, _, err := httpx.Get(ctx, o.client, url)
	if err != nil {
		return fmt.Errorf("failed to download chunk %s: %w", c.ChunkName, err)
	}
	defer body.Close()

	n, err := store.Put(ctx, c.ChunkName, body)
	if err != nil {
		if errors.Is(err, chunkstore.ErrChecksum) {
			// Left on disk; the verifier flags the owning asset and the
			// repair pass refetches it.
			if o.metrics != nil {
				o.metrics.ChunkChecksumFailures.Inc()
			}
			o.log.Warn(fmt.Sprintf("chunk %s failed checksum after download", c.ChunkName))
			return nil
		}
		return err
	}
	o.log.ChunkFetched(c.ChunkName, n)
	if o.metrics != nil {
		o.metrics.RecordChunkDownloaded(n)
	}
	return nil
}
