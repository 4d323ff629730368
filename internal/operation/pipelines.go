package operation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/sophon-labs/sophon/internal/assembler"
	"github.com/sophon-labs/sophon/internal/chunkstore"
	"github.com/sophon-labs/sophon/internal/httpx"
	"github.com/sophon-labs/sophon/internal/observability"
	"github.com/sophon-labs/sophon/internal/progress"
	"github.com/sophon-labs/sophon/internal/sophon"
	"github.com/sophon-labs/sophon/internal/verifier"
)

// maxRepairPasses bounds the verify/repair loop. Repair is the engine's only
// retry strategy, so exhausting it is fatal.
const maxRepairPasses = 3

// decodeBuild decodes one build, mapping manifest preconditions (non-OK
// fetch status, checksum mismatch) to a controlled stop with a user-visible
// status string.
func (o *Orchestrator) decodeBuild(ctx context.Context, build *sophon.Build, audio sophon.AudioLanguages, tr *progress.Tracker) (*sophon.DecodedBuild, error) {
	decoded, err := o.decoder.DecodeBuild(ctx, build, audio)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) || errors.Is(err, sophon.ErrManifestChecksum) {
			tr.ReportStatus("manifest fetch failed")
			return nil, fmt.Errorf("%w: %v", errStop, err)
		}
		return nil, err
	}
	return decoded, nil
}

func (o *Orchestrator) runInstall(ctx context.Context, opCtx Context, log *observability.Logger, tr *progress.Tracker) error {
	var remote *sophon.DecodedBuild
	err := o.stage(ctx, "decode", func(ctx context.Context) error {
		var err error
		remote, err = o.decodeBuild(ctx, opCtx.RemoteBuild, opCtx.Audio, tr)
		return err
	})
	if err != nil {
		return err
	}

	if err := o.admitSpace(opCtx.GameDirectory, uint64(remote.TotalBytes), log, tr); err != nil {
		return err
	}
	tr.SetTotals(remote.TotalBytes, remote.ChunkCount())

	store := chunkstore.New(opCtx.ChunksDirectory)
	asm := assembler.New(store, log, o.metrics)
	assets := remote.Assets()

	err = o.stage(ctx, "install", func(ctx context.Context) error {
		return o.forEachAsset(ctx, assets, func(ctx context.Context, a sophon.Asset) error {
			if err := o.downloadChunks(ctx, store, a.ChunkURLPrefix, a.Property.AssetChunks, nil); err != nil {
				return err
			}
			return asm.MergeAsset(ctx, opCtx.GameDirectory, a, tr)
		})
	})
	if err != nil {
		return err
	}

	if err := o.verifyAndRepair(ctx, opCtx, store, asm, assets, log, tr); err != nil {
		return err
	}
	return store.PurgeAll()
}

func (o *Orchestrator) runVerify(ctx context.Context, opCtx Context, log *observability.Logger, tr *progress.Tracker) error {
	var local *sophon.DecodedBuild
	err := o.stage(ctx, "decode", func(ctx context.Context) error {
		var err error
		local, err = o.decodeBuild(ctx, opCtx.LocalBuild, opCtx.Audio, tr)
		return err
	})
	if err != nil {
		return err
	}
	tr.SetTotals(local.TotalBytes, local.ChunkCount())
	tr.ReportStatus("verifying")

	store := chunkstore.New(opCtx.ChunksDirectory)
	asm := assembler.New(store, log, o.metrics)
	ver := verifier.New(log, o.metrics)
	assets := local.Assets()

	var conflicts []sophon.Asset
	err = o.stage(ctx, "verify", func(ctx context.Context) error {
		var err error
		conflicts, err = ver.VerifyAssets(ctx, opCtx.GameDirectory, assets, o.workers, tr)
		return err
	})
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		// Clean verify leaves the chunk store untouched.
		return nil
	}

	if err := o.repairLoop(ctx, opCtx, store, asm, ver, conflicts, 1, log, tr); err != nil {
		return err
	}
	return store.PurgeAll()
}

func (o *Orchestrator) runUpdate(ctx context.Context, opCtx Context, log *observability.Logger, tr *progress.Tracker) error {
	remote, diff, err := o.decodeAndDiff(ctx, opCtx, tr)
	if err != nil {
		return err
	}

	if err := o.admitSpace(opCtx.GameDirectory, uint64(diff.DownloadBytes()), log, tr); err != nil {
		return err
	}
	tr.SetTotals(diff.DownloadBytes(), diff.DownloadChunkCount())

	store := chunkstore.New(opCtx.ChunksDirectory)
	asm := assembler.New(store, log, o.metrics)

	err = o.stage(ctx, "added", func(ctx context.Context) error {
		return o.forEachAsset(ctx, diff.Added, func(ctx context.Context, a sophon.Asset) error {
			if a.Property.IsDirectory() {
				return asm.MergeAsset(ctx, opCtx.GameDirectory, a, tr)
			}
			if err := o.downloadChunks(ctx, store, a.ChunkURLPrefix, a.Property.AssetChunks, nil); err != nil {
				return err
			}
			return asm.MergeAsset(ctx, opCtx.GameDirectory, a, tr)
		})
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, "modified", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for _, m := range diff.Modified {
			g.Go(func() error {
				if err := o.downloadChunks(gctx, store, m.Remote.ChunkURLPrefix, m.Remote.DiffChunks, nil); err != nil {
					return err
				}
				return asm.MergeDiffAsset(gctx, opCtx.GameDirectory, m.Local, m.Remote, tr)
			})
		}
		return g.Wait()
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, "deleted", func(ctx context.Context) error {
		for _, a := range diff.Deleted {
			if err := ctx.Err(); err != nil {
				return err
			}
			target := filepath.Join(opCtx.GameDirectory, filepath.FromSlash(a.Property.AssetName))
			if a.Property.IsDirectory() {
				if err := os.RemoveAll(target); err != nil {
					return fmt.Errorf("failed to delete directory asset %s: %w", a.Property.AssetName, err)
				}
				continue
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete asset %s: %w", a.Property.AssetName, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := o.verifyAndRepair(ctx, opCtx, store, asm, remote.Assets(), log, tr); err != nil {
		return err
	}
	return store.PurgeAll()
}

func (o *Orchestrator) runPredownload(ctx context.Context, opCtx Context, log *observability.Logger, tr *progress.Tracker) error {
	remote, diff, err := o.decodeAndDiff(ctx, opCtx, tr)
	if err != nil {
		return err
	}

	totalBlocks := diff.DownloadChunkCount()
	tr.SetTotals(diff.DownloadBytes(), totalBlocks)

	status := PredownloadStatus{Tag: remote.Tag, Finished: false, TotalBlocks: totalBlocks}
	if err := WriteStatus(opCtx.PredownloadStatusPath, status); err != nil {
		return err
	}

	store := chunkstore.New(opCtx.ChunksDirectory)
	err = o.stage(ctx, "predownload", func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.workers)
		for _, a := range diff.Added {
			g.Go(func() error {
				return o.downloadChunks(gctx, store, a.ChunkURLPrefix, a.Property.AssetChunks, tr)
			})
		}
		for _, m := range diff.Modified {
			g.Go(func() error {
				return o.downloadChunks(gctx, store, m.Remote.ChunkURLPrefix, m.Remote.DiffChunks, tr)
			})
		}
		return g.Wait()
	})
	if err != nil {
		return err
	}

	status.Finished = true
	// Chunks are intentionally retained: the next Update consumes them.
	return WriteStatus(opCtx.PredownloadStatusPath, status)
}

// decodeAndDiff fetches and decodes both builds, then reconciles them.
func (o *Orchestrator) decodeAndDiff(ctx context.Context, opCtx Context, tr *progress.Tracker) (remote *sophon.DecodedBuild, diff sophon.DiffResult, err error) {
	var local *sophon.DecodedBuild
	err = o.stage(ctx, "decode", func(ctx context.Context) error {
		var derr error
		if local, derr = o.decodeBuild(ctx, opCtx.LocalBuild, opCtx.Audio, tr); derr != nil {
			return derr
		}
		remote, derr = o.decodeBuild(ctx, opCtx.RemoteBuild, opCtx.Audio, tr)
		return derr
	})
	if err != nil {
		return nil, sophon.DiffResult{}, err
	}
	diff = sophon.DiffBuilds(local, remote)
	return remote, diff, nil
}

// admitSpace aborts the pipeline with a controlled stop when the target
// volume cannot hold the bytes about to be written.
func (o *Orchestrator) admitSpace(gameDir string, needed uint64, log *observability.Logger, tr *progress.Tracker) error {
	if err := os.MkdirAll(gameDir, 0o755); err != nil {
		return fmt.Errorf("failed to create game directory: %w", err)
	}
	free, err := FreeSpace(gameDir)
	if err != nil {
		return err
	}
	if free < needed {
		log.InsufficientSpace(needed, free)
		msg := fmt.Sprintf("insufficient disk space, need %s, free %s",
			humanize.IBytes(needed), humanize.IBytes(free))
		tr.ReportStatus(msg)
		return fmt.Errorf("%w: %s", errStop, msg)
	}
	return nil
}

// forEachAsset runs fn over assets with the orchestrator's worker degree.
func (o *Orchestrator) forEachAsset(ctx context.Context, assets []sophon.Asset, fn func(context.Context, sophon.Asset) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, a := range assets {
		g.Go(func() error {
			return fn(gctx, a)
		})
	}
	return g.Wait()
}

// verifyAndRepair verifies assets and, while conflicts remain, redownloads
// and reassembles the conflicting assets. Repair progress is additive on top
// of the operation's totals.
func (o *Orchestrator) verifyAndRepair(ctx context.Context, opCtx Context, store *chunkstore.Store, asm *assembler.Assembler, assets []sophon.Asset, log *observability.Logger, tr *progress.Tracker) error {
	ver := verifier.New(log, o.metrics)
	tr.ReportStatus("verifying")

	var conflicts []sophon.Asset
	err := o.stage(ctx, "verify", func(ctx context.Context) error {
		var err error
		conflicts, err = ver.VerifyAssets(ctx, opCtx.GameDirectory, assets, o.workers, tr)
		return err
	})
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	return o.repairLoop(ctx, opCtx, store, asm, ver, conflicts, 1, log, tr)
}

// repairLoop redownloads and reassembles conflicting assets, reverifying
// after each pass, up to maxRepairPasses.
func (o *Orchestrator) repairLoop(ctx context.Context, opCtx Context, store *chunkstore.Store, asm *assembler.Assembler, ver *verifier.Verifier, conflicts []sophon.Asset, pass int, log *observability.Logger, tr *progress.Tracker) error {
	for ; len(conflicts) > 0; pass++ {
		if pass > maxRepairPasses {
			return fmt.Errorf("%d assets still failing verification after %d repair passes", len(conflicts), maxRepairPasses)
		}
		log.RepairPass(pass, len(conflicts))
		if o.metrics != nil {
			o.metrics.RepairPassesTotal.Inc()
		}
		tr.ReportStatus("repairing")

		err := o.stage(ctx, "repair", func(ctx context.Context) error {
			return o.forEachAsset(ctx, conflicts, func(ctx context.Context, a sophon.Asset) error {
				if a.Property.IsDirectory() {
					return asm.MergeAsset(ctx, opCtx.GameDirectory, a, tr)
				}
				target := filepath.Join(opCtx.GameDirectory, filepath.FromSlash(a.Property.AssetName))
				if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove conflicting asset %s: %w", a.Property.AssetName, err)
				}
				if err := o.downloadChunks(ctx, store, a.ChunkURLPrefix, a.Property.AssetChunks, nil); err != nil {
					return err
				}
				return asm.MergeAsset(ctx, opCtx.GameDirectory, a, tr)
			})
		})
		if err != nil {
			return err
		}

		err = o.stage(ctx, "verify", func(ctx context.Context) error {
			var verr error
			conflicts, verr = ver.VerifyAssets(ctx, opCtx.GameDirectory, conflicts, o.workers, tr)
			return verr
		})
		if err != nil {
			return err
		}
	}
	return nil
}
