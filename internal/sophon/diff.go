package sophon

import "strings"

// DiffResult is the reconciliation of a local build against a remote build.
// List ordering is insertion order from the manifests' iteration.
type DiffResult struct {
	Added    []Asset
	Modified []ModifiedAsset
	Deleted  []Asset
}

// ModifiedAsset pairs the local and remote versions of an asset whose
// content hash changed. Remote.DiffChunks holds the chunks to download.
type ModifiedAsset struct {
	Local  Asset
	Remote Asset
}

// DiffBuilds computes {added, modified, deleted} asset sets. Manifests are
// paired by MatchingField rather than by position, so a changed audio
// language selection cannot misalign the comparison; a remote manifest with
// no local counterpart contributes all of its assets as added, a local
// manifest with no remote counterpart contributes all of its assets as
// deleted.
func DiffBuilds(local, remote *DecodedBuild) DiffResult {
	var out DiffResult

	localByField := make(map[string]DecodedManifest, len(local.Manifests))
	for _, m := range local.Manifests {
		localByField[m.MatchingField] = m
	}
	remoteFields := make(map[string]struct{}, len(remote.Manifests))

	for _, rm := range remote.Manifests {
		remoteFields[rm.MatchingField] = struct{}{}
		lm, ok := localByField[rm.MatchingField]
		if !ok {
			for _, p := range rm.Proto.Assets {
				out.Added = append(out.Added, Asset{ChunkURLPrefix: rm.ChunkURLPrefix, Property: p})
			}
			continue
		}
		diffManifests(lm, rm, &out)
	}

	for _, lm := range local.Manifests {
		if _, ok := remoteFields[lm.MatchingField]; ok {
			continue
		}
		for _, p := range lm.Proto.Assets {
			out.Deleted = append(out.Deleted, Asset{ChunkURLPrefix: lm.ChunkURLPrefix, Property: p})
		}
	}
	return out
}

func diffManifests(local, remote DecodedManifest, out *DiffResult) {
	localByName := make(map[string]AssetProperty, len(local.Proto.Assets))
	for _, p := range local.Proto.Assets {
		localByName[nameKey(p.AssetName)] = p
	}
	remoteNames := make(map[string]struct{}, len(remote.Proto.Assets))

	for _, rp := range remote.Proto.Assets {
		remoteNames[nameKey(rp.AssetName)] = struct{}{}
		lp, ok := localByName[nameKey(rp.AssetName)]
		if !ok {
			out.Added = append(out.Added, Asset{ChunkURLPrefix: remote.ChunkURLPrefix, Property: rp})
			continue
		}
		if hashEqual(lp.AssetHashMd5, rp.AssetHashMd5) {
			continue
		}
		out.Modified = append(out.Modified, ModifiedAsset{
			Local: Asset{ChunkURLPrefix: local.ChunkURLPrefix, Property: lp},
			Remote: Asset{
				ChunkURLPrefix: remote.ChunkURLPrefix,
				Property:       rp,
				DiffChunks:     diffChunks(lp, rp),
			},
		})
	}

	for _, lp := range local.Proto.Assets {
		if _, ok := remoteNames[nameKey(lp.AssetName)]; ok {
			continue
		}
		out.Deleted = append(out.Deleted, Asset{ChunkURLPrefix: local.ChunkURLPrefix, Property: lp})
	}
}

// diffChunks returns the remote chunks whose decompressed MD5 is not present
// anywhere in the local asset. A chunk that merely moved to a different file
// offset is copied from the old file at assembly time, not redownloaded.
func diffChunks(local, remote AssetProperty) []AssetChunk {
	localMd5 := make(map[string]struct{}, len(local.AssetChunks))
	for _, c := range local.AssetChunks {
		localMd5[strings.ToLower(c.ChunkDecompressedHashMd5)] = struct{}{}
	}
	var out []AssetChunk
	for _, c := range remote.AssetChunks {
		if _, ok := localMd5[strings.ToLower(c.ChunkDecompressedHashMd5)]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// DownloadBytes returns the decompressed byte total the diff needs fetched:
// whole added assets plus the diff chunks of modified assets.
func (d DiffResult) DownloadBytes() int64 {
	var n int64
	for _, a := range d.Added {
		n += a.Property.AssetSize
	}
	for _, m := range d.Modified {
		for _, c := range m.Remote.DiffChunks {
			n += c.ChunkSizeDecompressed
		}
	}
	return n
}

// DownloadChunkCount returns how many chunks the diff schedules for
// download.
func (d DiffResult) DownloadChunkCount() int64 {
	var n int64
	for _, a := range d.Added {
		n += int64(len(a.Property.AssetChunks))
	}
	for _, m := range d.Modified {
		n += int64(len(m.Remote.DiffChunks))
	}
	return n
}

// nameKey folds an asset name for case-insensitive comparison. Asset names
// compare as file-system-style paths.
func nameKey(name string) string {
	return strings.ToLower(name)
}

func hashEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
