package sophon

import "strings"

// MatchingField values a manifest can be tagged with. FieldGame is always
// installed; the audio fields are opt-in per language.
const (
	FieldGame = "game"
	FieldZhCN = "zh-cn"
	FieldEnUS = "en-us"
	FieldJaJP = "ja-jp"
	FieldKoKR = "ko-kr"
)

// AssetTypeDirectory marks an asset that is materialized as an empty
// directory instead of a regular file.
const AssetTypeDirectory = 64

// AudioLanguages selects which language-tagged manifests to install.
type AudioLanguages struct {
	ZhCN bool
	EnUS bool
	JaJP bool
	KoKR bool
}

// Accepts reports whether a manifest with the given MatchingField is part of
// the selection. Unknown tags are excluded.
func (l AudioLanguages) Accepts(field string) bool {
	switch field {
	case FieldGame:
		return true
	case FieldZhCN:
		return l.ZhCN
	case FieldEnUS:
		return l.EnUS
	case FieldJaJP:
		return l.JaJP
	case FieldKoKR:
		return l.KoKR
	default:
		return false
	}
}

// ManifestStub is one entry of a build descriptor as produced by the branch
// endpoint: where to fetch the manifest blob and its chunks, plus the
// checksum of the decompressed blob.
type ManifestStub struct {
	ID                string `json:"id"`
	Checksum          string `json:"checksum"`
	MatchingField     string `json:"matching_field"`
	ManifestURLPrefix string `json:"manifest_url_prefix"`
	ChunkURLPrefix    string `json:"chunk_url_prefix"`
	UncompressedSize  int64  `json:"uncompressed_size"`
}

// Build describes one installable game version as a set of manifest stubs.
type Build struct {
	Tag       string         `json:"tag"`
	Manifests []ManifestStub `json:"manifests"`
}

// AssetChunk is a contiguous byte range of an asset, stored zstd-compressed
// on the wire. ChunkName's leading token before '_' is the XXH64 hex digest
// of the compressed blob.
type AssetChunk struct {
	ChunkName                string
	ChunkSize                int64
	ChunkSizeDecompressed    int64
	ChunkOnFileOffset        int64
	ChunkDecompressedHashMd5 string
}

// XXH64Token returns the chunk's compressed-blob digest embedded in its
// name, lowercased.
func (c AssetChunk) XXH64Token() string {
	name := c.ChunkName
	if i := strings.IndexByte(name, '_'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// AssetProperty describes one file or directory of the game tree.
type AssetProperty struct {
	AssetName    string
	AssetType    int32
	AssetSize    int64
	AssetHashMd5 string
	AssetChunks  []AssetChunk
}

// IsDirectory reports whether the asset is a directory entry.
func (a AssetProperty) IsDirectory() bool {
	return a.AssetType == AssetTypeDirectory
}

// ManifestProto is the decoded manifest payload: an ordered asset list.
type ManifestProto struct {
	Assets []AssetProperty
}

// DecodedManifest pairs a parsed manifest with the URL prefix its chunks
// download from and the MatchingField it was selected by.
type DecodedManifest struct {
	MatchingField  string
	ChunkURLPrefix string
	Proto          *ManifestProto
}

// DecodedBuild is a fully decoded build descriptor.
type DecodedBuild struct {
	Tag        string
	TotalBytes int64
	Manifests  []DecodedManifest
}

// Asset pairs an asset with its chunk download prefix. For modified assets
// DiffChunks holds the remote chunks whose decompressed content is new to
// this build; chunks absent from DiffChunks are copied from the old file.
type Asset struct {
	ChunkURLPrefix string
	Property       AssetProperty
	DiffChunks     []AssetChunk
}

// Assets flattens every asset of every decoded manifest, in manifest order.
func (b *DecodedBuild) Assets() []Asset {
	var out []Asset
	for _, m := range b.Manifests {
		for _, p := range m.Proto.Assets {
			out = append(out, Asset{ChunkURLPrefix: m.ChunkURLPrefix, Property: p})
		}
	}
	return out
}

// ChunkCount returns the number of chunks across all assets of the build.
func (b *DecodedBuild) ChunkCount() int64 {
	var n int64
	for _, m := range b.Manifests {
		for _, p := range m.Proto.Assets {
			n += int64(len(p.AssetChunks))
		}
	}
	return n
}
