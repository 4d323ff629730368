package sophon

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Manifest wire schema. The schema is small and fixed, so the fields are
// decoded directly with protowire instead of checked-in generated code.
//
//	ManifestProto:  1 repeated AssetProperty assets
//	AssetProperty:  1 string asset_name
//	                2 int32  asset_type
//	                3 int64  asset_size
//	                4 string asset_hash_md5
//	                5 repeated AssetChunk asset_chunks
//	AssetChunk:     1 string chunk_name
//	                2 int64  chunk_size
//	                3 int64  chunk_size_decompressed
//	                4 int64  chunk_on_file_offset
//	                5 string chunk_decompressed_hash_md5
const (
	fieldManifestAssets = 1

	fieldAssetName   = 1
	fieldAssetType   = 2
	fieldAssetSize   = 3
	fieldAssetMd5    = 4
	fieldAssetChunks = 5

	fieldChunkName       = 1
	fieldChunkSize       = 2
	fieldChunkSizeDec    = 3
	fieldChunkFileOffset = 4
	fieldChunkMd5        = 5
)

var errTruncated = fmt.Errorf("truncated manifest message")

// UnmarshalManifest parses a decompressed manifest blob.
func UnmarshalManifest(data []byte) (*ManifestProto, error) {
	m := &ManifestProto{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse manifest tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldManifestAssets && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errTruncated
			}
			data = data[n:]
			asset, err := unmarshalAsset(raw)
			if err != nil {
				return nil, err
			}
			m.Assets = append(m.Assets, asset)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, errTruncated
		}
		data = data[n:]
	}
	return m, nil
}

func unmarshalAsset(data []byte) (AssetProperty, error) {
	var a AssetProperty
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, fmt.Errorf("failed to parse asset tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldAssetName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, errTruncated
			}
			a.AssetName = string(v)
			data = data[n:]
		case num == fieldAssetType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, errTruncated
			}
			a.AssetType = int32(v)
			data = data[n:]
		case num == fieldAssetSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, errTruncated
			}
			a.AssetSize = int64(v)
			data = data[n:]
		case num == fieldAssetMd5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, errTruncated
			}
			a.AssetHashMd5 = string(v)
			data = data[n:]
		case num == fieldAssetChunks && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return a, errTruncated
			}
			data = data[n:]
			c, err := unmarshalChunk(v)
			if err != nil {
				return a, err
			}
			a.AssetChunks = append(a.AssetChunks, c)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return a, errTruncated
			}
			data = data[n:]
		}
	}
	return a, nil
}

func unmarshalChunk(data []byte) (AssetChunk, error) {
	var c AssetChunk
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, fmt.Errorf("failed to parse chunk tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldChunkName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, errTruncated
			}
			c.ChunkName = string(v)
			data = data[n:]
		case num == fieldChunkSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, errTruncated
			}
			c.ChunkSize = int64(v)
			data = data[n:]
		case num == fieldChunkSizeDec && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, errTruncated
			}
			c.ChunkSizeDecompressed = int64(v)
			data = data[n:]
		case num == fieldChunkFileOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, errTruncated
			}
			c.ChunkOnFileOffset = int64(v)
			data = data[n:]
		case num == fieldChunkMd5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, errTruncated
			}
			c.ChunkDecompressedHashMd5 = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return c, errTruncated
			}
			data = data[n:]
		}
	}
	return c, nil
}

// MarshalManifest encodes a manifest back to protobuf wire format. The
// engine only decodes; this is the counterpart used by tooling and tests.
func MarshalManifest(m *ManifestProto) []byte {
	var out []byte
	for _, a := range m.Assets {
		out = protowire.AppendTag(out, fieldManifestAssets, protowire.BytesType)
		out = protowire.AppendBytes(out, marshalAsset(a))
	}
	return out
}

func marshalAsset(a AssetProperty) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldAssetName, protowire.BytesType)
	out = protowire.AppendString(out, a.AssetName)
	out = protowire.AppendTag(out, fieldAssetType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(a.AssetType))
	out = protowire.AppendTag(out, fieldAssetSize, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(a.AssetSize))
	out = protowire.AppendTag(out, fieldAssetMd5, protowire.BytesType)
	out = protowire.AppendString(out, a.AssetHashMd5)
	for _, c := range a.AssetChunks {
		out = protowire.AppendTag(out, fieldAssetChunks, protowire.BytesType)
		out = protowire.AppendBytes(out, marshalChunk(c))
	}
	return out
}

func marshalChunk(c AssetChunk) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldChunkName, protowire.BytesType)
	out = protowire.AppendString(out, c.ChunkName)
	out = protowire.AppendTag(out, fieldChunkSize, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.ChunkSize))
	out = protowire.AppendTag(out, fieldChunkSizeDec, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.ChunkSizeDecompressed))
	out = protowire.AppendTag(out, fieldChunkFileOffset, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(c.ChunkOnFileOffset))
	out = protowire.AppendTag(out, fieldChunkMd5, protowire.BytesType)
	out = protowire.AppendString(out, c.ChunkDecompressedHashMd5)
	return out
}
