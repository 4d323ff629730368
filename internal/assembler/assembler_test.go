package assembler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/sophon-labs/sophon/internal/chunkstore"
	"github.com/sophon-labs/sophon/internal/hashing"
	"github.com/sophon-labs/sophon/internal/sophon"
)

// makeChunks compresses each piece, stores it when store is non-nil, and
// returns chunk descriptors laid out back to back.
func makeChunks(t *testing.T, store *chunkstore.Store, pieces ...[]byte) []sophon.AssetChunk {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	defer enc.Close()

	var chunks []sophon.AssetChunk
	var offset int64
	for _, piece := range pieces {
		comp := enc.EncodeAll(piece, nil)
		name := fmt.Sprintf("%016x_%d", xxhash.Sum64(comp), len(piece))
		if store != nil {
			if _, err := store.Put(context.Background(), name, bytes.NewReader(comp)); err != nil {
				t.Fatalf("Failed to store chunk: %v", err)
			}
		}
		chunks = append(chunks, sophon.AssetChunk{
			ChunkName:                name,
			ChunkSize:                int64(len(comp)),
			ChunkSizeDecompressed:    int64(len(piece)),
			ChunkOnFileOffset:        offset,
			ChunkDecompressedHashMd5: hashing.MD5Bytes(piece),
		})
		offset += int64(len(piece))
	}
	return chunks
}

func assetFor(name string, chunks []sophon.AssetChunk, content []byte) sophon.Asset {
	return sophon.Asset{Property: sophon.AssetProperty{
		AssetName:    name,
		AssetSize:    int64(len(content)),
		AssetHashMd5: hashing.MD5Bytes(content),
		AssetChunks:  chunks,
	}}
}

func TestMergeAsset(t *testing.T) {
	tmpDir := t.TempDir()
	store := chunkstore.New(filepath.Join(tmpDir, "chunks"))
	gameDir := filepath.Join(tmpDir, "game")

	p1 := bytes.Repeat([]byte{0xAB}, 100*1024)
	p2 := []byte("tail piece")
	content := append(append([]byte{}, p1...), p2...)
	chunks := makeChunks(t, store, p1, p2)
	asset := assetFor("data/pack0.bin", chunks, content)

	asm := New(store, nil, nil)
	if err := asm.MergeAsset(context.Background(), gameDir, asset, nil); err != nil {
		t.Fatalf("MergeAsset failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(gameDir, "data", "pack0.bin"))
	if err != nil {
		t.Fatalf("Failed to read assembled file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Assembled file differs from expected content")
	}
	if hashing.MD5Bytes(got) != asset.Property.AssetHashMd5 {
		t.Error("Assembled file hash mismatch")
	}
}

func TestMergeAsset_Directory(t *testing.T) {
	tmpDir := t.TempDir()
	gameDir := filepath.Join(tmpDir, "game")
	asm := New(chunkstore.New(filepath.Join(tmpDir, "chunks")), nil, nil)

	asset := sophon.Asset{Property: sophon.AssetProperty{
		AssetName: "videos/cutscenes",
		AssetType: sophon.AssetTypeDirectory,
	}}
	if err := asm.MergeAsset(context.Background(), gameDir, asset, nil); err != nil {
		t.Fatalf("MergeAsset failed: %v", err)
	}

	fi, err := os.Stat(filepath.Join(gameDir, "videos", "cutscenes"))
	if err != nil || !fi.IsDir() {
		t.Errorf("Expected directory asset to exist, err=%v", err)
	}
}

func TestMergeDiffAsset_MovedChunksCopyFromOldFile(t *testing.T) {
	tmpDir := t.TempDir()
	gameDir := filepath.Join(tmpDir, "game")
	// Empty store: nothing may be fetched for reordered content.
	store := chunkstore.New(filepath.Join(tmpDir, "chunks"))

	p1 := bytes.Repeat([]byte{1}, 90*1024)
	p2 := bytes.Repeat([]byte{2}, 16)
	oldContent := append(append([]byte{}, p1...), p2...)
	oldChunks := makeChunks(t, nil, p1, p2)
	oldAsset := assetFor("a.bin", oldChunks, oldContent)

	if err := os.MkdirAll(gameDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, "a.bin"), oldContent, 0644); err != nil {
		t.Fatal(err)
	}

	// Same pieces, swapped offsets.
	newContent := append(append([]byte{}, p2...), p1...)
	newChunks := makeChunks(t, nil, p2, p1)
	newAsset := assetFor("a.bin", newChunks, newContent)

	asm := New(store, nil, nil)
	if err := asm.MergeDiffAsset(context.Background(), gameDir, oldAsset, newAsset, nil); err != nil {
		t.Fatalf("MergeDiffAsset failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(gameDir, "a.bin"))
	if err != nil {
		t.Fatalf("Failed to read merged file: %v", err)
	}
	if !bytes.Equal(got, newContent) {
		t.Error("Merged file differs from expected reordered content")
	}
}

func TestMergeDiffAsset_NewChunkFromStore(t *testing.T) {
	tmpDir := t.TempDir()
	gameDir := filepath.Join(tmpDir, "game")
	store := chunkstore.New(filepath.Join(tmpDir, "chunks"))

	p1 := bytes.Repeat([]byte{7}, 4096)
	p2 := []byte("old tail")
	oldContent := append(append([]byte{}, p1...), p2...)
	oldAsset := assetFor("b.bin", makeChunks(t, nil, p1, p2), oldContent)

	if err := os.MkdirAll(gameDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, "b.bin"), oldContent, 0644); err != nil {
		t.Fatal(err)
	}

	p3 := []byte("new tail!")
	newContent := append(append([]byte{}, p1...), p3...)
	newChunks := makeChunks(t, store, p1, p3)
	newAsset := assetFor("b.bin", newChunks, newContent)
	newAsset.DiffChunks = newChunks[1:]

	asm := New(store, nil, nil)
	if err := asm.MergeDiffAsset(context.Background(), gameDir, oldAsset, newAsset, nil); err != nil {
		t.Fatalf("MergeDiffAsset failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(gameDir, "b.bin"))
	if err != nil {
		t.Fatalf("Failed to read merged file: %v", err)
	}
	if !bytes.Equal(got, newContent) {
		t.Error("Merged file differs from expected updated content")
	}
}
