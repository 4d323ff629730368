package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func chunkName(data []byte) string {
	return fmt.Sprintf("%016x_100", xxhash.Sum64(data))
}

func TestPut_And_Open(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "chunks"))
	data := []byte("compressed chunk bytes")
	name := chunkName(data)

	n, err := store.Put(context.Background(), name, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("Expected %d bytes stored, got %d", len(data), n)
	}
	if !store.Exists(name) {
		t.Error("Expected chunk to exist after Put")
	}
	if !store.Matches(context.Background(), name) {
		t.Error("Expected stored chunk to match its name token")
	}

	f, err := store.Open(name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	got, _ := os.ReadFile(store.Path(name))
	if !bytes.Equal(got, data) {
		t.Error("Stored bytes differ from input")
	}
}

func TestPut_ChecksumMismatch_RetainsFile(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "chunks"))
	name := "00000000deadbeef_8"

	_, err := store.Put(context.Background(), name, bytes.NewReader([]byte("wrong bytes")))
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Expected ErrChecksum, got %v", err)
	}
	// The file stays on disk; policy is the caller's.
	if !store.Exists(name) {
		t.Error("Expected mismatching chunk file to be retained")
	}
	if store.Matches(context.Background(), name) {
		t.Error("Expected mismatching chunk to not match")
	}
}

func TestMatches_MissingChunk(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "chunks"))
	if store.Matches(context.Background(), "0000000000000000_1") {
		t.Error("Expected missing chunk to not match")
	}
}

func TestPurgeAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chunks")
	store := New(dir)
	data := []byte("payload")
	if _, err := store.Put(context.Background(), chunkName(data), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.PurgeAll(); err != nil {
		t.Fatalf("PurgeAll failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Expected store directory to be removed")
	}
}

func TestPut_ConcurrentDistinctChunks(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "chunks"))

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		data := []byte(fmt.Sprintf("chunk payload %d", i))
		go func() {
			_, err := store.Put(context.Background(), chunkName(data), bytes.NewReader(data))
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Concurrent Put failed: %v", err)
		}
	}
}
