package hashing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func TestMD5_KnownVector(t *testing.T) {
	got, err := MD5(context.Background(), bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatalf("MD5 failed: %v", err)
	}
	want := "900150983cd24fb0d6963f7d28e17f72"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if MD5Bytes([]byte("abc")) != want {
		t.Errorf("MD5Bytes disagrees with MD5")
	}
}

func TestXXH64_MatchesDigest(t *testing.T) {
	data := make([]byte, 3*1024*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	got, err := XXH64(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("XXH64 failed: %v", err)
	}
	want := fmt.Sprintf("%016x", xxhash.Sum64(data))
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if len(got) != 16 {
		t.Errorf("Expected 16 hex digits, got %d", len(got))
	}
}

func TestXXH64File(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "blob.bin")
	data := []byte("sophon chunk payload")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	got, err := XXH64File(context.Background(), path)
	if err != nil {
		t.Fatalf("XXH64File failed: %v", err)
	}
	want := fmt.Sprintf("%016x", xxhash.Sum64(data))
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestMD5_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MD5(ctx, bytes.NewReader(make([]byte, 16)))
	if err == nil {
		t.Fatal("Expected error from cancelled context")
	}
}

func TestEqual_CaseInsensitive(t *testing.T) {
	if !Equal("ABCDEF00", "abcdef00") {
		t.Error("Expected case-insensitive digests to compare equal")
	}
	if Equal("abcdef00", "abcdef01") {
		t.Error("Expected different digests to compare unequal")
	}
}
