package zstdio

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDecodeAll_Roundtrip(t *testing.T) {
	data := make([]byte, 300*1024)
	for i := range data {
		data[i] = byte(i / 1024)
	}

	out, err := DecodeAll(compress(t, data))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("Decompressed bytes differ from original")
	}
}

func TestDecodeAll_Garbage(t *testing.T) {
	if _, err := DecodeAll([]byte("definitely not zstd")); err == nil {
		t.Fatal("Expected error decoding garbage")
	}
}

func TestDecompressStream(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i % 7)
	}

	var out bytes.Buffer
	n, err := DecompressStream(context.Background(), &out, bytes.NewReader(compress(t, data)), nil)
	if err != nil {
		t.Fatalf("DecompressStream failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("Expected %d bytes written, got %d", len(data), n)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("Streamed bytes differ from original")
	}
}

func TestDecompressStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if _, err := DecompressStream(ctx, &out, bytes.NewReader(compress(t, []byte("x"))), nil); err == nil {
		t.Fatal("Expected error from cancelled context")
	}
}
