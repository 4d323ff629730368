package hashing

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// copyBufferSize bounds memory per in-flight hash computation.
const copyBufferSize = 1 << 20

// MD5 computes the MD5 digest of everything readable from r and returns it
// as lowercase hex. The context is checked between reads so long streams
// stay cancellable.
func MD5(ctx context.Context, r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read stream: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5Bytes computes the MD5 digest of b as lowercase hex.
func MD5Bytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// XXH64 computes the XXH64 digest of everything readable from r and returns
// it as 16 lowercase hex digits.
func XXH64(ctx context.Context, r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read stream: %w", err)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// XXH64File computes the XXH64 digest of the file at path.
func XXH64File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return XXH64(ctx, f)
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
