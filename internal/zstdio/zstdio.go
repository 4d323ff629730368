package zstdio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Decoders are expensive to construct, so a shared pool of single-goroutine
// decoders is reused across calls.
var decoderPool = sync.Pool{
	New: func() any {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		return d
	},
}

// DecodeAll decompresses src entirely in memory.
func DecodeAll(src []byte) ([]byte, error) {
	d := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(d)

	out, err := d.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

// DecompressStream decompresses src into dst, copying through buf. A nil buf
// allocates a transient one. The context is checked between copies.
func DecompressStream(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	d := decoderPool.Get().(*zstd.Decoder)
	defer func() {
		// Drop the source reference before pooling.
		_ = d.Reset(nil)
		decoderPool.Put(d)
	}()

	if err := d.Reset(src); err != nil {
		return 0, fmt.Errorf("failed to reset decoder: %w", err)
	}
	if buf == nil {
		buf = make([]byte, 80*1024)
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := d.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, fmt.Errorf("failed to write decompressed bytes: %w", werr)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("failed to decompress stream: %w", err)
		}
	}
}
