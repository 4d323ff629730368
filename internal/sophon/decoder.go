package sophon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sophon-labs/sophon/internal/hashing"
	"github.com/sophon-labs/sophon/internal/httpx"
	"github.com/sophon-labs/sophon/internal/observability"
	"github.com/sophon-labs/sophon/internal/zstdio"
)

// ErrManifestChecksum reports a manifest blob whose MD5 does not match the
// checksum embedded in its stub. This aborts the operation rather than
// silently dropping the manifest, which would complete an install with
// missing assets.
var ErrManifestChecksum = errors.New("manifest checksum mismatch")

// Decoder downloads, decompresses, verifies and parses build manifests.
type Decoder struct {
	client  *http.Client
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewDecoder creates a manifest decoder. log and metrics may be nil.
func NewDecoder(client *http.Client, log *observability.Logger, metrics *observability.Metrics) *Decoder {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Decoder{client: client, log: log, metrics: metrics}
}

// DecodeBuild decodes every manifest of build accepted by the language
// selection, serially, and sums the uncompressed size of accepted stubs.
func (d *Decoder) DecodeBuild(ctx context.Context, build *Build, langs AudioLanguages) (*DecodedBuild, error) {
	out := &DecodedBuild{Tag: build.Tag}
	for _, stub := range build.Manifests {
		if !langs.Accepts(stub.MatchingField) {
			d.log.ManifestSkipped(stub.MatchingField)
			continue
		}
		dm, err := d.decodeManifest(ctx, stub)
		if err != nil {
			if d.metrics != nil {
				d.metrics.ManifestsDecodedTotal.WithLabelValues("error").Inc()
			}
			return nil, err
		}
		if d.metrics != nil {
			d.metrics.ManifestsDecodedTotal.WithLabelValues("ok").Inc()
		}
		d.log.ManifestDecoded(stub.MatchingField, len(dm.Proto.Assets), stub.UncompressedSize)
		out.TotalBytes += stub.UncompressedSize
		out.Manifests = append(out.Manifests, dm)
	}
	return out, nil
}

func (d *Decoder) decodeManifest(ctx context.Context, stub ManifestStub) (DecodedManifest, error) {
	url := fmt.Sprintf("%s/%s", stub.ManifestURLPrefix, stub.ID)
	body, _, err := httpx.Get(ctx, d.client, url)
	if err != nil {
		return DecodedManifest{}, fmt.Errorf("failed to fetch manifest %s: %w", stub.ID, err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := zstdio.DecompressStream(ctx, &buf, body, nil); err != nil {
		return DecodedManifest{}, fmt.Errorf("failed to decompress manifest %s: %w", stub.ID, err)
	}

	sum := hashing.MD5Bytes(buf.Bytes())
	if !hashing.Equal(sum, stub.Checksum) {
		return DecodedManifest{}, fmt.Errorf("%w: manifest %s has %s, expected %s",
			ErrManifestChecksum, stub.ID, sum, stub.Checksum)
	}

	proto, err := UnmarshalManifest(buf.Bytes())
	if err != nil {
		return DecodedManifest{}, fmt.Errorf("failed to parse manifest %s: %w", stub.ID, err)
	}
	return DecodedManifest{
		MatchingField:  stub.MatchingField,
		ChunkURLPrefix: stub.ChunkURLPrefix,
		Proto:          proto,
	}, nil
}
