package sophon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/sophon-labs/sophon/internal/hashing"
)

func serveManifest(t *testing.T, blobs map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, ok := blobs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(blob)
	}))
}

func compressManifest(t *testing.T, m *ManifestProto) (blob []byte, checksum string) {
	t.Helper()
	raw := MarshalManifest(m)
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("Failed to create encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), hashing.MD5Bytes(raw)
}

func TestDecodeBuild(t *testing.T) {
	game := &ManifestProto{Assets: []AssetProperty{fileAsset("a.bin", "aa", chunk("c1_1", "m1", 0, 10))}}
	audio := &ManifestProto{Assets: []AssetProperty{fileAsset("audio/en.pck", "ee", chunk("c2_1", "m2", 0, 10))}}

	gameBlob, gameSum := compressManifest(t, game)
	audioBlob, audioSum := compressManifest(t, audio)
	srv := serveManifest(t, map[string][]byte{
		"/manifests/game-id":  gameBlob,
		"/manifests/audio-id": audioBlob,
	})
	defer srv.Close()

	build := &Build{
		Tag: "1.2.0",
		Manifests: []ManifestStub{
			{ID: "game-id", Checksum: gameSum, MatchingField: FieldGame,
				ManifestURLPrefix: srv.URL + "/manifests", ChunkURLPrefix: srv.URL + "/chunks", UncompressedSize: 100},
			{ID: "audio-id", Checksum: audioSum, MatchingField: FieldEnUS,
				ManifestURLPrefix: srv.URL + "/manifests", ChunkURLPrefix: srv.URL + "/chunks", UncompressedSize: 40},
			{ID: "missing-id", Checksum: "00", MatchingField: FieldKoKR,
				ManifestURLPrefix: srv.URL + "/manifests", ChunkURLPrefix: srv.URL + "/chunks", UncompressedSize: 40},
		},
	}

	dec := NewDecoder(srv.Client(), nil, nil)

	// Korean deselected: its stub is never fetched, and its size is not
	// counted.
	decoded, err := dec.DecodeBuild(context.Background(), build, AudioLanguages{EnUS: true})
	if err != nil {
		t.Fatalf("DecodeBuild failed: %v", err)
	}
	if len(decoded.Manifests) != 2 {
		t.Fatalf("Expected 2 decoded manifests, got %d", len(decoded.Manifests))
	}
	if decoded.TotalBytes != 140 {
		t.Errorf("Expected 140 total bytes, got %d", decoded.TotalBytes)
	}
	if decoded.Manifests[0].MatchingField != FieldGame {
		t.Errorf("Expected game manifest first, got %s", decoded.Manifests[0].MatchingField)
	}
	if decoded.Manifests[1].Proto.Assets[0].AssetName != "audio/en.pck" {
		t.Errorf("Unexpected audio asset: %+v", decoded.Manifests[1].Proto.Assets)
	}
	if decoded.Tag != "1.2.0" {
		t.Errorf("Expected tag carried through, got %s", decoded.Tag)
	}
}

func TestDecodeBuild_ChecksumMismatch(t *testing.T) {
	game := &ManifestProto{Assets: []AssetProperty{fileAsset("a.bin", "aa", chunk("c1_1", "m1", 0, 10))}}
	blob, _ := compressManifest(t, game)
	srv := serveManifest(t, map[string][]byte{"/manifests/game-id": blob})
	defer srv.Close()

	build := &Build{Manifests: []ManifestStub{
		{ID: "game-id", Checksum: "ffffffffffffffffffffffffffffffff", MatchingField: FieldGame,
			ManifestURLPrefix: srv.URL + "/manifests", ChunkURLPrefix: srv.URL + "/chunks"},
	}}

	dec := NewDecoder(srv.Client(), nil, nil)
	_, err := dec.DecodeBuild(context.Background(), build, AudioLanguages{})
	if !errors.Is(err, ErrManifestChecksum) {
		t.Fatalf("Expected ErrManifestChecksum, got %v", err)
	}
}

func TestDecodeBuild_FetchFailure(t *testing.T) {
	srv := serveManifest(t, nil)
	defer srv.Close()

	build := &Build{Manifests: []ManifestStub{
		{ID: "nope", Checksum: "00", MatchingField: FieldGame,
			ManifestURLPrefix: srv.URL + "/manifests", ChunkURLPrefix: srv.URL + "/chunks"},
	}}

	dec := NewDecoder(srv.Client(), nil, nil)
	if _, err := dec.DecodeBuild(context.Background(), build, AudioLanguages{}); err == nil {
		t.Fatal("Expected error for missing manifest blob")
	}
}

func TestAudioLanguages_UnknownTagExcluded(t *testing.T) {
	langs := AudioLanguages{ZhCN: true, EnUS: true, JaJP: true, KoKR: true}
	if langs.Accepts("fr-fr") {
		t.Error("Expected unknown tag to be excluded")
	}
	if !langs.Accepts(FieldGame) {
		t.Error("Expected game manifest to always be accepted")
	}
}
