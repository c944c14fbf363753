package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/observability"
)

func testKey(t *testing.T, seed string) *Key {
	t.Helper()
	sum := sha256.Sum256([]byte(seed))
	key, err := NewKey(sum[:])
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return key
}

func sampleRecords(n int) []domain.StaffRecord {
	years := 12
	created := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	out := make([]domain.StaffRecord, n)
	for i := range out {
		out[i] = domain.StaffRecord{
			ID:              "rec-" + string(rune('a'+i%26)),
			Name:            "Dr. Jordan Ashby",
			Title:           "Family Physician",
			Category:        domain.CategoryMedical,
			Specialty:       "Family Medicine, Urgent Care",
			Credentials:     "MD, FAAFP",
			Bio:             strings.Repeat("Board certified clinician. ", 20),
			Image:           "assets/images/dr-ashby.jpg",
			YearsExperience: &years,
			CreatedAt:       created,
			UpdatedAt:       created.Add(time.Hour),
		}
	}
	return out
}

func sameRecords(t *testing.T, got, want []domain.StaffRecord) {
	t.Helper()
	g, _ := json.Marshal(got)
	w, _ := json.Marshal(want)
	if !bytes.Equal(g, w) {
		t.Fatalf("records differ\n got: %s\nwant: %s", g, w)
	}
}

func serializedLen(t *testing.T, records []domain.StaffRecord) int {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return len(data)
}

func TestSelectBands(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 100, UpperThresholdBytes: 500, ChunkSizeBytes: 40}, zap.NewNop(), nil)

	cases := []struct {
		size  int
		keyed bool
		want  Kind
	}{
		{0, true, KindSealed},
		{99, true, KindSealed},
		{100, true, KindChunked},
		{499, true, KindChunked},
		{500, true, KindPlain},
		{10_000, true, KindPlain},
		{10, false, KindPlain},
		{200, false, KindPlain},
	}
	for _, tc := range cases {
		if got := c.Select(tc.size, tc.keyed); got != tc.want {
			t.Errorf("Select(%d, %v) = %s, want %s", tc.size, tc.keyed, got, tc.want)
		}
	}
}

func TestRoundTripPerBand(t *testing.T) {
	key := testKey(t, "ashby|2025-01-15T09:30:00.000Z|salt")
	records := sampleRecords(3)
	n := serializedLen(t, records)

	cases := []struct {
		name  string
		cfg   config.EnvelopeConfig
		want  Kind
		multi bool
	}{
		{"sealed", config.EnvelopeConfig{LowerThresholdBytes: n + 1, UpperThresholdBytes: n + 2, ChunkSizeBytes: 64}, KindSealed, false},
		{"chunked", config.EnvelopeConfig{LowerThresholdBytes: n, UpperThresholdBytes: n + 1, ChunkSizeBytes: 64}, KindChunked, true},
		{"plain", config.EnvelopeConfig{LowerThresholdBytes: n - 1, UpperThresholdBytes: n, ChunkSizeBytes: 64}, KindPlain, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := observability.NewMetrics()
			c := NewCodec(tc.cfg, zap.NewNop(), metrics)
			raw, kind, err := c.EncodeJSON(records, key)
			if err != nil {
				t.Fatalf("EncodeJSON: %v", err)
			}
			if kind != tc.want {
				t.Fatalf("kind = %s, want %s", kind, tc.want)
			}
			if tc.multi {
				env, _ := c.Encode(records, key)
				if chunks := len(env.(*Chunked).Chunks); chunks != (n+63)/64 {
					t.Errorf("chunks = %d, want %d", chunks, (n+63)/64)
				}
			}
			got, ok := c.Decode(raw, key)
			if !ok {
				t.Fatal("Decode reported unreadable")
			}
			sameRecords(t, got, records)
			if metrics.Snapshot().EnvelopeKinds[string(tc.want)] == 0 {
				t.Errorf("envelope metric not recorded for %s", tc.want)
			}
		})
	}
}

func TestSmallCollectionChoosesSealedWithDefaults(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20, ChunkSizeBytes: 100_000}, zap.NewNop(), nil)
	records := sampleRecords(3)
	if n := serializedLen(t, records); n < 1000 || n > 4000 {
		t.Fatalf("sample size %d not in the ~2KB range", n)
	}
	env, err := c.Encode(records, testKey(t, "k"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if env.Kind() != KindSealed {
		t.Fatalf("kind = %s, want sealed", env.Kind())
	}
}

func TestNoKeyAlwaysPlain(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 10, UpperThresholdBytes: 20, ChunkSizeBytes: 5}, zap.NewNop(), nil)
	records := sampleRecords(2)
	raw, kind, err := c.EncodeJSON(records, nil)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if kind != KindPlain {
		t.Fatalf("kind = %s, want plain", kind)
	}
	if !bytes.Contains(raw, []byte(`"unencrypted":true`)) {
		t.Errorf("plain wire lacks compat marker: %s", raw)
	}
	got, ok := c.Decode(raw, nil)
	if !ok {
		t.Fatal("plain should decode without a key")
	}
	sameRecords(t, got, records)
}

func TestDecodeLegacyShapes(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	key := testKey(t, "legacy")
	records := sampleRecords(2)

	bare, _ := json.Marshal(records)
	got, ok := c.Decode(append([]byte("  \n"), bare...), nil)
	if !ok {
		t.Fatal("bare array should decode without a key")
	}
	sameRecords(t, got, records)

	str, err := SealLegacyString(records, key)
	if err != nil {
		t.Fatalf("SealLegacyString: %v", err)
	}
	if _, ok := c.Decode(str, nil); ok {
		t.Error("opaque string must not decode without a key")
	}
	got, ok = c.Decode(str, key)
	if !ok {
		t.Fatal("opaque string should decode with the key")
	}
	sameRecords(t, got, records)
}

func TestDecodeMarkerOnlyEnvelopes(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	key := testKey(t, "markers")
	records := sampleRecords(1)

	env, err := c.Encode(records, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sealed := env.(*Sealed)
	raw, _ := json.Marshal(map[string]any{
		"__enc": true,
		"alg":   "AES-GCM",
		"iv":    byteArray(sealed.Nonce),
		"ct":    byteArray(sealed.Ciphertext),
		"v":     1,
	})
	got, ok := c.Decode(raw, key)
	if !ok {
		t.Fatalf("__enc envelope unreadable: %s", raw)
	}
	sameRecords(t, got, records)

	data, _ := json.Marshal(records)
	plain, _ := json.Marshal(map[string]any{"unencrypted": true, "data": json.RawMessage(data), "sizeBytes": len(data)})
	if got, ok = c.Decode(plain, nil); !ok {
		t.Fatalf("unencrypted envelope unreadable: %s", plain)
	}
	sameRecords(t, got, records)
}

func TestDecodeUnreadable(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	key := testKey(t, "right")
	raw, _, err := c.EncodeJSON(sampleRecords(2), key)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}

	cases := map[string]struct {
		raw string
		key *Key
	}{
		"empty":           {"", key},
		"null":            {"null", key},
		"number":          {"42", key},
		"unknown kind":    {`{"kind":"rot13","data":[]}`, key},
		"no tag":          {`{"data":[]}`, key},
		"truncated":       {`{"kind":"sealed","iv":[1,2`, key},
		"wrong key":       {string(raw), testKey(t, "wrong")},
		"missing key":     {string(raw), nil},
		"plain null data": {`{"kind":"plain","data":null}`, nil},
		"plain object":    {`{"kind":"plain","data":{"id":"1"}}`, nil},
		"bad string":      {`"not-base64!!"`, key},
		"negative size":   {`{"kind":"chunked","chunked":true,"alg":"AES-GCM","chunks":[],"totalSize":-1}`, key},
		"oversized size":  {`{"kind":"chunked","chunked":true,"alg":"AES-GCM","chunks":[],"totalSize":4611686018427387904}`, key},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := c.Decode(json.RawMessage(tc.raw), tc.key); ok {
				t.Errorf("Decode(%q) = ok, want unreadable", tc.raw)
			}
		})
	}
}

func TestChunkOrderIsBound(t *testing.T) {
	records := sampleRecords(3)
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1, UpperThresholdBytes: 1 << 20, ChunkSizeBytes: 128}, zap.NewNop(), nil)
	key := testKey(t, "chunks")
	env, err := c.Encode(records, key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	chunked := env.(*Chunked)
	if len(chunked.Chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunked.Chunks))
	}
	chunked.Chunks[0], chunked.Chunks[1] = chunked.Chunks[1], chunked.Chunks[0]
	raw, err := Marshal(chunked)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, ok := c.Decode(raw, key); ok {
		t.Error("swapped chunks must not decode")
	}
}

func TestImageRepairOnEncodeAndDecode(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	key := testKey(t, "images")
	records := sampleRecords(2)
	records[1].Image = "data:image/png;base64,%%%"

	raw, _, err := c.EncodeJSON(records, key)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if records[1].Image != "data:image/png;base64,%%%" {
		t.Fatal("Encode mutated the caller's records")
	}
	got, ok := c.Decode(raw, key)
	if !ok {
		t.Fatal("Decode failed")
	}
	if got[1].Image != domain.DefaultImage || got[0].Image != records[0].Image {
		t.Errorf("images = %q, %q", got[0].Image, got[1].Image)
	}

	bare, _ := json.Marshal(records)
	got, ok = c.Decode(bare, nil)
	if !ok || got[1].Image != domain.DefaultImage {
		t.Errorf("legacy array image not repaired: %+v", got)
	}
}

func TestSealedWireUsesByteArrays(t *testing.T) {
	c := NewCodec(config.EnvelopeConfig{LowerThresholdBytes: 1 << 20, UpperThresholdBytes: 5 << 20}, zap.NewNop(), nil)
	raw, _, err := c.EncodeJSON(sampleRecords(1), testKey(t, "wire"))
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	var w struct {
		Kind string `json:"kind"`
		Enc  bool   `json:"__enc"`
		IV   []int  `json:"iv"`
		V    int    `json:"v"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Kind != "sealed" || !w.Enc || len(w.IV) != 12 || w.V != 1 {
		t.Errorf("unexpected sealed wire: %s", raw)
	}
}
