package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spec-kit/staff-store/internal/config"
	"github.com/spec-kit/staff-store/internal/domain"
	"github.com/spec-kit/staff-store/internal/observability"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

// Codec selects and applies the envelope for a collection.
type Codec struct {
	lower    int
	upper    int
	chunk    int
	logger   *zap.Logger
	metrics  *observability.Metrics
	variants map[Kind]variantDecoder
}

// variantDecoder turns one wire variant back into the serialized collection.
type variantDecoder func(raw json.RawMessage, key *Key) ([]byte, error)

var errKeyRequired = errors.New("key required")

// NewCodec builds a codec from the configured size bands.
func NewCodec(cfg config.EnvelopeConfig, logger *zap.Logger, metrics *observability.Metrics) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Codec{
		lower:   cfg.LowerThresholdBytes,
		upper:   cfg.UpperThresholdBytes,
		chunk:   cfg.ChunkSizeBytes,
		logger:  logger.Named("envelope"),
		metrics: metrics,
	}
	if c.chunk <= 0 {
		c.chunk = 100_000
	}
	c.variants = map[Kind]variantDecoder{
		KindPlain:        decodePlain,
		KindChunked:      decodeChunked,
		KindSealed:       decodeSealed,
		KindLegacyArray:  decodeLegacyArray,
		KindLegacyString: decodeLegacyString,
	}
	return c
}

// Select maps a serialized length to an envelope kind. Each threshold belongs
// to the larger band.
func (c *Codec) Select(size int, keyed bool) Kind {
	switch {
	case !keyed:
		return KindPlain
	case size >= c.upper:
		return KindPlain
	case size >= c.lower:
		return KindChunked
	default:
		return KindSealed
	}
}

// Encode repairs, serializes and wraps the collection. Without a key the
// result is always Plain.
func (c *Codec) Encode(records []domain.StaffRecord, key *Key) (Envelope, error) {
	data, err := json.Marshal(c.repair(records, "encode"))
	if err != nil {
		return nil, fmt.Errorf("serialize records: %w", err)
	}

	kind := c.Select(len(data), key != nil)
	c.metrics.RecordEnvelope(string(kind))

	switch kind {
	case KindChunked:
		c.logger.Info("using chunked encryption", zap.String("size", humanize.Bytes(uint64(len(data)))))
		return c.sealChunks(data, key)
	case KindSealed:
		nonce, ct, err := key.seal(data, nil)
		if err != nil {
			return nil, err
		}
		return &Sealed{Nonce: nonce, Ciphertext: ct}, nil
	default:
		if key != nil {
			c.logger.Info("large payload stored unencrypted", zap.String("size", humanize.Bytes(uint64(len(data)))))
		}
		return &Plain{Data: data, SizeBytes: len(data)}, nil
	}
}

// EncodeJSON is Encode followed by Marshal.
func (c *Codec) EncodeJSON(records []domain.StaffRecord, key *Key) (json.RawMessage, Kind, error) {
	env, err := c.Encode(records, key)
	if err != nil {
		return nil, "", err
	}
	raw, err := Marshal(env)
	if err != nil {
		return nil, "", err
	}
	return raw, env.Kind(), nil
}

// Decode reads any recognized shape. It never panics; unreadable input
// (unknown tag, missing key, bad ciphertext, malformed JSON) yields false.
func (c *Codec) Decode(raw json.RawMessage, key *Key) ([]domain.StaffRecord, bool) {
	records, err := c.DecodeErr(raw, key)
	if err != nil {
		c.logger.Debug("envelope unreadable", zap.Error(err))
		return nil, false
	}
	return records, true
}

// DecodeErr is Decode with the reason for failure.
func (c *Codec) DecodeErr(raw json.RawMessage, key *Key) ([]domain.StaffRecord, error) {
	kind, err := Detect(raw)
	if err != nil {
		return nil, apperrors.NewDecodeFailure("unrecognized envelope", err)
	}
	decode, ok := c.variants[kind]
	if !ok {
		return nil, apperrors.NewDecodeFailure("unsupported envelope", fmt.Errorf("kind %q", kind))
	}
	data, err := decode(raw, key)
	if err != nil {
		return nil, apperrors.NewDecodeFailure(fmt.Sprintf("decode %s envelope", kind), err)
	}
	records, err := parseRecords(data)
	if err != nil {
		return nil, apperrors.NewDecodeFailure("parse records", err)
	}
	return c.repair(records, "decode"), nil
}

// Detect returns the variant tag of a stored value.
func Detect(raw json.RawMessage) (Kind, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", errors.New("empty payload")
	}
	switch trimmed[0] {
	case '[':
		return KindLegacyArray, nil
	case '"':
		return KindLegacyString, nil
	case '{':
	default:
		return "", fmt.Errorf("unexpected leading byte %q", trimmed[0])
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return "", err
	}
	if tag, ok := fields["kind"]; ok {
		var kind Kind
		if err := json.Unmarshal(tag, &kind); err != nil {
			return "", fmt.Errorf("kind tag: %w", err)
		}
		switch kind {
		case KindPlain, KindChunked, KindSealed:
			return kind, nil
		}
		return "", fmt.Errorf("unknown kind %q", kind)
	}
	switch {
	case isTrue(fields["__enc"]):
		return KindSealed, nil
	case isTrue(fields["chunked"]):
		return KindChunked, nil
	case isTrue(fields["unencrypted"]):
		return KindPlain, nil
	}
	return "", errors.New("envelope has no recognized tag")
}

func isTrue(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "true"
}

func (c *Codec) sealChunks(data []byte, key *Key) (*Chunked, error) {
	out := &Chunked{TotalSize: len(data)}
	for i, start := 0, 0; start < len(data); i, start = i+1, start+c.chunk {
		end := start + c.chunk
		if end > len(data) {
			end = len(data)
		}
		packed, err := key.sealPacked(data[start:end], chunkAAD(i))
		if err != nil {
			return nil, fmt.Errorf("seal chunk %d: %w", i, err)
		}
		out.Chunks = append(out.Chunks, packed)
	}
	return out, nil
}

func chunkAAD(index int) []byte {
	var aad [4]byte
	binary.BigEndian.PutUint32(aad[:], uint32(index))
	return aad[:]
}

// Repair returns a copy of records with corrupt embedded images replaced.
func (c *Codec) Repair(records []domain.StaffRecord) []domain.StaffRecord {
	return c.repair(records, "write")
}

func (c *Codec) repair(records []domain.StaffRecord, stage string) []domain.StaffRecord {
	out := domain.CloneRecords(records)
	for i := range out {
		fixed, repaired := out[i].RepairImage()
		if repaired {
			c.logger.Warn("invalid image data replaced with default",
				zap.String("stage", stage),
				zap.String("record_id", fixed.ID),
				zap.String("name", fixed.Name))
			out[i] = fixed
		}
	}
	return out
}

func parseRecords(data []byte) ([]domain.StaffRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("payload is not an array")
	}
	var records []domain.StaffRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func decodePlain(raw json.RawMessage, _ *Key) ([]byte, error) {
	var w plainWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return w.Data, nil
}

func decodeChunked(raw json.RawMessage, key *Key) ([]byte, error) {
	if key == nil {
		return nil, errKeyRequired
	}
	var w chunkedWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Alg != "" && w.Alg != algAESGCM {
		return nil, fmt.Errorf("unsupported alg %q", w.Alg)
	}
	if w.TotalSize < 0 {
		return nil, fmt.Errorf("negative total size %d", w.TotalSize)
	}
	// totalSize is only checked after decryption; it is untrusted input
	var buf []byte
	for i, chunk := range w.Chunks {
		packed, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		plain, err := key.openPacked(packed, chunkAAD(i))
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		buf = append(buf, plain...)
	}
	if w.TotalSize > 0 && len(buf) != w.TotalSize {
		return nil, fmt.Errorf("chunked size %d, want %d", len(buf), w.TotalSize)
	}
	return buf, nil
}

func decodeSealed(raw json.RawMessage, key *Key) ([]byte, error) {
	if key == nil {
		return nil, errKeyRequired
	}
	var w sealedWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Alg != "" && w.Alg != algAESGCM {
		return nil, fmt.Errorf("unsupported alg %q", w.Alg)
	}
	return key.open(w.IV, w.CT, nil)
}

func decodeLegacyArray(raw json.RawMessage, _ *Key) ([]byte, error) {
	return raw, nil
}

func decodeLegacyString(raw json.RawMessage, key *Key) ([]byte, error) {
	if key == nil {
		return nil, errKeyRequired
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	packed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return key.openPacked(packed, nil)
}

// SealLegacyString produces the single-string shape. Only tests and data
// migrations need it; the codec never selects it on encode.
func SealLegacyString(records []domain.StaffRecord, key *Key) (json.RawMessage, error) {
	if key == nil {
		return nil, errKeyRequired
	}
	data, err := json.Marshal(domain.CloneRecords(records))
	if err != nil {
		return nil, err
	}
	packed, err := key.sealPacked(data, nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(packed))
}
