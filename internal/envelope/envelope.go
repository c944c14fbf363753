// Package envelope encodes the staff collection into size-adaptive wire
// shapes and decodes every shape the store has ever written.
//
// Three variants are produced: Plain (no cipher), Chunked (fixed-size windows,
// each sealed independently) and Sealed (one AES-GCM ciphertext). Two legacy
// shapes are accepted on decode only: a bare JSON array and a single base64
// string holding nonce||ciphertext.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind tags an envelope variant.
type Kind string

const (
	KindPlain        Kind = "plain"
	KindChunked      Kind = "chunked"
	KindSealed       Kind = "sealed"
	KindLegacyArray  Kind = "legacy-array"
	KindLegacyString Kind = "legacy-string"
)

const algAESGCM = "AES-GCM"

// Envelope is exactly one of *Plain, *Chunked or *Sealed.
type Envelope interface {
	Kind() Kind
	wire() any
}

// Plain stores the serialized collection untouched.
type Plain struct {
	Data      json.RawMessage
	SizeBytes int
}

// Chunked stores the serialized collection as independently sealed windows.
// Each chunk is nonce||ciphertext with the chunk index bound as associated data.
type Chunked struct {
	Chunks    [][]byte
	TotalSize int
}

// Sealed stores the serialized collection as one ciphertext.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

func (*Plain) Kind() Kind   { return KindPlain }
func (*Chunked) Kind() Kind { return KindChunked }
func (*Sealed) Kind() Kind  { return KindSealed }

// The wire structs keep the marker fields older writers used (unencrypted,
// chunked, __enc) next to the kind tag so either generation can read them.

type plainWire struct {
	Kind        Kind            `json:"kind"`
	Unencrypted bool            `json:"unencrypted"`
	Data        json.RawMessage `json:"data"`
	SizeBytes   int             `json:"sizeBytes"`
}

type chunkedWire struct {
	Kind      Kind     `json:"kind"`
	Chunked   bool     `json:"chunked"`
	Alg       string   `json:"alg"`
	Chunks    []string `json:"chunks"`
	TotalSize int      `json:"totalSize"`
}

type sealedWire struct {
	Kind Kind      `json:"kind"`
	Enc  bool      `json:"__enc"`
	Alg  string    `json:"alg"`
	IV   byteArray `json:"iv"`
	CT   byteArray `json:"ct"`
	V    int       `json:"v"`
}

func (p *Plain) wire() any {
	return plainWire{Kind: KindPlain, Unencrypted: true, Data: p.Data, SizeBytes: p.SizeBytes}
}

func (c *Chunked) wire() any {
	chunks := make([]string, len(c.Chunks))
	for i, chunk := range c.Chunks {
		chunks[i] = base64.StdEncoding.EncodeToString(chunk)
	}
	return chunkedWire{Kind: KindChunked, Chunked: true, Alg: algAESGCM, Chunks: chunks, TotalSize: c.TotalSize}
}

func (s *Sealed) wire() any {
	return sealedWire{Kind: KindSealed, Enc: true, Alg: algAESGCM, IV: s.Nonce, CT: s.Ciphertext, V: 1}
}

// Marshal renders an envelope in its wire shape.
func Marshal(env Envelope) (json.RawMessage, error) {
	if env == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	return json.Marshal(env.wire())
}

// byteArray is written as a JSON array of integers, matching the shape browser
// writers produce, and also accepts a base64 string on read.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return err
		}
		*b = decoded
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
