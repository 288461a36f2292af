package sqlstore

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec turns payloads into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes payloads as JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ZstdCodec compresses the output of another codec with zstd. Large
// snapshots and chatty events shrink considerably.
type ZstdCodec struct {
	inner   Codec
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCodec wraps inner. A nil inner means JSONCodec.
func NewZstdCodec(inner Codec, level zstd.EncoderLevel) (*ZstdCodec, error) {
	if inner == nil {
		inner = JSONCodec{}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()

		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &ZstdCodec{inner: inner, encoder: encoder, decoder: decoder}, nil
}

func (c *ZstdCodec) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}

	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func (c *ZstdCodec) Unmarshal(data []byte, v any) error {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decode: %w", err)
	}

	return c.inner.Unmarshal(raw, v)
}

// Close releases the encoder and decoder.
func (c *ZstdCodec) Close() error {
	c.decoder.Close()

	return c.encoder.Close()
}
