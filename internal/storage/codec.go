package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/kms"
)

// Compression identifies how a stored payload is compressed. The values are
// written into the envelope header and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps a config value to a Compression. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("storage: unknown compression %q", name)
	}
}

// Envelope layout: magic(4) | compression(1) | flags(1) | raw size(4) | body.
const (
	headerSize    = 10
	flagEncrypted = 1 << 0
)

var envelopeMagic = []byte("CVB1")

var errIncompressible = errors.New("storage: payload incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// Codec wraps payloads before they reach a Backend. A zero Codec (no
// compression, no encryptor) passes payloads through untouched, so the bytes
// on disk are exactly the bytes that were hashed.
type Codec struct {
	compression Compression
	enc         *kms.Encryptor
}

// NewCodec builds a Codec. enc may be nil to disable at-rest encryption.
func NewCodec(compression Compression, enc *kms.Encryptor) *Codec {
	return &Codec{compression: compression, enc: enc}
}

func (c *Codec) passthrough() bool {
	return c == nil || (c.compression == CompressionNone && c.enc == nil)
}

// Encode turns a payload into its stored form.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if c.passthrough() {
		return payload, nil
	}

	tag := c.compression
	body, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag, body = CompressionNone, payload
	} else if err != nil {
		return nil, err
	}

	var flags byte
	if c.enc != nil {
		body, err = c.enc.Seal(body)
		if err != nil {
			return nil, fmt.Errorf("storage: encrypt: %w", err)
		}
		flags |= flagEncrypted
	}

	out := make([]byte, headerSize, headerSize+len(body))
	copy(out, envelopeMagic)
	out[4] = byte(tag)
	out[5] = flags
	binary.BigEndian.PutUint32(out[6:], uint32(len(payload)))
	return append(out, body...), nil
}

// Decode reverses Encode. Blobs without the envelope header are returned
// as they are, which covers stores written with a passthrough Codec.
func (c *Codec) Decode(blob []byte) ([]byte, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[:4], envelopeMagic) {
		return blob, nil
	}
	tag := Compression(blob[4])
	flags := blob[5]
	size := int(binary.BigEndian.Uint32(blob[6:headerSize]))
	body := blob[headerSize:]

	if flags&flagEncrypted != 0 {
		if c == nil || c.enc == nil {
			return nil, fmt.Errorf("storage: payload is encrypted but no key is configured")
		}
		var err error
		body, err = c.enc.Open(body)
		if err != nil {
			return nil, fmt.Errorf("storage: decrypt: %w", err)
		}
	}
	return decompress(body, tag, size)
}

func compress(data []byte, tag Compression) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("storage: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storage: unsupported compression %s", tag)
	}
}

func decompress(data []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("storage: payload size %d does not match header %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("storage: lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("storage: lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("storage: zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("storage: zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("storage: unsupported compression %s", tag)
	}
}

// CodecStore applies a Codec to every payload on its way in and out of an
// inner Backend. Keys are untouched: they stay the digest of the raw payload.
type CodecStore struct {
	inner Backend
	codec *Codec
}

func NewCodecStore(inner Backend, codec *Codec) *CodecStore {
	return &CodecStore{inner: inner, codec: codec}
}

func (s *CodecStore) Provider() string { return s.inner.Provider() }

func (s *CodecStore) Put(ctx context.Context, digest string, payload []byte) error {
	blob, err := s.codec.Encode(payload)
	if err != nil {
		return err
	}
	return s.inner.Put(ctx, digest, blob)
}

func (s *CodecStore) Get(ctx context.Context, digest string) ([]byte, error) {
	blob, err := s.inner.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(blob)
}

func (s *CodecStore) Exists(ctx context.Context, digest string) (bool, error) {
	return s.inner.Exists(ctx, digest)
}
