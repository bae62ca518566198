package runlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	// CompressionThreshold is the minimum payload size before compression is
	// tried. Run records with a handful of items stay well below it.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed record size.
	MaxPayloadSize = 10 * 1024 * 1024 // 10MB

	recordVersion = 1
	headerSize    = 1 + 1 + 8 + 32
)

// Encoding identifies how a stored payload is compressed.
type Encoding byte

const (
	EncodingIdentity Encoding = 0
	EncodingZstd     Encoding = 1
)

var (
	// ErrPayloadTooLarge is returned when a record exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrCorrupted is returned when a stored record fails digest verification.
	ErrCorrupted = errors.New("record digest mismatch")
)

// codec frames run records for storage:
//
//	version(1) | encoding(1) | size(8, big endian) | blake3(32) | payload
//
// size and digest describe the uncompressed payload. The zstd encoder and
// decoder are goroutine-safe and shared.
type codec struct {
	mu      sync.RWMutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{encoder: enc, decoder: dec}, nil
}

func (c *codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		_ = c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

func (c *codec) encode(data []byte) ([]byte, error) {
	if len(data) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload, encoding := data, EncodingIdentity
	if len(data) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()
		if enc != nil {
			if compressed := enc.EncodeAll(data, nil); len(compressed) < len(data) {
				payload, encoding = compressed, EncodingZstd
			}
		}
	}

	digest := blake3.Sum256(data)
	out := make([]byte, headerSize, headerSize+len(payload))
	out[0] = recordVersion
	out[1] = byte(encoding)
	binary.BigEndian.PutUint64(out[2:10], uint64(len(data)))
	copy(out[10:headerSize], digest[:])
	return append(out, payload...), nil
}

func (c *codec) decode(record []byte) ([]byte, error) {
	if len(record) < headerSize {
		return nil, fmt.Errorf("%w: short record", ErrCorrupted)
	}
	if record[0] != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", record[0])
	}
	size := binary.BigEndian.Uint64(record[2:10])
	if size > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	payload := record[headerSize:]

	var data []byte
	switch Encoding(record[1]) {
	case EncodingIdentity:
		data = payload
	case EncodingZstd:
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("decoder not initialized")
		}
		var err error
		data, err = dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("decompressing record: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported encoding: %d", record[1])
	}

	if uint64(len(data)) != size {
		return nil, fmt.Errorf("%w: size %d, want %d", ErrCorrupted, len(data), size)
	}
	if blake3.Sum256(data) != [32]byte(record[10:headerSize]) {
		return nil, ErrCorrupted
	}
	return data, nil
}
