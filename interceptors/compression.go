package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// Compression algorithms
const (
	AlgorithmZstd = "zstd"
	AlgorithmLZ4  = "lz4"
)

// DefaultMaxSize bounds decompressed bodies unless "max_size" is set
const DefaultMaxSize = 64 << 20

var (
	// ErrUnsupportedEncoding is returned for unknown content encodings
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	// ErrBodyTooLarge is returned when an inbound body would decompress
	// beyond the configured maximum size
	ErrBodyTooLarge = errors.New("decompressed body exceeds maximum size")
)

var errIncompressible = errors.New("data is incompressible")

// Compression compresses outbound bodies and decompresses inbound bodies.
// Outbound bodies smaller than the minimum size, or that do not shrink, are
// sent unchanged without a Content-Encoding header.
type Compression struct {
	base
	algorithm string
	minSize   int
	maxSize   int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompression creates a compression interceptor. The "algorithm" property
// selects the default algorithm, "min_size" the smallest body compressed and
// "max_size" the largest body an inbound exchange may decompress to.
func NewCompression(opts ...Option) (*Compression, error) {
	b := newBase(Descriptor{
		RoleID: RoleCompression,
		Name:   "compression",
		Kind:   KindCompression,
	}, opts)

	algorithm := b.stringProp("algorithm", AlgorithmZstd)
	if algorithm != AlgorithmZstd && algorithm != AlgorithmLZ4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, algorithm)
	}
	maxSize := b.intProp("max_size", DefaultMaxSize)
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid compression max_size: %d", maxSize)
	}

	// zstd encoders and decoders are safe for concurrent use
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Compression{
		base:      b,
		algorithm: algorithm,
		minSize:   b.intProp("min_size", 0),
		maxSize:   maxSize,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Process implements Interceptor
func (c *Compression) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	if ex.Direction == contracts.Outbound {
		return c.compress(ex, params)
	}
	return c.decompress(ex)
}

func (c *Compression) compress(ex *contracts.Exchange, params policy.Params) error {
	if enc, ok := ex.Header(contracts.HeaderContentEncoding); ok && enc != "" {
		return nil
	}

	minSize := c.minSize
	if n, ok := params.GetInt("min_size"); ok {
		minSize = n
	}
	if len(ex.Body) == 0 || len(ex.Body) < minSize {
		return nil
	}

	algorithm := params.GetStringOr("algorithm", c.algorithm)
	var (
		compressed []byte
		err        error
	)
	switch algorithm {
	case AlgorithmZstd:
		compressed, err = c.compressZstd(ex.Body)
	case AlgorithmLZ4:
		compressed, err = compressLZ4(ex.Body)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, algorithm)
	}
	if errors.Is(err, errIncompressible) {
		return nil
	}
	if err != nil {
		return err
	}

	ex.SetHeader(contracts.HeaderUncompressedLength, strconv.Itoa(len(ex.Body)))
	ex.SetHeader(contracts.HeaderContentEncoding, algorithm)
	ex.Body = compressed
	return nil
}

func (c *Compression) decompress(ex *contracts.Exchange) error {
	algorithm, ok := ex.Header(contracts.HeaderContentEncoding)
	if !ok || algorithm == "" {
		return nil
	}

	size := -1
	if v, ok := ex.Header(contracts.HeaderUncompressedLength); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid %s header %q", contracts.HeaderUncompressedLength, v)
		}
		if n > c.maxSize {
			return fmt.Errorf("%w: %s %d, limit %d", ErrBodyTooLarge, contracts.HeaderUncompressedLength, n, c.maxSize)
		}
		size = n
	}

	var (
		body []byte
		err  error
	)
	switch algorithm {
	case AlgorithmZstd:
		body, err = c.decompressZstd(ex.Body, size)
	case AlgorithmLZ4:
		if size < 0 {
			return fmt.Errorf("lz4 body without %s header", contracts.HeaderUncompressedLength)
		}
		body, err = decompressLZ4(ex.Body, size)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEncoding, algorithm)
	}
	if err != nil {
		return err
	}

	ex.Body = body
	ex.DeleteHeader(contracts.HeaderContentEncoding)
	ex.DeleteHeader(contracts.HeaderUncompressedLength)
	return nil
}

func (c *Compression) compressZstd(data []byte) ([]byte, error) {
	compressed := c.encoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func (c *Compression) decompressZstd(compressed []byte, size int) ([]byte, error) {
	var destination []byte
	if size > 0 {
		destination = make([]byte, 0, size)
	}
	result, err := c.decoder.DecodeAll(compressed, destination)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, c.maxSize)
	}
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if size >= 0 && len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// zero means lz4 judged the data incompressible
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
