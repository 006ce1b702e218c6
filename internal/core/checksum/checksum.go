package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Algorithm represents the hashing algorithm to use
type Algorithm string

const (
	// MD5 algorithm, matches what Google Drive reports for stored objects
	MD5 Algorithm = "md5"
	// SHA256 algorithm, the default
	SHA256 Algorithm = "sha256"
	// BLAKE3 algorithm, fastest for large plugin trees
	BLAKE3 Algorithm = "blake3"
)

// Options configures the checksum calculator
type Options struct {
	// MaxSize: files larger than this are rejected (0 = unlimited)
	MaxSize int64

	// BufferSize: size of buffer for streaming reads
	// Default: 32KB
	BufferSize int
}

// DefaultOptions returns the recommended default options.
// Managed files must always be checksummed, so there is no size limit.
func DefaultOptions() Options {
	return Options{
		MaxSize:    0,
		BufferSize: 32 * 1024,
	}
}

// Calculator computes content checksums with one fixed algorithm
type Calculator struct {
	algo Algorithm
	opts Options
}

// NewCalculator creates a calculator for algo
func NewCalculator(algo Algorithm, opts Options) (*Calculator, error) {
	if !IsSupported(algo) {
		return nil, fmt.Errorf("unsupported algorithm: %s", algo)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Calculator{algo: algo, opts: opts}, nil
}

// NewDefaultCalculator creates a SHA256 calculator with default options
func NewDefaultCalculator() *Calculator {
	return &Calculator{algo: SHA256, opts: DefaultOptions()}
}

// Algorithm returns the algorithm in use
func (c *Calculator) Algorithm() Algorithm {
	return c.algo
}

// Sum streams reader through the hasher and returns the hex digest
func (c *Calculator) Sum(ctx context.Context, reader io.Reader) (string, error) {
	h := newHash(c.algo)

	var limited io.Reader = reader
	if c.opts.MaxSize > 0 {
		limited = io.LimitReader(reader, c.opts.MaxSize+1)
	}

	buffer := make([]byte, c.opts.BufferSize)
	total := int64(0)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := limited.Read(buffer)
		if n > 0 {
			total += int64(n)
			if c.opts.MaxSize > 0 && total > c.opts.MaxSize {
				return "", fmt.Errorf("file size exceeds maximum (%d bytes)", c.opts.MaxSize)
			}
			if _, hashErr := h.Write(buffer[:n]); hashErr != nil {
				return "", fmt.Errorf("hash write error: %w", hashErr)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read error: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes returns the digest of data
func (c *Calculator) SumBytes(data []byte) string {
	h := newHash(c.algo)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SumFile returns the digest of the file at path in fs
func (c *Calculator) SumFile(ctx context.Context, fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.Sum(ctx, f)
}

func newHash(algo Algorithm) hash.Hash {
	switch algo {
	case MD5:
		return md5.New()
	case BLAKE3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo Algorithm) bool {
	switch algo {
	case MD5, SHA256, BLAKE3:
		return true
	default:
		return false
	}
}
