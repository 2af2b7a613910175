package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"

	"github.com/umccr/cloud-checksum/pkg/digestspec"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Standard is a simple whole-object digest primitive (C1 of spec.md
// §4.1): a uniform Update/Finalize/Reset/Encode interface over
// MD5/SHA-1/SHA-256/CRC32/CRC32C.
type Standard struct {
	algorithm digestspec.Algorithm
	h         hash.Hash
}

// NewStandard constructs a fresh digest primitive for the given base
// algorithm.
func NewStandard(algorithm digestspec.Algorithm) (*Standard, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	return &Standard{algorithm: algorithm, h: h}, nil
}

func newHash(algorithm digestspec.Algorithm) (hash.Hash, error) {
	switch algorithm {
	case digestspec.MD5:
		return md5.New(), nil
	case digestspec.SHA1:
		return sha1.New(), nil
	case digestspec.SHA256:
		return sha256.New(), nil
	case digestspec.CRC32:
		return crc32.NewIEEE(), nil
	case digestspec.CRC32C:
		return crc32.New(crc32.MakeTable(crc32.Castagnoli)), nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown digest algorithm %q", algorithm)
	}
}

// Update feeds a chunk of data into the digest state.
func (s *Standard) Update(data []byte) error {
	_, err := s.h.Write(data)
	if err != nil {
		return status.Errorf(codes.Internal, "updating %s digest: %s", s.algorithm, err)
	}
	return nil
}

// Finalize returns the raw digest bytes computed so far. The
// underlying hash.Hash state is left untouched by this call.
func (s *Standard) Finalize() []byte {
	return s.h.Sum(nil)
}

// Reset returns a fresh instance of the same algorithm, discarding any
// accumulated state. This mirrors spec.md §4.1's reset()->fresh
// instance contract, which composite digests rely on between parts.
func (s *Standard) Reset() *Standard {
	h, _ := newHash(s.algorithm)
	return &Standard{algorithm: s.algorithm, h: h}
}

// Algorithm returns the base algorithm this primitive computes.
func (s *Standard) Algorithm() digestspec.Algorithm {
	return s.algorithm
}

// Encode renders a raw digest as a lower-hex string.
func Encode(digest []byte) string {
	return hex.EncodeToString(digest)
}
