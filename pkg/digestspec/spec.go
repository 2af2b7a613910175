// Package digestspec parses and canonically displays digest
// specification strings, e.g. "md5", "sha256-aws-100mib",
// "aws-etag-10". It implements the grammar of spec.md §3 exactly: a
// Spec is either a simple base algorithm, or a base algorithm paired
// with a PartMode describing how an AWS-style composite digest
// partitions its input.
package digestspec

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Algorithm identifies a base (whole-object) digest function.
type Algorithm string

// The base algorithms supported by the digest pipeline.
const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	CRC32  Algorithm = "crc32"
	CRC32C Algorithm = "crc32c"
)

func parseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case MD5, SHA1, SHA256, CRC32, CRC32C:
		return Algorithm(s), nil
	default:
		return "", status.Errorf(codes.InvalidArgument, "unknown digest algorithm %q", s)
	}
}

// PartModeKind distinguishes the two ways an AWS composite schedule
// can be declared.
type PartModeKind int

const (
	// PartCount declares the number of parts; the size of each part
	// is derived from the object's total size at compute time.
	PartCount PartModeKind = iota
	// PartSizes declares an explicit, possibly repeating, list of
	// part sizes.
	PartSizes
)

// PartMode is either a part Count or an explicit list of part Sizes.
// Exactly one of the two is meaningful, selected by Kind.
type PartMode struct {
	Kind  PartModeKind
	Count uint64
	Sizes []uint64
}

// Spec identifies a digest algorithm and, for composite variants, the
// part schedule used to partition the stream.
type Spec struct {
	Base      Algorithm
	Composite bool
	Parts     PartMode
}

// IsComposite reports whether this is an AWS multipart ETag-style spec.
func (s Spec) IsComposite() bool {
	return s.Composite
}

// Parse parses a canonical or alias textual digest spec, per spec.md §3:
//
//  1. Substitute "aws-etag" -> "md5-aws".
//  2. If the result has no "-aws-", it is a simple spec.
//  3. Otherwise split on the *last* "-aws-"; left is the base, right
//     is the schedule.
//  4. Strip an optional "etag-" prefix from the schedule.
//  5. A schedule that parses as a positive u64 is a PartCount; zero is
//     rejected.
//  6. Otherwise the schedule is a "-"-separated list of byte sizes.
func Parse(s string) (Spec, error) {
	s = strings.ReplaceAll(s, "aws-etag", "md5-aws")

	if s == "md5-aws" {
		s = "md5-aws-1"
	}

	idx := strings.LastIndex(s, "-aws-")
	if idx < 0 {
		base, err := parseAlgorithm(s)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Base: base}, nil
	}

	baseStr, scheduleStr := s[:idx], s[idx+len("-aws-"):]
	base, err := parseAlgorithm(baseStr)
	if err != nil {
		return Spec{}, err
	}

	scheduleStr = strings.TrimPrefix(scheduleStr, "etag-")
	if scheduleStr == "" {
		return Spec{}, status.Error(codes.InvalidArgument, "expected part size")
	}

	if n, err := strconv.ParseUint(scheduleStr, 10, 64); err == nil {
		if n == 0 {
			return Spec{}, status.Error(codes.InvalidArgument, "cannot use zero part number")
		}
		return Spec{Base: base, Composite: true, Parts: PartMode{Kind: PartCount, Count: n}}, nil
	}

	pieces := strings.Split(scheduleStr, "-")
	sizes := make([]uint64, 0, len(pieces))
	for _, p := range pieces {
		n, err := humanize.ParseBytes(p)
		if err != nil {
			return Spec{}, status.Errorf(codes.InvalidArgument, "invalid part size %q: %s", p, err)
		}
		sizes = append(sizes, n)
	}
	return Spec{Base: base, Composite: true, Parts: PartMode{Kind: PartSizes, Sizes: sizes}}, nil
}

// Display renders the canonical textual form of the spec. For a
// composite spec with PartSizes, parts must already be normalized
// (see pkg/checksum's composite engine); a PartCount spec must supply
// fileSize so that the displayed schedule reflects the actual
// per-part size, matching spec.md §4.2's canonical display rule.
//
// Display fails (returns an error) when a PartCount spec has no known
// file size yet — an implementation must not emit a lying string.
func (s Spec) Display(fileSize *uint64) (string, error) {
	if !s.Composite {
		return string(s.Base), nil
	}

	parts, err := s.formatParts(fileSize)
	if err != nil {
		return "", err
	}
	return string(s.Base) + "-aws-" + parts, nil
}

func (s Spec) formatParts(fileSize *uint64) (string, error) {
	switch s.Parts.Kind {
	case PartCount:
		if fileSize == nil {
			return "", status.Error(codes.FailedPrecondition, "cannot format part count without a file size")
		}
		size := ceilDiv(*fileSize, s.Parts.Count)
		return formatPartSize(size), nil
	case PartSizes:
		if len(s.Parts.Sizes) == 0 {
			return "", status.Error(codes.FailedPrecondition, "cannot format an empty part size schedule")
		}
		parts := make([]string, len(s.Parts.Sizes))
		for i, sz := range s.Parts.Sizes {
			parts[i] = formatPartSize(sz)
		}
		return strings.Join(parts, "-"), nil
	default:
		return "", status.Error(codes.Internal, "unknown part mode")
	}
}

func formatPartSize(size uint64) string {
	return strconv.FormatUint(size, 10) + "b"
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// PartNumberToSize converts a declared part count into the size of
// each part given the object's total size.
func PartNumberToSize(partCount, fileSize uint64) uint64 {
	return ceilDiv(fileSize, partCount)
}
