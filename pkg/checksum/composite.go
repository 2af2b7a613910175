package checksum

import (
	"github.com/umccr/cloud-checksum/pkg/digestspec"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PartDigest is the digest of a single part, together with its length
// in bytes (spec.md §3 DigestOutput.per_part entries).
type PartDigest struct {
	Length uint64
	Digest []byte
}

// Composite is the stateful reducer of spec.md §4.2 (C2): it
// segments the incoming stream into parts per a PartMode, digests
// each part with an inner Standard primitive, then digests the
// concatenation of the part digests to produce the AWS-ETag-style
// top-level value.
//
// The zero value is not usable; construct with NewComposite.
type Composite struct {
	spec digestspec.Spec

	partMode          digestspec.PartMode
	partIndex         int
	currentPartTarget uint64
	currentBytes      uint64
	totalBytes        uint64
	remainder         []byte
	partDigests       []PartDigest

	inner    *Standard
	fileSize *uint64

	finalized  bool
	topLevel   []byte
	normalized []uint64
}

// NewComposite constructs a composite digest engine for the given
// spec. fileSize may be nil if not yet known; a PartCount schedule
// needs it before the first Update, which fails without it (spec.md
// §4.2 "Next part size").
func NewComposite(spec digestspec.Spec, fileSize *uint64) (*Composite, error) {
	if !spec.Composite {
		return nil, status.Errorf(codes.InvalidArgument, "%s is not a composite digest spec", spec.Base)
	}
	inner, err := NewStandard(spec.Base)
	if err != nil {
		return nil, err
	}
	return &Composite{
		spec:     spec,
		partMode: spec.Parts,
		inner:    inner,
		fileSize: fileSize,
	}, nil
}

// SetFileSize records the object's total size once known. For a
// PartSizes schedule this may be called after some chunks have already
// been absorbed (the reader discovers EOF after delivering the last
// chunk), as long as it precedes Finalize; a PartCount schedule needs
// the size before the first Update.
func (c *Composite) SetFileSize(fileSize uint64) {
	c.fileSize = &fileSize
}

// nextPartTarget returns the number of bytes the current part should
// absorb, per spec.md §4.2's scheduling rules.
func (c *Composite) nextPartTarget() (uint64, error) {
	switch c.partMode.Kind {
	case digestspec.PartSizes:
		sizes := c.partMode.Sizes
		if len(sizes) == 0 {
			return 0, status.Error(codes.InvalidArgument, "expected part size")
		}
		size := sizes[c.partIndex]
		if c.partIndex != len(sizes)-1 {
			c.partIndex++
		}
		return size, nil
	case digestspec.PartCount:
		if c.fileSize == nil {
			return 0, status.Error(codes.InvalidArgument, "cannot use part number syntax without file size")
		}
		return digestspec.PartNumberToSize(c.partMode.Count, *c.fileSize), nil
	default:
		return 0, status.Error(codes.Internal, "unknown part mode")
	}
}

// Update absorbs a chunk of data, following spec.md §4.2's Update
// contract. Chunks are expected to be modestly sized (see pkg/reader);
// a single Update call crosses at most one part boundary, since the
// tail parked as remainder is not split further within the same call.
func (c *Composite) Update(chunk []byte) error {
	if c.currentPartTarget == 0 {
		target, err := c.nextPartTarget()
		if err != nil {
			return err
		}
		c.currentPartTarget = target
	}

	length := uint64(len(chunk))
	if c.currentBytes+length > c.currentPartTarget {
		splitAt := c.currentPartTarget - c.currentBytes
		head, tail := chunk[:splitAt], chunk[splitAt:]

		if err := c.absorbRemainder(); err != nil {
			return err
		}
		if err := c.inner.Update(head); err != nil {
			return err
		}
		c.partDigests = append(c.partDigests, PartDigest{
			Length: c.currentPartTarget,
			Digest: c.inner.Finalize(),
		})
		c.inner = c.inner.Reset()

		c.remainder = append([]byte(nil), tail...)
		c.currentBytes = uint64(len(tail))
		c.totalBytes += c.currentPartTarget

		target, err := c.nextPartTarget()
		if err != nil {
			return err
		}
		c.currentPartTarget = target
		return nil
	}

	if err := c.absorbRemainder(); err != nil {
		return err
	}
	if err := c.inner.Update(chunk); err != nil {
		return err
	}
	c.currentBytes += length
	return nil
}

func (c *Composite) absorbRemainder() error {
	if c.remainder == nil {
		return nil
	}
	remainder := c.remainder
	c.remainder = nil
	return c.inner.Update(remainder)
}

// Finalize flushes any in-flight part, normalizes the declared part
// schedule against the now-known total length, then digests the
// concatenation of all part digests to produce the top-level value.
// Per-part digests remain available via PartDigests after this call.
func (c *Composite) Finalize() ([]byte, error) {
	if c.finalized {
		return c.topLevel, nil
	}

	if c.remainder != nil || c.currentBytes != 0 {
		if err := c.absorbRemainder(); err != nil {
			return nil, err
		}
		c.partDigests = append(c.partDigests, PartDigest{
			Length: c.currentBytes,
			Digest: c.inner.Finalize(),
		})
		c.totalBytes += c.currentBytes
		c.inner = c.inner.Reset()
		c.currentBytes = 0
	}

	normalized, err := c.normalizeSchedule()
	if err != nil {
		return nil, err
	}
	c.normalized = normalized

	final, err := NewStandard(c.spec.Base)
	if err != nil {
		return nil, err
	}
	for _, pd := range c.partDigests {
		if err := final.Update(pd.Digest); err != nil {
			return nil, err
		}
	}
	c.topLevel = final.Finalize()
	c.finalized = true
	return c.topLevel, nil
}

// effectiveTotal returns the known or observed total length, preferring
// the declared file size when present (spec.md §4.2 Finalize step 2).
func (c *Composite) effectiveTotal() uint64 {
	if c.fileSize != nil {
		return *c.fileSize
	}
	return c.totalBytes
}

// normalizeSchedule implements spec.md §4.2's schedule-normalization
// algorithm for PartSizes schedules, run at Finalize. PartCount
// schedules have nothing to normalize; the declared count already
// determines exactly how many parts were produced.
func (c *Composite) normalizeSchedule() ([]uint64, error) {
	if c.partMode.Kind != digestspec.PartSizes {
		return nil, nil
	}

	total := c.effectiveTotal()
	declared := append([]uint64(nil), c.partMode.Sizes...)

	tiled := forwardPass(total, declared)
	tiled = trimDuplicateSuffix(tiled)

	c.partMode = digestspec.PartMode{Kind: digestspec.PartSizes, Sizes: tiled}
	c.spec.Parts = c.partMode
	return tiled, nil
}

// forwardPass walks the declared schedule consuming the total length.
// As soon as the remaining length fits within the current declared
// part, that part is shrunk to exactly the remainder and the rest of
// the declared list is discarded (spec.md §4.2 step 1). If the total
// exceeds the sum of all declared parts, the last declared size is
// repeated (capped at whatever remains) until the total is reached
// (step 2). This mirrors the source's iterate_part_sizes bit for bit,
// including its use of saturating subtraction.
func forwardPass(total uint64, declared []uint64) []uint64 {
	remaining := total
	out := make([]uint64, 0, len(declared))
	for _, p := range declared {
		if remaining <= p {
			out = append(out, remaining)
			remaining = 0
			break
		}
		out = append(out, p)
		remaining = satSub(remaining, p)
	}

	last := uint64(0)
	if len(out) > 0 {
		last = out[len(out)-1]
	}
	for remaining > 0 {
		if remaining < last {
			out = append(out, remaining)
		} else {
			out = append(out, last)
		}
		remaining = satSub(remaining, last)
		if last == 0 {
			break
		}
	}
	return out
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// trimDuplicateSuffix collapses a run of trailing duplicate part sizes
// down to a single occurrence (spec.md §4.2 step 3). If the final part
// is larger than the one before it, the schedule is left untouched: a
// larger tail only comes from a larger declared part that the total
// ran out inside of (repeating the last size never yields a larger
// tail), and that tail is the genuine final part. Otherwise the final
// part is discarded outright and any run of trailing duplicates of
// the second-to-last size collapses to one occurrence.
func trimDuplicateSuffix(parts []uint64) []uint64 {
	if len(parts) < 2 {
		return parts
	}

	last := parts[len(parts)-1]
	secondLast := parts[len(parts)-2]

	if last > secondLast {
		return parts
	}

	body := parts[:len(parts)-1]
	u := body[len(body)-1]

	i := len(body) - 1
	for i > 0 && body[i-1] == u {
		i--
	}
	trimmed := append([]uint64(nil), body[:i]...)
	trimmed = append(trimmed, u)
	return trimmed
}

// PartDigests returns the encoded per-part digests after Finalize,
// paired with each part's length, in order.
func (c *Composite) PartDigests() []PartDigest {
	return c.partDigests
}

// NormalizedSizes returns the canonical part-size schedule computed
// during Finalize. It is nil before Finalize is called, or if the
// spec uses PartCount (whose single effective size is derived from
// FileSize, not a list).
func (c *Composite) NormalizedSizes() []uint64 {
	return c.normalized
}

// FileSize returns the known (declared or observed) total size, or nil
// if Finalize has not yet run and none was declared.
func (c *Composite) FileSize() *uint64 {
	if c.fileSize != nil {
		return c.fileSize
	}
	if c.finalized {
		total := c.totalBytes
		return &total
	}
	return nil
}

// Spec returns a Spec with the part schedule normalized in place,
// suitable for Display once Finalize has been called.
func (c *Composite) Spec() digestspec.Spec {
	return c.spec
}
