// Package objectsums implements the object-sums adapter (spec.md
// §4.7, C7): the abstract interface the generate task (C4) and the
// check/merge engine (C6) use to read object bytes, discover an
// object's size, and load/store its sidecar manifest, without caring
// whether the object lives on the local filesystem or in a cloud
// object store. Concrete backends live in sibling files: file.go
// (local filesystem), s3.go (AWS S3), azure.go (Azure Blob), gcs.go
// (Google Cloud Storage), blob.go (any gocloud.dev-supported
// provider), and cache.go (a Redis-backed caching decorator).
package objectsums

import (
	"context"
	"io"

	"github.com/umccr/cloud-checksum/pkg/sums"
)

// Range selects a byte range of an object for Read. End is inclusive;
// a nil End means "through the end of the object".
type Range struct {
	Start uint64
	End   *uint64
}

// ObjectSums is the abstract backend consumed by pkg/task. Every
// method takes a context so implementations backed by network calls
// can honor cancellation and deadlines, per spec.md §5's "timeouts are
// imposed by the caller" policy.
type ObjectSums interface {
	// Name returns the target's logical name, e.g. the object key or
	// file path, with no ".sums" suffix.
	Name() string

	// FileSize returns the object's total size. It fails if the
	// object does not exist.
	FileSize(ctx context.Context) (uint64, error)

	// SumsFile loads and parses the sidecar manifest, returning (nil,
	// nil) if no sidecar exists. Per spec.md §7, a missing sidecar is
	// not an error at this layer.
	SumsFile(ctx context.Context) (*sums.SumsFile, error)

	// WriteSumsFile serializes and stores manifest as the sidecar.
	WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error

	// Read opens the object (or a byte range of it) for reading. The
	// returned size is the number of bytes the reader will yield.
	Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error)

	// Write stores src as the object's full content.
	Write(ctx context.Context, src io.Reader) error

	// Copy transfers this object's content to dst. Implementations
	// may use a provider-native server-side copy when src and dst
	// share a provider; otherwise they stream their own Read into
	// dst.Write.
	Copy(ctx context.Context, dst ObjectSums) error
}
