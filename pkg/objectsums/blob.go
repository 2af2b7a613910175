package objectsums

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/util"

	"gocloud.dev/blob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Blob is the cross-provider ObjectSums backend built on gocloud.dev's
// blob.Bucket: a single io.Reader/io.Writer surface over S3, Azure,
// GCS, and others, suited to the copy workflow (spec.md §4.7) when the
// source and destination are different provider kinds and a
// provider-native server-side copy is unavailable.
type Blob struct {
	bucket *blob.Bucket
	name   string
	key    string
}

// NewBlob constructs an adapter over an already-opened bucket. name
// only affects the display string returned by Name().
func NewBlob(bucket *blob.Bucket, name, key string) *Blob {
	return &Blob{bucket: bucket, name: name, key: key}
}

func (b *Blob) Name() string {
	return fmt.Sprintf("%s/%s", b.name, b.key)
}

func (b *Blob) sumsKey() string {
	return b.key + sumsSuffix
}

func (b *Blob) FileSize(ctx context.Context) (uint64, error) {
	attrs, err := b.bucket.Attributes(ctx, b.key)
	if err != nil {
		return 0, util.StatusWrapf(err, "getting attributes for %s", b.Name())
	}
	return uint64(attrs.Size), nil
}

func (b *Blob) SumsFile(ctx context.Context) (*sums.SumsFile, error) {
	data, err := b.bucket.ReadAll(ctx, b.sumsKey())
	if b.bucket.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.StatusWrapf(err, "fetching sidecar for %s", b.Name())
	}

	var manifest sums.SumsFile
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parsing sidecar for %s: %s", b.Name(), err)
	}
	manifest.Bindings = []string{b.Name()}
	return &manifest, nil
}

func (b *Blob) WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding sidecar for %s: %s", b.Name(), err)
	}
	if err := b.bucket.WriteAll(ctx, b.sumsKey(), data, nil); err != nil {
		return util.StatusWrapf(err, "writing sidecar for %s", b.Name())
	}
	return nil
}

func (b *Blob) Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error) {
	offset := int64(0)
	length := int64(-1)
	if r != nil {
		offset = int64(r.Start)
		if r.End != nil {
			length = int64(*r.End-r.Start) + 1
		}
	}
	reader, err := b.bucket.NewRangeReader(ctx, b.key, offset, length, nil)
	if err != nil {
		return nil, 0, util.StatusWrapf(err, "reading %s", b.Name())
	}
	return reader, uint64(reader.Size()), nil
}

func (b *Blob) Write(ctx context.Context, src io.Reader) error {
	w, err := b.bucket.NewWriter(ctx, b.key, nil)
	if err != nil {
		return util.StatusWrapf(err, "opening writer for %s", b.Name())
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return util.StatusWrapf(err, "writing %s", b.Name())
	}
	if err := w.Close(); err != nil {
		return util.StatusWrapf(err, "finalizing %s", b.Name())
	}
	return nil
}

// Copy always falls back to a read/write pump through this process:
// Blob deliberately has no provider-native fast path, since its whole
// purpose is to be used precisely when source and destination are
// different providers.
func (b *Blob) Copy(ctx context.Context, dst ObjectSums) error {
	reader, _, err := b.Read(ctx, nil)
	if err != nil {
		return err
	}
	defer reader.Close()
	return dst.Write(ctx, reader)
}
