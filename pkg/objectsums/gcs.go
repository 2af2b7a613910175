package objectsums

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/util"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// isTransientGCS reports whether err is a retryable GCS response:
// rate-limiting or a server-side 5xx.
func isTransientGCS(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 429 || apiErr.Code >= 500
}

// GCS is the Google Cloud Storage ObjectSums backend.
type GCS struct {
	bucket *storage.BucketHandle
	name   string
	object string
}

// NewGCS constructs an adapter for the object named object within the
// bucket handle. bucketName is retained only for Name()'s display
// string.
func NewGCS(bucket *storage.BucketHandle, bucketName, object string) *GCS {
	return &GCS{bucket: bucket, name: bucketName, object: object}
}

func (g *GCS) Name() string {
	return fmt.Sprintf("gs://%s/%s", g.name, g.object)
}

func (g *GCS) sumsObject() string {
	return g.object + sumsSuffix
}

func (g *GCS) FileSize(ctx context.Context) (uint64, error) {
	var attrs *storage.ObjectAttrs
	err := withRetry(ctx, isTransientGCS, func() error {
		var opErr error
		attrs, opErr = g.bucket.Object(g.object).Attrs(ctx)
		return opErr
	})
	if err != nil {
		return 0, util.StatusWrapf(err, "getting attrs for %s", g.Name())
	}
	return uint64(attrs.Size), nil
}

func (g *GCS) SumsFile(ctx context.Context) (*sums.SumsFile, error) {
	r, err := g.bucket.Object(g.sumsObject()).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, util.StatusWrapf(err, "fetching sidecar for %s", g.Name())
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, util.StatusWrapf(err, "reading sidecar for %s", g.Name())
	}

	var manifest sums.SumsFile
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parsing sidecar for %s: %s", g.Name(), err)
	}
	manifest.Bindings = []string{g.Name()}
	return &manifest, nil
}

func (g *GCS) WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding sidecar for %s: %s", g.Name(), err)
	}
	w := g.bucket.Object(g.sumsObject()).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return util.StatusWrapf(err, "writing sidecar for %s", g.Name())
	}
	if err := w.Close(); err != nil {
		return util.StatusWrapf(err, "finalizing sidecar for %s", g.Name())
	}
	return nil
}

func (g *GCS) Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error) {
	obj := g.bucket.Object(g.object)
	if r == nil {
		reader, err := obj.NewReader(ctx)
		if err != nil {
			return nil, 0, util.StatusWrapf(err, "reading %s", g.Name())
		}
		return reader, uint64(reader.Attrs.Size), nil
	}

	length := int64(-1)
	if r.End != nil {
		length = int64(*r.End-r.Start) + 1
	}
	reader, err := obj.NewRangeReader(ctx, int64(r.Start), length)
	if err != nil {
		return nil, 0, util.StatusWrapf(err, "reading %s", g.Name())
	}
	return reader, uint64(reader.Remain()), nil
}

func (g *GCS) Write(ctx context.Context, src io.Reader) error {
	w := g.bucket.Object(g.object).NewWriter(ctx)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return util.StatusWrapf(err, "writing %s", g.Name())
	}
	if err := w.Close(); err != nil {
		return util.StatusWrapf(err, "finalizing %s", g.Name())
	}
	return nil
}

func (g *GCS) Copy(ctx context.Context, dst ObjectSums) error {
	if other, ok := dst.(*GCS); ok {
		src := g.bucket.Object(g.object)
		_, err := other.bucket.Object(other.object).CopierFrom(src).Run(ctx)
		if err != nil {
			return util.StatusWrapf(err, "copying %s to %s", g.Name(), other.Name())
		}
		return nil
	}

	reader, _, err := g.Read(ctx, nil)
	if err != nil {
		return err
	}
	defer reader.Close()
	return dst.Write(ctx, reader)
}
