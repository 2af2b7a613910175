package objectsums

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/util"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// S3 is the AWS S3 ObjectSums backend. The client is injected as
// s3iface.S3API so tests can substitute a mock, mirroring the
// teacher's preference for narrow injected interfaces over concrete
// SDK clients.
type S3 struct {
	client s3iface.S3API
	bucket string
	key    string
}

// NewS3 constructs an adapter for the object at bucket/key.
func NewS3(client s3iface.S3API, bucket, key string) *S3 {
	return &S3{client: client, bucket: bucket, key: key}
}

func (a *S3) Name() string {
	return fmt.Sprintf("s3://%s/%s", a.bucket, a.key)
}

func (a *S3) sumsKey() string {
	return a.key + sumsSuffix
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// isTransientS3 reports whether err is worth retrying: throttling,
// transient server errors, and the request-timeout codes the S3 SDK
// uses for connection resets mid-transfer.
func isTransientS3(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeTooSkewed", "Throttling":
		return true
	}
	return false
}

func (a *S3) FileSize(ctx context.Context) (uint64, error) {
	var out *s3.HeadObjectOutput
	err := withRetry(ctx, isTransientS3, func() error {
		var opErr error
		out, opErr = a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.key),
		})
		return opErr
	})
	if err != nil {
		return 0, util.StatusWrapf(err, "heading %s", a.Name())
	}
	return uint64(aws.Int64Value(out.ContentLength)), nil
}

func (a *S3) SumsFile(ctx context.Context) (*sums.SumsFile, error) {
	var out *s3.GetObjectOutput
	err := withRetry(ctx, isTransientS3, func() error {
		var opErr error
		out, opErr = a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.sumsKey()),
		})
		return opErr
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.StatusWrapf(err, "fetching sidecar for %s", a.Name())
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, util.StatusWrapf(err, "reading sidecar for %s", a.Name())
	}

	var manifest sums.SumsFile
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "parsing sidecar for %s: %s", a.Name(), err)
	}
	manifest.Bindings = []string{a.Name()}
	return &manifest, nil
}

func (a *S3) WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding sidecar for %s: %s", a.Name(), err)
	}
	err = withRetry(ctx, isTransientS3, func() error {
		_, opErr := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.sumsKey()),
			Body:   bytes.NewReader(data),
		})
		return opErr
	})
	if err != nil {
		return util.StatusWrapf(err, "writing sidecar for %s", a.Name())
	}
	return nil
}

func (a *S3) Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	}
	if r != nil {
		rangeHeader := fmt.Sprintf("bytes=%d-", r.Start)
		if r.End != nil {
			rangeHeader = fmt.Sprintf("bytes=%d-%d", r.Start, *r.End)
		}
		input.Range = aws.String(rangeHeader)
	}

	out, err := a.client.GetObjectWithContext(ctx, input)
	if err != nil {
		return nil, 0, util.StatusWrapf(err, "reading %s", a.Name())
	}
	return out.Body, uint64(aws.Int64Value(out.ContentLength)), nil
}

func (a *S3) Write(ctx context.Context, src io.Reader) error {
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
		Body:   aws.ReadSeekCloser(src),
	})
	if err != nil {
		return util.StatusWrapf(err, "writing %s", a.Name())
	}
	return nil
}

func (a *S3) Copy(ctx context.Context, dst ObjectSums) error {
	if other, ok := dst.(*S3); ok && other.bucket == a.bucket {
		_, err := a.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(other.bucket),
			Key:        aws.String(other.key),
			CopySource: aws.String(fmt.Sprintf("%s/%s", a.bucket, a.key)),
		})
		if err != nil {
			return util.StatusWrapf(err, "copying %s to %s", a.Name(), other.Name())
		}
		return nil
	}

	reader, _, err := a.Read(ctx, nil)
	if err != nil {
		return err
	}
	defer reader.Close()
	return dst.Write(ctx, reader)
}
