package objectsums_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/sums"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/stretchr/testify/require"
)

// fakeS3Client embeds s3iface.S3API so it satisfies the full,
// ~100-method interface without implementing all of it; only the
// handful of *WithContext methods the S3 backend actually calls are
// overridden here, the pattern s3iface's own doc comment recommends
// for constructing narrow test doubles.
type fakeS3Client struct {
	s3iface.S3API

	objects map[string][]byte
	copies  int
}

func newFakeS3Client() *fakeS3Client {
	return &fakeS3Client{objects: map[string][]byte{}}
}

func (f *fakeS3Client) objectKey(bucket, key *string) string {
	return aws.StringValue(bucket) + "/" + aws.StringValue(key)
}

func (f *fakeS3Client) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[f.objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, awserr.New("NotFound", "not found", nil)
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3Client) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[f.objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3Client) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[f.objectKey(in.Bucket, in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3Client) CopyObjectWithContext(_ aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	data, ok := f.objects[aws.StringValue(in.CopySource)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	f.copies++
	f.objects[f.objectKey(in.Bucket, in.Key)] = data
	return &s3.CopyObjectOutput{}, nil
}

func TestS3RoundTripsSidecar(t *testing.T) {
	client := newFakeS3Client()
	backend := objectsums.NewS3(client, "my-bucket", "object.bin")

	manifest := sums.New()
	manifest.SetSize(4)

	require.NoError(t, backend.WriteSumsFile(context.Background(), manifest))

	loaded, err := backend.SumsFile(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, *manifest.Size, *loaded.Size)
}

func TestS3SumsFileMissingIsNotError(t *testing.T) {
	client := newFakeS3Client()
	backend := objectsums.NewS3(client, "my-bucket", "absent.bin")

	loaded, err := backend.SumsFile(context.Background())
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestS3ReadWriteRoundTrip(t *testing.T) {
	client := newFakeS3Client()
	backend := objectsums.NewS3(client, "my-bucket", "object.bin")

	require.NoError(t, backend.Write(context.Background(), bytes.NewReader([]byte("hello s3"))))

	r, size, err := backend.Read(context.Background(), nil)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello s3", string(data))
	require.Equal(t, uint64(len(data)), size)
}

func TestS3FileSizeReflectsWrittenObject(t *testing.T) {
	client := newFakeS3Client()
	backend := objectsums.NewS3(client, "my-bucket", "object.bin")

	require.NoError(t, backend.Write(context.Background(), bytes.NewReader([]byte("12345"))))

	size, err := backend.FileSize(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), size)
}

func TestS3CopySameBucketUsesServerSideCopy(t *testing.T) {
	client := newFakeS3Client()
	src := objectsums.NewS3(client, "my-bucket", "src.bin")
	dst := objectsums.NewS3(client, "my-bucket", "dst.bin")

	require.NoError(t, src.Write(context.Background(), bytes.NewReader([]byte("payload"))))
	require.NoError(t, src.Copy(context.Background(), dst))
	require.Equal(t, 1, client.copies)
}
