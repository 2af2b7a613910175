package objectsums

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/util"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Azure is the Azure Blob Storage ObjectSums backend. container is
// the already-authenticated container URL; blobName excludes any
// ".sums" suffix, which is appended for the sidecar blob.
type Azure struct {
	container azblob.ContainerURL
	blobName  string
}

// NewAzure constructs an adapter for the blob named blobName within container.
func NewAzure(container azblob.ContainerURL, blobName string) *Azure {
	return &Azure{container: container, blobName: blobName}
}

func (a *Azure) blockBlob(name string) azblob.BlockBlobURL {
	return a.container.NewBlockBlobURL(name)
}

func (a *Azure) Name() string {
	return fmt.Sprintf("%s/%s", a.container.URL().String(), a.blobName)
}

func (a *Azure) sumsName() string {
	return a.blobName + sumsSuffix
}

func isAzureNotFound(err error) bool {
	if stgErr, ok := err.(azblob.StorageError); ok {
		return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
	}
	return false
}

// isTransientAzure reports whether err is a server-side throttling or
// 5xx response worth retrying. The SDK's own pipeline already retries
// at the transport level; this covers failures that surface past it
// (e.g. a storage-layer busy response returned as a typed error).
func isTransientAzure(err error) bool {
	stgErr, ok := err.(azblob.StorageError)
	if !ok {
		return false
	}
	switch stgErr.ServiceCode() {
	case azblob.ServiceCodeServerBusy, azblob.ServiceCodeInternalError, azblob.ServiceCodeOperationTimedOut:
		return true
	}
	return false
}

func (a *Azure) FileSize(ctx context.Context) (uint64, error) {
	var props *azblob.BlobGetPropertiesResponse
	err := withRetry(ctx, isTransientAzure, func() error {
		var opErr error
		props, opErr = a.blockBlob(a.blobName).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
		return opErr
	})
	if err != nil {
		return 0, util.StatusWrapf(err, "getting properties for %s", a.Name())
	}
	return uint64(props.ContentLength()), nil
}

func (a *Azure) SumsFile(ctx context.Context) (*sums.SumsFile, error) {
	resp, err := a.blockBlob(a.sumsName()).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if isAzureNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.StatusWrapf(err, "fetching sidecar for %s", a.Name())
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()

	data, err := io.ReadAll(body)
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

func (a *Azure) WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding sidecar for %s: %s", a.Name(), err)
	}
	return a.uploadBytes(ctx, a.sumsName(), data)
}

func (a *Azure) uploadBytes(ctx context.Context, name string, data []byte) error {
	err := withRetry(ctx, isTransientAzure, func() error {
		_, opErr := azblob.UploadBufferToBlockBlob(ctx, data, a.blockBlob(name), azblob.UploadToBlockBlobOptions{})
		return opErr
	})
	if err != nil {
		return util.StatusWrapf(err, "uploading %s/%s", a.container.URL().String(), name)
	}
	return nil
}

func (a *Azure) Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error) {
	offset := int64(0)
	count := int64(azblob.CountToEnd)
	if r != nil {
		offset = int64(r.Start)
		if r.End != nil {
			count = int64(*r.End-r.Start) + 1
		}
	}

	resp, err := a.blockBlob(a.blobName).Download(ctx, offset, count, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, 0, util.StatusWrapf(err, "reading %s", a.Name())
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	return body, uint64(resp.ContentLength()), nil
}

func (a *Azure) Write(ctx context.Context, src io.Reader) error {
	_, err := azblob.UploadStreamToBlockBlob(ctx, src, a.blockBlob(a.blobName), azblob.UploadStreamToBlockBlobOptions{})
	if err != nil {
		return util.StatusWrapf(err, "writing %s", a.Name())
	}
	return nil
}

func (a *Azure) Copy(ctx context.Context, dst ObjectSums) error {
	if other, ok := dst.(*Azure); ok {
		startCopy, err := other.blockBlob(other.blobName).StartCopyFromURL(ctx, a.blockBlob(a.blobName).URL(), azblob.Metadata{}, azblob.ModifiedAccessConditions{}, azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil)
		if err != nil {
			return util.StatusWrapf(err, "copying %s to %s", a.Name(), other.Name())
		}
		_ = startCopy
		return nil
	}

	reader, _, err := a.Read(ctx, nil)
	if err != nil {
		return err
	}
	defer reader.Close()
	return dst.Write(ctx, reader)
}
