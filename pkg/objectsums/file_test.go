package objectsums_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/sums"

	"github.com/stretchr/testify/require"
)

func TestFileRoundTripsContentAndSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	adapter := objectsums.NewFile(path)

	size, err := adapter.FileSize(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), size)

	manifest, err := adapter.SumsFile(ctx)
	require.NoError(t, err)
	require.Nil(t, manifest)

	m := sums.New()
	m.SetSize(11)
	require.NoError(t, adapter.WriteSumsFile(ctx, m))

	loaded, err := adapter.SumsFile(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), *loaded.Size)
}

func TestFileReadRange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	adapter := objectsums.NewFile(path)

	end := uint64(4)
	reader, length, err := adapter.Read(ctx, &objectsums.Range{Start: 2, End: &end})
	require.NoError(t, err)
	defer reader.Close()
	require.Equal(t, uint64(3), length)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "234", string(data))
}

func TestFileCopy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, objectsums.NewFile(src).Copy(ctx, objectsums.NewFile(dst)))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestFileWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")

	require.NoError(t, objectsums.NewFile(path).Write(ctx, bytes.NewBufferString("abc")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(data))
}
