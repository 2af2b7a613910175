package task_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/umccr/cloud-checksum/pkg/digestspec"
	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/task"

	"github.com/stretchr/testify/require"
)

func mustParseSpec(t *testing.T, s string) digestspec.Spec {
	t.Helper()
	spec, err := digestspec.Parse(s)
	require.NoError(t, err)
	return spec
}

func TestGenerateTaskWritesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")
	content := []byte("the quick brown fox")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	target := objectsums.NewFile(path)
	size := uint64(len(content))

	gen := task.NewGenerateTask(
		[]digestspec.Spec{mustParseSpec(t, "md5"), mustParseSpec(t, "sha256")},
		target,
		&size,
		false,
		false,
		4,
	)

	manifest, err := gen.Run(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)
	require.Len(t, manifest.Checksums, 2)
	require.Equal(t, size, *manifest.Size)

	loaded, err := target.SumsFile(context.Background())
	require.NoError(t, err)
	require.Equal(t, manifest.Checksums, loaded.Checksums)
}

func TestGenerateTaskRefusesConflictingOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")
	content := []byte("payload")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	target := objectsums.NewFile(path)
	size := uint64(len(content))

	first := task.NewGenerateTask([]digestspec.Spec{mustParseSpec(t, "md5")}, target, &size, false, false, 4)
	_, err := first.Run(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)

	// Mutate the sidecar to simulate a conflicting prior computation.
	existing, err := target.SumsFile(context.Background())
	require.NoError(t, err)
	entry := existing.Checksums["md5"]
	entry.Checksum = "0000000000000000000000000000000"
	existing.Checksums["md5"] = entry
	require.NoError(t, target.WriteSumsFile(context.Background(), existing))

	second := task.NewGenerateTask([]digestspec.Spec{mustParseSpec(t, "md5")}, target, &size, false, false, 4)
	_, err = second.Run(context.Background(), bytes.NewReader(content))
	require.Error(t, err)
}

func TestGenerateTaskForceOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")
	content := []byte("payload")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	target := objectsums.NewFile(path)
	size := uint64(len(content))

	existing, err := target.SumsFile(context.Background())
	require.NoError(t, err)
	require.Nil(t, existing)

	gen := task.NewGenerateTask([]digestspec.Spec{mustParseSpec(t, "md5")}, target, &size, true, false, 4)
	_, err = gen.Run(context.Background(), bytes.NewReader(content))
	require.NoError(t, err)

	manifest, err := target.SumsFile(context.Background())
	require.NoError(t, err)
	require.Contains(t, manifest.Checksums, "md5")
}
