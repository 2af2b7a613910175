package checksum_test

import (
	"testing"

	"github.com/umccr/cloud-checksum/pkg/checksum"
	"github.com/umccr/cloud-checksum/pkg/digestspec"

	"github.com/stretchr/testify/require"
)

func mustSpec(t *testing.T, s string) digestspec.Spec {
	t.Helper()
	spec, err := digestspec.Parse(s)
	require.NoError(t, err)
	return spec
}

func feedInChunks(t *testing.T, c *checksum.Composite, data []byte, chunkSize int) {
	t.Helper()
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		require.NoError(t, c.Update(data[:n]))
		data = data[n:]
	}
}

func TestCompositeAWSEtagWholeGigabyte(t *testing.T) {
	size := uint64(1073741824)
	spec := mustSpec(t, "md5-aws-1gib")

	c, err := checksum.NewComposite(spec, &size)
	require.NoError(t, err)

	data := make([]byte, size)
	feedInChunks(t, c, data, 1<<20)

	digest, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, "6c434b38867bbd608ba2f06e92ed4e43", checksum.Encode(digest))
	require.Equal(t, []uint64{1073741824}, c.NormalizedSizes())

	display, err := c.Spec().Display(c.FileSize())
	require.NoError(t, err)
	require.Equal(t, "md5-aws-1073741824b", display)
}

func TestCompositeAWSEtag100MiBParts(t *testing.T) {
	size := uint64(1073741824)
	spec := mustSpec(t, "md5-aws-100mib")

	c, err := checksum.NewComposite(spec, &size)
	require.NoError(t, err)

	data := make([]byte, size)
	feedInChunks(t, c, data, 1<<20)

	digest, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, "e5727bb1cb678220f6782ff6cb927569", checksum.Encode(digest))
}

func TestCompositeAWSEtagSHA256_100MiBParts(t *testing.T) {
	size := uint64(1073741824)
	spec := mustSpec(t, "sha256-aws-100mib")

	c, err := checksum.NewComposite(spec, &size)
	require.NoError(t, err)

	data := make([]byte, size)
	feedInChunks(t, c, data, 1<<20)

	digest, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, "a9ed6c4b6aadf887f90a3d483b5c5b79bc08075af2a1718e3e15c63b9904ebf7", checksum.Encode(digest))
}

func TestCompositeAWSEtagPartCount(t *testing.T) {
	size := uint64(1073741824)
	spec := mustSpec(t, "md5-aws-10")

	c, err := checksum.NewComposite(spec, &size)
	require.NoError(t, err)

	data := make([]byte, size)
	feedInChunks(t, c, data, 1<<20)

	digest, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, "9a9666a5c313c53fbc3a3ea1d43cc981", checksum.Encode(digest))
}

// TestCompositeNormalizeSchedule feeds each case's total length of
// zero bytes through the composite engine and checks the
// normalized schedule Finalize produces against the worked examples.
func TestCompositeNormalizeSchedule(t *testing.T) {
	const p = 214748365
	const twoP = 429496730

	for _, tc := range []struct {
		name     string
		declared []uint64
		total    uint64
		want     []uint64
	}{
		{"exact tiling collapses to one part", []uint64{p, p, p, p, p}, 1073741824, []uint64{p}},
		{"already-normalized short tail collapses", []uint64{p, p, p, p, 214748364}, 1073741824, []uint64{p}},
		{"slightly larger declared final part still collapses", []uint64{p, p, p, p, 214748366}, 1073741824, []uint64{p}},
		{"larger observed tail is kept distinct", []uint64{p, p, p, p, 214748367}, 1073741826, []uint64{p, p, p, p, 214748366}},
		{"mixed schedule with growing final part", []uint64{p, p, twoP, p, 600000000}, 1288590200, []uint64{p, p, twoP, p, 214848375}},
		{"exactly tiling declared list drops its smaller final part", []uint64{p, p, twoP, 214748364}, 1073741824, []uint64{p, p, twoP}},
		{"short declared list, one byte over exact tiling", []uint64{p, p, twoP, 214748364}, 1073741825, []uint64{p, p, twoP, 214748364}},
		{"two elements collapse to one", []uint64{p, p, twoP}, 644245094, []uint64{p}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			spec := digestspec.Spec{
				Base:      digestspec.MD5,
				Composite: true,
				Parts:     digestspec.PartMode{Kind: digestspec.PartSizes, Sizes: tc.declared},
			}
			c, err := checksum.NewComposite(spec, &tc.total)
			require.NoError(t, err)

			data := make([]byte, tc.total)
			feedInChunks(t, c, data, 1<<20)

			_, err = c.Finalize()
			require.NoError(t, err)
			require.Equal(t, tc.want, c.NormalizedSizes())
		})
	}
}

func TestCompositeFinalizeIsIdempotent(t *testing.T) {
	size := uint64(10)
	spec := mustSpec(t, "md5-aws-5")

	c, err := checksum.NewComposite(spec, &size)
	require.NoError(t, err)

	require.NoError(t, c.Update(make([]byte, 10)))

	first, err := c.Finalize()
	require.NoError(t, err)
	second, err := c.Finalize()
	require.NoError(t, err)
	require.Equal(t, first, second)
}
