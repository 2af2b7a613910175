package sums_test

import (
	"encoding/json"
	"testing"

	"github.com/umccr/cloud-checksum/pkg/digestspec"
	"github.com/umccr/cloud-checksum/pkg/sums"

	"github.com/stretchr/testify/require"
)

func size(n uint64) *uint64 { return &n }

func TestManifestJSONRoundTrip(t *testing.T) {
	const doc = `{
		"version": "1",
		"size": 1073741824,
		"md5": {"checksum": "6c434b38867bbd608ba2f06e92ed4e43"},
		"md5-aws-104857600b": {
			"checksum": "e5727bb1cb678220f6782ff6cb927569",
			"part-checksums": [
				{"part-size": 104857600, "part-checksum": "aaaa"},
				{"part-size": 104857600, "part-checksum": "bbbb"}
			]
		},
		"some-future-field": {"anything": true}
	}`

	var m sums.SumsFile
	require.NoError(t, json.Unmarshal([]byte(doc), &m))

	require.Equal(t, "1", m.Version)
	require.Equal(t, uint64(1073741824), *m.Size)
	require.Len(t, m.Checksums, 2)
	require.Contains(t, m.Extra, "some-future-field")

	encoded, err := json.Marshal(&m)
	require.NoError(t, err)

	var roundTripped sums.SumsFile
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))
	require.Equal(t, m, roundTripped)
}

func TestManifestMergeDisjointSizes(t *testing.T) {
	a := sums.New()
	a.Size = size(10)
	require.NoError(t, a.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "aaa"}))

	b := sums.New()
	b.Size = size(20)
	require.NoError(t, b.AddChecksum(mustParse(t, "sha1"), nil, sums.Checksum{Checksum: "bbb"}))

	_, err := sums.Merge(a, b)
	require.Error(t, err)
}

func TestManifestMergeOverwritesOnCollision(t *testing.T) {
	a := sums.New()
	require.NoError(t, a.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "old"}))

	b := sums.New()
	require.NoError(t, b.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "new"}))
	require.NoError(t, b.AddChecksum(mustParse(t, "sha1"), nil, sums.Checksum{Checksum: "extra"}))

	merged, err := sums.Merge(a, b)
	require.NoError(t, err)
	require.Equal(t, "new", merged.Checksums["md5"].Checksum)
	require.Equal(t, "extra", merged.Checksums["sha1"].Checksum)
}

func TestIsSameShortCircuitsOnFirstMatch(t *testing.T) {
	a := sums.New()
	require.NoError(t, a.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "same"}))
	require.NoError(t, a.AddChecksum(mustParse(t, "sha1"), nil, sums.Checksum{Checksum: "differs-a"}))

	b := sums.New()
	require.NoError(t, b.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "same"}))
	require.NoError(t, b.AddChecksum(mustParse(t, "sha1"), nil, sums.Checksum{Checksum: "differs-b"}))

	// md5 matches even though sha1 disagrees; per spec.md §9 this is
	// specified behavior, not a bug.
	require.True(t, sums.IsSame(a, b))
}

func TestComparableIgnoresValueMismatch(t *testing.T) {
	a := sums.New()
	require.NoError(t, a.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "aaa"}))

	b := sums.New()
	require.NoError(t, b.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "different"}))

	require.True(t, sums.Comparable(a, b))
	require.False(t, sums.IsSame(a, b))
}

func TestSplitProducesOneManifestPerEntry(t *testing.T) {
	m := sums.New()
	m.Size = size(5)
	require.NoError(t, m.AddChecksum(mustParse(t, "md5"), nil, sums.Checksum{Checksum: "aaa"}))
	require.NoError(t, m.AddChecksum(mustParse(t, "sha1"), nil, sums.Checksum{Checksum: "bbb"}))

	split := m.Split()
	require.Len(t, split, 2)
	for _, s := range split {
		require.Len(t, s.Checksums, 1)
		require.Equal(t, uint64(5), *s.Size)
	}
}

func mustParse(t *testing.T, s string) digestspec.Spec {
	t.Helper()
	spec, err := digestspec.Parse(s)
	require.NoError(t, err)
	return spec
}
