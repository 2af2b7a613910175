package checksum_test

import (
	"testing"

	"github.com/umccr/cloud-checksum/pkg/checksum"
	"github.com/umccr/cloud-checksum/pkg/digestspec"

	"github.com/stretchr/testify/require"
)

func TestStandardKnownVectors(t *testing.T) {
	for _, tc := range []struct {
		algorithm digestspec.Algorithm
		input     string
		repeat    int
		want      string
	}{
		{digestspec.MD5, "", 1, "d41d8cd98f00b204e9800998ecf8427e"},
		{digestspec.MD5, "Hello", 1, "8b1a9953c4611296a827abf8c47804d7"},
		{digestspec.SHA1, "This is a test", 1, "a54d88e06612d820bc3be72877c74f257b561b19"},
		{digestspec.SHA256, "And another test", 1, "1d1f71aecd9b2d8127e5a91fc871833fffe58c5c63aceed9f6fd0b71fe732504"},
	} {
		digest, err := checksum.NewStandard(tc.algorithm)
		require.NoError(t, err)
		for i := 0; i < tc.repeat; i++ {
			require.NoError(t, digest.Update([]byte(tc.input)))
		}
		require.Equal(t, tc.want, checksum.Encode(digest.Finalize()))
	}
}

func TestStandardResetIsIndependent(t *testing.T) {
	digest, err := checksum.NewStandard(digestspec.MD5)
	require.NoError(t, err)
	require.NoError(t, digest.Update([]byte("abc")))
	first := digest.Finalize()

	fresh := digest.Reset()
	require.NoError(t, fresh.Update([]byte("abc")))
	require.Equal(t, first, fresh.Finalize())

	// The original digest's state must not have been mutated by Reset.
	require.NoError(t, digest.Update([]byte("def")))
	require.Equal(t, "e80b5017098950fc58aad83c8c14978e", checksum.Encode(digest.Finalize()))
}

func TestStandardUnknownAlgorithm(t *testing.T) {
	_, err := checksum.NewStandard(digestspec.Algorithm("bogus"))
	require.Error(t, err)
}
