package task

import (
	"context"
	"io"
	"sort"

	"github.com/umccr/cloud-checksum/pkg/digestspec"
	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/sums"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// OpenForRead is how GenerateMissing obtains a fresh byte source for
// an input when it needs to compute a new digest for it. Callers
// supply this since opening a file vs. an object-store object differs
// per adapter, and an ObjectSums alone only offers ranged reads, not
// "the whole object as an io.Reader" in a uniform way across backends.
type OpenForRead func(ctx context.Context, target objectsums.ObjectSums) (io.Reader, error)

// GenerateMissing implements SPEC_FULL.md §3's `--generate-missing`
// algorithm, supplementing spec.md §6's undocumented flag: compute the
// union of digest keys present across all inputs; for every pair of
// inputs not already comparable, add (to both) the lexicographically
// first key present on at least one side but missing on the other,
// generating it via the normal generate-task pipeline, then re-check.
// This repeats until every pair is comparable or no further key can be
// added.
func GenerateMissing(ctx context.Context, inputs []objectsums.ObjectSums, open OpenForRead, channelCapacity int) error {
	manifests := make([]*sums.SumsFile, len(inputs))
	for i, in := range inputs {
		m, err := in.SumsFile(ctx)
		if err != nil {
			return status.Errorf(codes.Unavailable, "loading sidecar for %s: %s", in.Name(), err)
		}
		if m == nil {
			m = sums.New()
		}
		manifests[i] = m
	}

	for {
		keyUnion := unionKeys(manifests)
		progressed := false

		for i := range inputs {
			for j := i + 1; j < len(inputs); j++ {
				if sums.Comparable(manifests[i], manifests[j]) {
					continue
				}

				key := firstMissingSharedKey(keyUnion, manifests[i], manifests[j])
				if key == "" {
					continue
				}

				spec, err := digestspec.Parse(key)
				if err != nil {
					return status.Errorf(codes.InvalidArgument, "parsing generated-missing key %q: %s", key, err)
				}

				for _, idx := range []int{i, j} {
					if _, ok := manifests[idx].Checksums[key]; ok {
						continue
					}
					if err := generateOneSpec(ctx, inputs[idx], manifests[idx], spec, open, channelCapacity); err != nil {
						return err
					}
				}
				progressed = true
			}
		}

		if !progressed {
			return nil
		}
	}
}

func unionKeys(manifests []*sums.SumsFile) []string {
	seen := map[string]struct{}{}
	for _, m := range manifests {
		for k := range m.Checksums {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// firstMissingSharedKey returns the lexicographically first key from
// keyUnion that is present on at least one of a, b but missing on the
// other, or "" if a and b already agree on every key in the union.
func firstMissingSharedKey(keyUnion []string, a, b *sums.SumsFile) string {
	for _, k := range keyUnion {
		_, inA := a.Checksums[k]
		_, inB := b.Checksums[k]
		if inA != inB {
			return k
		}
	}
	return ""
}

// generateOneSpec computes spec's digest for target through a
// single-spec GenerateTask, whose Run merges the new entry into
// target's sidecar and writes it, and also folds the entry into
// manifest in place so the caller's next pass sees it.
func generateOneSpec(ctx context.Context, target objectsums.ObjectSums, manifest *sums.SumsFile, spec digestspec.Spec, open OpenForRead, channelCapacity int) error {
	fileSize, err := target.FileSize(ctx)
	if err != nil {
		return status.Errorf(codes.Unavailable, "getting size of %s: %s", target.Name(), err)
	}

	src, err := open(ctx, target)
	if err != nil {
		return status.Errorf(codes.Unavailable, "opening %s: %s", target.Name(), err)
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	gen := NewGenerateTask([]digestspec.Spec{spec}, target, &fileSize, true, false, channelCapacity)
	computed, err := gen.Run(ctx, src)
	if err != nil {
		return err
	}

	for k, v := range computed.Checksums {
		manifest.Checksums[k] = v
	}
	if manifest.Size == nil {
		manifest.SetSize(fileSize)
	}
	return nil
}
