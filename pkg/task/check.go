// Package task implements the generate task (spec.md §4.4, C4) and
// the check/merge engine (spec.md §4.6, C6): the two pipelines that
// bind the digest primitives, reader, manifest model and object-sums
// adapter together into the system's two CLI-level operations.
package task

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"sort"

	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/sums"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GroupBy selects the relation the check task groups inputs under,
// per spec.md §6's `--group-by equality|comparability` flag.
type GroupBy int

const (
	// Equality groups manifests that are is_same (spec.md §4.5).
	Equality GroupBy = iota
	// Comparability groups manifests that merely share a spec key.
	Comparability
)

// Group is one converged manifest together with the names bound to it.
type Group struct {
	Manifest *sums.SumsFile
	Names    []string
}

// CheckTask runs the fixed-point merge engine (C6) over a set of
// object-sums-backed inputs.
type CheckTask struct {
	inputs  []objectsums.ObjectSums
	groupBy GroupBy
	update  bool
}

// NewCheckTask constructs a CheckTask over inputs, grouping by groupBy.
// When update is true, Run writes each resulting group's merged
// manifest back to every one of its member inputs.
func NewCheckTask(inputs []objectsums.ObjectSums, groupBy GroupBy, update bool) *CheckTask {
	return &CheckTask{inputs: inputs, groupBy: groupBy, update: update}
}

// entry pairs a manifest with the object-sums inputs it came from
// (one at first, more as entries merge), so Run can write merged
// results back to every original member after convergence.
type entry struct {
	manifest *sums.SumsFile
	sources  []objectsums.ObjectSums
}

// Run loads each input's manifest (synthesizing an empty one bound to
// its name if no sidecar exists, per spec.md §7), then merges under
// the fixed-point algorithm of spec.md §4.6, finally writing back via
// each input's WriteSumsFile when update is set.
func (t *CheckTask) Run(ctx context.Context) ([]Group, error) {
	entries := make([]entry, 0, len(t.inputs))
	for _, in := range t.inputs {
		manifest, err := in.SumsFile(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "loading sidecar for %s: %s", in.Name(), err)
		}
		if manifest == nil {
			manifest = sums.New()
			size, err := in.FileSize(ctx)
			if err == nil {
				manifest.SetSize(size)
			}
			manifest.Bindings = []string{in.Name()}
		}
		entries = append(entries, entry{manifest: manifest, sources: []objectsums.ObjectSums{in}})
	}

	var compare func(a, b *sums.SumsFile) bool
	switch t.groupBy {
	case Equality:
		compare = sums.IsSame
	case Comparability:
		compare = sums.Comparable
	default:
		return nil, status.Error(codes.Internal, "unknown group-by relation")
	}

	converged, err := fixedPointMerge(entries, compare)
	if err != nil {
		return nil, err
	}

	if t.groupBy == Comparability {
		for _, e := range converged {
			e.manifest.ClearChecksums()
		}
	}

	groups := make([]Group, 0, len(converged))
	for _, e := range converged {
		names := make([]string, 0, len(e.sources))
		for _, src := range e.sources {
			names = append(names, src.Name())
		}
		groups = append(groups, Group{Manifest: e.manifest, Names: names})

		if t.update {
			for _, src := range e.sources {
				if err := src.WriteSumsFile(ctx, e.manifest); err != nil {
					return nil, status.Errorf(codes.Unavailable, "writing back merged sidecar for %s: %s", src.Name(), err)
				}
			}
		}
	}
	return groups, nil
}

// fixedPointMerge implements spec.md §4.6's convergence loop: pop
// entries one at a time, try to fold each into any remaining entry
// under compare, park the rest for the next pass, and stop once a
// full pass produces no merges (detected via a state hash, since an
// unchanged list length alone cannot distinguish "no merges happened"
// from "every entry merged into exactly one other").
func fixedPointMerge(entries []entry, compare func(a, b *sums.SumsFile) bool) ([]entry, error) {
	sortEntries(entries)
	state, err := hashEntries(entries)
	if err != nil {
		return nil, err
	}
	prevState := state + 1

	for prevState != state {
		reprocess := make([]entry, 0, len(entries))

	outer:
		for len(entries) > 0 {
			last := len(entries) - 1
			a := entries[last]
			entries = entries[:last]

			for i := range entries {
				if compare(a.manifest, entries[i].manifest) {
					merged, err := sums.Merge(entries[i].manifest, a.manifest)
					if err != nil {
						return nil, err
					}
					entries[i].manifest = merged
					entries[i].sources = append(entries[i].sources, a.sources...)
					continue outer
				}
			}
			reprocess = append(reprocess, a)
		}

		entries = reprocess
		sortEntries(entries)

		prevState = state
		state, err = hashEntries(entries)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// sortEntries gives the merge loop a deterministic processing order,
// per spec.md §4.6's "stable lexicographic ordering by the first
// binding name" tie-break.
func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return firstName(entries[i]) < firstName(entries[j])
	})
}

func firstName(e entry) string {
	if len(e.sources) == 0 {
		return ""
	}
	return e.sources[0].Name()
}

// hashEntries computes a hash of the entries' serialized manifests, used
// as the fixed-point algorithm's convergence signal (spec.md §9: "the
// convergence loop uses a state hash rather than an equality
// comparison over lists").
func hashEntries(entries []entry) (uint64, error) {
	h := sha256.New()
	for _, e := range entries {
		data, err := json.Marshal(e.manifest)
		if err != nil {
			return 0, status.Errorf(codes.InvalidArgument, "hashing check state: %s", err)
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	var v uint64
	for i := 0; i < 8 && i < len(sum); i++ {
		v = v<<8 | uint64(sum[i])
	}
	return v, nil
}
