package task

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/umccr/cloud-checksum/pkg/checksum"
	"github.com/umccr/cloud-checksum/pkg/digestspec"
	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/reader"
	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/telemetry"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// digestState is the uniform surface generate uses over both a plain
// Standard (C1) and a Composite (C2) reducer.
type digestState interface {
	Update(chunk []byte) error
}

// GenerateTask computes a set of digest specs over one object, then
// assembles and persists the resulting manifest (spec.md §4.4, C4).
type GenerateTask struct {
	specs           []digestspec.Spec
	target          objectsums.ObjectSums
	fileSize        *uint64
	forceOverwrite  bool
	verify          bool
	channelCapacity int
	telem           *telemetry.Telemetry
}

// NewGenerateTask constructs a GenerateTask. fileSize may be nil if
// unknown ahead of time (e.g. stdin); it is discovered from the
// reader's byte count if so, but any spec using a PartCount schedule
// then fails as soon as its first chunk arrives, per spec.md §4.2/§7.
func NewGenerateTask(specs []digestspec.Spec, target objectsums.ObjectSums, fileSize *uint64, forceOverwrite, verify bool, channelCapacity int) *GenerateTask {
	return &GenerateTask{
		specs:           specs,
		target:          target,
		fileSize:        fileSize,
		forceOverwrite:  forceOverwrite,
		verify:          verify,
		channelCapacity: channelCapacity,
	}
}

// WithTelemetry attaches a Telemetry sink that Run feeds a latency
// sample into for every chunk absorbed by every spec's digest state
// (SPEC_FULL.md §2's per-chunk digest-update sketch). Passing a nil
// telem or omitting this call leaves latency observation disabled.
func (t *GenerateTask) WithTelemetry(telem *telemetry.Telemetry) *GenerateTask {
	t.telem = telem
	return t
}

// Run drives the full generate pipeline of spec.md §4.4: construct one
// digest state per spec, subscribe each to a shared reader, drive the
// read to completion concurrently with all digest updates, finalize,
// assemble a manifest, optionally verify against an existing sidecar,
// and write it back.
func (t *GenerateTask) Run(ctx context.Context, src io.Reader) (*sums.SumsFile, error) {
	type specState struct {
		spec  digestspec.Spec
		state digestState
		sub   <-chan reader.Chunk
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := reader.New(src, reader.DefaultChunkSize, t.channelCapacity)

	states := make([]*specState, 0, len(t.specs))
	for _, spec := range t.specs {
		var state digestState
		var err error
		if spec.IsComposite() {
			state, err = checksum.NewComposite(spec, t.fileSize)
		} else {
			state, err = checksum.NewStandard(spec.Base)
		}
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "constructing digest state for %s: %s", spec.Base, err)
		}

		sub, err := r.Subscribe()
		if err != nil {
			return nil, err
		}
		states = append(states, &specState{spec: spec, state: state, sub: sub})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(states))
	for i, s := range states {
		wg.Add(1)
		go func(i int, s *specState) {
			defer wg.Done()
			for chunk := range s.sub {
				if chunk.Err != nil {
					errs[i] = chunk.Err
					cancel()
					return
				}
				start := time.Now()
				err := s.state.Update(chunk.Data)
				if t.telem != nil {
					t.telem.ObserveChunkLatencyNanos(float64(time.Since(start).Nanoseconds()))
				}
				if err != nil {
					errs[i] = err
					cancel()
					return
				}
			}
		}(i, s)
	}

	total, runErr := r.Run(ctx)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, status.Errorf(codes.Aborted, "computing digest for %s: %s", t.target.Name(), err)
		}
	}
	if runErr != nil {
		return nil, status.Errorf(codes.Unavailable, "reading %s: %s", t.target.Name(), runErr)
	}

	effectiveSize := total
	if t.fileSize != nil {
		effectiveSize = *t.fileSize
	}

	manifest := sums.New()
	manifest.SetSize(effectiveSize)
	manifest.Bindings = []string{t.target.Name()}

	for _, s := range states {
		keySpec, checksumValue, err := finalizeState(s.spec, s.state)
		if err != nil {
			return nil, err
		}
		if err := manifest.AddChecksum(keySpec, &effectiveSize, checksumValue); err != nil {
			return nil, err
		}
	}

	if t.verify {
		if err := t.verifyAgainstExisting(ctx, manifest); err != nil {
			return nil, err
		}
	}

	if err := t.writeManifest(ctx, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// finalizeState finalizes either a Standard or Composite state and
// renders it into the manifest's Checksum shape, including the
// per-part breakdown for composite specs (spec.md §3 I2). It returns
// the spec to key the manifest entry with: for a Composite, that is
// its normalized spec (reflecting the canonical part schedule
// computed during Finalize), not the originally-declared one.
func finalizeState(spec digestspec.Spec, state digestState) (digestspec.Spec, sums.Checksum, error) {
	switch s := state.(type) {
	case *checksum.Standard:
		digest := s.Finalize()
		return spec, sums.Checksum{Checksum: checksum.Encode(digest)}, nil
	case *checksum.Composite:
		digest, err := s.Finalize()
		if err != nil {
			return spec, sums.Checksum{}, status.Errorf(codes.InvalidArgument, "finalizing composite digest for %s: %s", spec.Base, err)
		}
		parts := make([]sums.PartChecksum, 0, len(s.PartDigests()))
		for _, pd := range s.PartDigests() {
			length := pd.Length
			encoded := checksum.Encode(pd.Digest)
			parts = append(parts, sums.PartChecksum{PartSize: &length, PartChecksum: &encoded})
		}
		return s.Spec(), sums.Checksum{Checksum: checksum.Encode(digest), PartChecksums: parts}, nil
	default:
		return spec, sums.Checksum{}, status.Error(codes.Internal, "unknown digest state type")
	}
}

// verifyAgainstExisting implements spec.md SPEC_FULL §3's
// overwrite/verify semantics: every spec present in both the fresh
// computation and an existing sidecar must match exactly.
func (t *GenerateTask) verifyAgainstExisting(ctx context.Context, fresh *sums.SumsFile) error {
	existing, err := t.target.SumsFile(ctx)
	if err != nil {
		return status.Errorf(codes.Unavailable, "loading existing sidecar for verification: %s", err)
	}
	if existing == nil {
		return nil
	}
	for key, freshChecksum := range fresh.Checksums {
		if existingChecksum, ok := existing.Checksums[key]; ok {
			if existingChecksum.Checksum != freshChecksum.Checksum {
				return status.Errorf(codes.FailedPrecondition, "verification mismatch for %s on %s: existing %s, computed %s", key, t.target.Name(), existingChecksum.Checksum, freshChecksum.Checksum)
			}
		}
	}
	return nil
}

// writeManifest implements spec.md §4.4 step 5: without
// forceOverwrite, refuse to clobber an existing sidecar whose
// overlapping keys conflict with the freshly computed ones;
// non-overlapping keys are merged in.
func (t *GenerateTask) writeManifest(ctx context.Context, fresh *sums.SumsFile) error {
	existing, err := t.target.SumsFile(ctx)
	if err != nil {
		return status.Errorf(codes.Unavailable, "loading existing sidecar before write: %s", err)
	}
	if existing == nil {
		return t.target.WriteSumsFile(ctx, fresh)
	}

	if !t.forceOverwrite {
		for key, freshChecksum := range fresh.Checksums {
			if existingChecksum, ok := existing.Checksums[key]; ok && existingChecksum.Checksum != freshChecksum.Checksum {
				return status.Errorf(codes.FailedPrecondition, "refusing to overwrite conflicting checksum for %s on %s", key, t.target.Name())
			}
		}
	}

	merged, err := sums.Merge(existing, fresh)
	if err != nil {
		return status.Errorf(codes.FailedPrecondition, "merging with existing sidecar for %s: %s", t.target.Name(), err)
	}
	return t.target.WriteSumsFile(ctx, merged)
}
