// Package sums implements the in-memory Manifest model (spec.md §4.5,
// C5): a SumsFile binds an optional total size to a set of digest
// results keyed by canonical DigestSpec string, plus the equality,
// comparability, merge and split operations the check/merge engine
// (pkg/task) builds on.
package sums

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/umccr/cloud-checksum/pkg/digestspec"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CurrentVersion is the only manifest format version this package
// understands.
const CurrentVersion = "1"

// PartChecksum is one entry of a composite digest's per-part
// breakdown (spec.md §6 "part-checksums").
type PartChecksum struct {
	PartSize     *uint64 `json:"part-size,omitempty"`
	PartChecksum *string `json:"part-checksum,omitempty"`
}

// Checksum is the value side of a manifest's checksums map: a
// top-level encoded digest, with an optional per-part breakdown for
// composite specs.
type Checksum struct {
	Checksum      string         `json:"checksum"`
	PartChecksums []PartChecksum `json:"part-checksums,omitempty"`
}

// SumsFile is the in-memory form of a `.sums` sidecar (spec.md §3
// "Manifest (SumsFile)"). The zero value is an empty, sizeless
// manifest ready for use.
type SumsFile struct {
	Version   string
	Size      *uint64
	Checksums map[string]Checksum

	// Extra preserves top-level JSON keys this package does not
	// recognize as "version", "size", or a parseable DigestSpec, so
	// that reading and rewriting a sidecar never drops unknown data
	// (spec.md §6: "Unknown keys on the top level MUST round-trip
	// unchanged").
	Extra map[string]json.RawMessage

	// Bindings names the targets (and, where relevant, adapter
	// handles) this manifest is associated with. It is in-memory
	// only and never serialized.
	Bindings []string
}

// New returns an empty manifest at CurrentVersion.
func New() *SumsFile {
	return &SumsFile{
		Version:   CurrentVersion,
		Checksums: map[string]Checksum{},
	}
}

// AddChecksum records (or overwrites) the checksum for the given
// digest spec.
func (m *SumsFile) AddChecksum(spec digestspec.Spec, fileSize *uint64, checksum Checksum) error {
	key, err := spec.Display(fileSize)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "cannot key manifest entry: %s", err)
	}
	if m.Checksums == nil {
		m.Checksums = map[string]Checksum{}
	}
	m.Checksums[key] = checksum
	return nil
}

// SetSize sets the manifest's declared total object size.
func (m *SumsFile) SetSize(size uint64) {
	m.Size = &size
}

// sizesCompatible reports whether two optional sizes could describe
// the same object: absent on either side, or present and equal.
func sizesCompatible(a, b *uint64) bool {
	if a == nil || b == nil {
		return true
	}
	return *a == *b
}

// Merge combines two manifests per spec.md §4.5 `merge(a, b) → m`: it
// fails if both have non-empty checksum maps and their sizes differ;
// otherwise the checksum maps are unioned, with b's entries
// overwriting a's on key collision, and the size is a's if present,
// falling back to b's (`m.size = a.size ?? b.size`).
func Merge(a, b *SumsFile) (*SumsFile, error) {
	if len(a.Checksums) > 0 && len(b.Checksums) > 0 && !sizesCompatible(a.Size, b.Size) {
		return nil, status.Errorf(codes.FailedPrecondition, "cannot merge manifests of differing size (%v vs %v)", a.Size, b.Size)
	}

	m := New()
	m.Version = CurrentVersion
	if a.Size != nil {
		size := *a.Size
		m.Size = &size
	} else if b.Size != nil {
		size := *b.Size
		m.Size = &size
	}

	for k, v := range a.Checksums {
		m.Checksums[k] = v
	}
	for k, v := range b.Checksums {
		m.Checksums[k] = v
	}

	m.Extra = map[string]json.RawMessage{}
	for k, v := range a.Extra {
		m.Extra[k] = v
	}
	for k, v := range b.Extra {
		m.Extra[k] = v
	}

	m.Bindings = append(append([]string(nil), a.Bindings...), b.Bindings...)
	return m, nil
}

// IsSame implements spec.md §4.5 `is_same(a, b)`: sizes must be
// compatible, and at least one shared spec key must have an identical
// encoded top-level checksum. Per-part digests are never compared,
// since the composite top-level already encodes the part schedule.
// As specified, this is a short-circuit on the first shared key that
// matches; a mismatching *other* shared key does not disqualify the
// pair.
func IsSame(a, b *SumsFile) bool {
	if !sizesCompatible(a.Size, b.Size) {
		return false
	}
	for k, av := range a.Checksums {
		if bv, ok := b.Checksums[k]; ok && av.Checksum == bv.Checksum {
			return true
		}
	}
	return false
}

// Comparable implements spec.md §4.5 `comparable(a, b)`: sizes must be
// compatible and the two key sets must intersect, regardless of
// whether the shared values agree.
func Comparable(a, b *SumsFile) bool {
	if !sizesCompatible(a.Size, b.Size) {
		return false
	}
	for k := range a.Checksums {
		if _, ok := b.Checksums[k]; ok {
			return true
		}
	}
	return false
}

// Split implements spec.md §4.5 `split()`: one single-spec manifest
// per checksum entry, all sharing the original size and bindings.
func (m *SumsFile) Split() []*SumsFile {
	out := make([]*SumsFile, 0, len(m.Checksums))
	keys := sortedKeys(m.Checksums)
	for _, k := range keys {
		single := New()
		if m.Size != nil {
			size := *m.Size
			single.Size = &size
		}
		single.Checksums[k] = m.Checksums[k]
		single.Bindings = append([]string(nil), m.Bindings...)
		out = append(out, single)
	}
	return out
}

func sortedKeys(m map[string]Checksum) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearChecksums blanks every entry's top-level checksum, keeping the
// key set and part breakdowns intact. The check/merge engine (C6)
// calls this after converging a `comparable` group, since the merged
// manifest no longer represents a single equal value (spec.md §4.6
// step 4).
func (m *SumsFile) ClearChecksums() {
	for k, v := range m.Checksums {
		v.Checksum = ""
		m.Checksums[k] = v
	}
}

// MarshalJSON renders the manifest per spec.md §6: kebab-case field
// names, "version" and optional "size" at the top level alongside one
// key per digest spec, with unrecognized top-level keys round-tripped
// unchanged. Go's encoding/json sorts map keys when marshaling, which
// gives the deterministic ordering spec.md §3 I4 requires for free.
func (m SumsFile) MarshalJSON() ([]byte, error) {
	raw := map[string]json.RawMessage{}

	version := m.Version
	if version == "" {
		version = CurrentVersion
	}
	versionJSON, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	raw["version"] = versionJSON

	if m.Size != nil {
		sizeJSON, err := json.Marshal(*m.Size)
		if err != nil {
			return nil, err
		}
		raw["size"] = sizeJSON
	}

	for key, checksum := range m.Checksums {
		checksumJSON, err := json.Marshal(checksum)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "encoding checksum for %q: %s", key, err)
		}
		raw[key] = checksumJSON
	}

	for key, value := range m.Extra {
		raw[key] = value
	}

	return json.Marshal(raw)
}

// UnmarshalJSON parses a sidecar per spec.md §6. Every top-level key
// other than "version" and "size" is tried as a canonical DigestSpec
// string; it is decoded as a checksum entry on success, and preserved
// in Extra otherwise, in compact form (insignificant whitespace
// removed), which is also the form MarshalJSON writes it back in.
func (m *SumsFile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding manifest: %s", err)
	}

	m.Version = CurrentVersion
	m.Size = nil
	m.Checksums = map[string]Checksum{}
	m.Extra = map[string]json.RawMessage{}

	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &m.Version); err != nil {
			return status.Errorf(codes.InvalidArgument, "decoding manifest version: %s", err)
		}
		delete(raw, "version")
	}
	if v, ok := raw["size"]; ok {
		var size uint64
		if err := json.Unmarshal(v, &size); err != nil {
			return status.Errorf(codes.InvalidArgument, "decoding manifest size: %s", err)
		}
		m.Size = &size
		delete(raw, "size")
	}

	for key, value := range raw {
		if _, err := digestspec.Parse(key); err != nil {
			var compact bytes.Buffer
			if err := json.Compact(&compact, value); err != nil {
				return status.Errorf(codes.InvalidArgument, "decoding %q: %s", key, err)
			}
			m.Extra[key] = compact.Bytes()
			continue
		}
		var checksum Checksum
		if err := json.Unmarshal(value, &checksum); err != nil {
			return status.Errorf(codes.InvalidArgument, "decoding checksum for %q: %s", key, err)
		}
		m.Checksums[key] = checksum
	}
	return nil
}
