package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/umccr/cloud-checksum/pkg/digestspec"
	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/task"
	"github.com/umccr/cloud-checksum/pkg/telemetry"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type generateFlags struct {
	checksums      []string
	forceOverwrite bool
	verify         bool
}

func newGenerateCommand(root *rootFlags, runID string) *cobra.Command {
	flags := &generateFlags{}

	cmd := &cobra.Command{
		Use:   "generate TARGET",
		Short: "Compute digest specs for TARGET and write (or print) its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), root, flags, args[0], runID)
		},
	}

	cmd.Flags().StringSliceVar(&flags.checksums, "checksum", nil, "digest spec to compute (repeatable), e.g. md5, sha256-aws-8mib")
	cmd.Flags().BoolVar(&flags.forceOverwrite, "force-overwrite", false, "overwrite conflicting sidecar entries instead of refusing")
	cmd.Flags().BoolVar(&flags.verify, "verify", false, "require fresh digests to match any existing sidecar entries")
	cmd.MarkFlagRequired("checksum")

	return cmd
}

func runGenerate(ctx context.Context, root *rootFlags, flags *generateFlags, targetArg, runID string) error {
	specs := make([]digestspec.Spec, 0, len(flags.checksums))
	for _, c := range flags.checksums {
		spec, err := digestspec.Parse(c)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}

	telem, shutdown, err := newTelemetry(root)
	if err != nil {
		return err
	}
	defer shutdown()
	ctx, span := telem.StartSpan(ctx, "generate")
	defer span.End()

	log.WithField("run_id", runID).WithField("target", targetArg).WithField("specs", flags.checksums).Debug("generate starting")

	if targetArg == stdinSentinel {
		return runGenerateStdin(ctx, specs, root.channelCapacity, telem)
	}

	target, err := resolveTarget(targetArg)
	if err != nil {
		return err
	}

	fileSize, err := target.FileSize(ctx)
	if err != nil {
		return err
	}

	src, err := openForRead(ctx, target)
	if err != nil {
		return err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	gen := task.NewGenerateTask(specs, target, &fileSize, flags.forceOverwrite, flags.verify, root.channelCapacity).WithTelemetry(telem)
	manifest, err := gen.Run(ctx, src)
	if err != nil {
		return err
	}

	log.WithField("run_id", runID).WithField("bytes", fileSize).Debug("generate complete")
	return printManifest(manifest)
}

// runGenerateStdin implements SPEC_FULL.md §3's stdin generation mode:
// digests are computed with no sidecar read or write, and the
// resulting manifest is printed to stdout instead. A PartCount spec
// has no declared file size to derive part sizes from, so it fails on
// its first chunk exactly as it would against any sizeless source.
func runGenerateStdin(ctx context.Context, specs []digestspec.Spec, channelCapacity int, telem *telemetry.Telemetry) error {
	target := &stdoutOnlyTarget{}
	gen := task.NewGenerateTask(specs, target, nil, true, false, channelCapacity).WithTelemetry(telem)
	manifest, err := gen.Run(ctx, os.Stdin)
	if err != nil {
		return err
	}
	return printManifest(manifest)
}

func printManifest(manifest *sums.SumsFile) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return status.Errorf(codes.Internal, "encoding manifest: %s", err)
	}
	fmt.Println(string(data))
	return nil
}

// stdoutOnlyTarget satisfies objectsums.ObjectSums well enough for
// GenerateTask's bookkeeping in stdin mode; its sidecar operations are
// no-ops since stdin input has nowhere to write one, per spec.md §3.
type stdoutOnlyTarget struct{}

func (s *stdoutOnlyTarget) Name() string                            { return "-" }
func (s *stdoutOnlyTarget) FileSize(context.Context) (uint64, error) { return 0, nil }
func (s *stdoutOnlyTarget) SumsFile(context.Context) (*sums.SumsFile, error) {
	return nil, nil
}
func (s *stdoutOnlyTarget) WriteSumsFile(context.Context, *sums.SumsFile) error { return nil }
func (s *stdoutOnlyTarget) Read(context.Context, *objectsums.Range) (io.ReadCloser, uint64, error) {
	return nil, 0, status.Error(codes.Unimplemented, "stdin target does not support reads after generation")
}
func (s *stdoutOnlyTarget) Write(context.Context, io.Reader) error {
	return status.Error(codes.Unimplemented, "stdin target is not writable")
}
func (s *stdoutOnlyTarget) Copy(context.Context, objectsums.ObjectSums) error {
	return status.Error(codes.Unimplemented, "stdin target is not copyable")
}
