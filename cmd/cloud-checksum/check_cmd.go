package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/umccr/cloud-checksum/pkg/objectsums"
	"github.com/umccr/cloud-checksum/pkg/task"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type checkFlags struct {
	groupBy         string
	update          bool
	generateMissing bool
}

func newCheckCommand(root *rootFlags, runID string) *cobra.Command {
	flags := &checkFlags{}

	cmd := &cobra.Command{
		Use:   "check TARGET...",
		Short: "Group objects by shared-digest equality or comparability",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), root, flags, args, runID)
		},
	}

	cmd.Flags().StringVar(&flags.groupBy, "group-by", "equality", `grouping mode: "equality" or "comparability"`)
	cmd.Flags().BoolVar(&flags.update, "update", false, "write merged manifests back to each group's members")
	cmd.Flags().BoolVar(&flags.generateMissing, "generate-missing", false,
		"before grouping, compute whatever digests would make otherwise-incomparable inputs comparable")

	return cmd
}

func runCheck(ctx context.Context, root *rootFlags, flags *checkFlags, targetArgs []string, runID string) error {
	groupBy, err := parseGroupBy(flags.groupBy)
	if err != nil {
		return err
	}

	targets := make([]objectsums.ObjectSums, 0, len(targetArgs))
	for _, arg := range targetArgs {
		target, err := resolveTarget(arg)
		if err != nil {
			return err
		}
		targets = append(targets, target)
	}

	telem, shutdown, err := newTelemetry(root)
	if err != nil {
		return err
	}
	defer shutdown()
	ctx, span := telem.StartSpan(ctx, "check")
	defer span.End()

	log.WithField("run_id", runID).WithField("targets", targetArgs).Debug("check starting")

	if flags.generateMissing {
		if err := task.GenerateMissing(ctx, targets, openForRead, root.channelCapacity); err != nil {
			return err
		}
	}

	check := task.NewCheckTask(targets, groupBy, flags.update)
	groups, err := check.Run(ctx)
	if err != nil {
		return err
	}

	log.WithField("run_id", runID).WithField("groups", len(groups)).Debug("check complete")
	return printGroups(groups)
}

func parseGroupBy(s string) (task.GroupBy, error) {
	switch s {
	case "equality":
		return task.Equality, nil
	case "comparability":
		return task.Comparability, nil
	default:
		return 0, status.Errorf(codes.InvalidArgument, `unknown --group-by value %q, want "equality" or "comparability"`, s)
	}
}

func printGroups(groups []task.Group) error {
	type groupOutput struct {
		Names    []string    `json:"names"`
		Manifest interface{} `json:"manifest"`
	}
	out := make([]groupOutput, len(groups))
	for i, g := range groups {
		out[i] = groupOutput{Names: g.Names, Manifest: g.Manifest}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return status.Errorf(codes.Internal, "encoding groups: %s", err)
	}
	fmt.Println(string(data))
	return nil
}
