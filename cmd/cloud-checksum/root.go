package main

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/umccr/cloud-checksum/pkg/telemetry"
)

// rootFlags holds the ambient flags shared by every subcommand, bound
// via pflag the way the rest of the retrieval pack's cobra-based CLIs
// (azure-storage-azcopy, rclone) bind global flags on the root command
// and read them back in PersistentPreRun.
type rootFlags struct {
	channelCapacity      int
	metricsAddr          string
	traceJaegerEndpoint  string
	traceStackdriverProj string
	verbose              bool
}

const defaultChannelCapacity = 16

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	runID := uuid.New().String()

	root := &cobra.Command{
		Use:   "cloud-checksum",
		Short: "Generate and check digest manifests for files and object-store objects",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.verbose {
				log.SetLevel(logrusDebugLevel())
			}
			log.WithField("run_id", runID).Debug("starting")
		},
	}

	pf := root.PersistentFlags()
	pf.IntVar(&flags.channelCapacity, "channel-capacity", defaultChannelCapacity,
		"number of buffered chunks each digest consumer may lag the reader by")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, if set")
	pf.StringVar(&flags.traceJaegerEndpoint, "trace-jaeger-endpoint", "", "Jaeger collector endpoint, if set")
	pf.StringVar(&flags.traceStackdriverProj, "trace-stackdriver-project", "", "Stackdriver project ID, if set")
	pf.BoolVar(&flags.verbose, "verbose", false, "enable verbose diagnostic logging")

	bindChannelCapacityEnv(pf)

	root.AddCommand(newGenerateCommand(flags, runID))
	root.AddCommand(newCheckCommand(flags, runID))

	return root
}

// bindChannelCapacityEnv implements SPEC_FULL.md §1.3's environment
// fallback: CLOUD_CHECKSUM_CHANNEL_CAPACITY, consulted only when the
// flag is left at its default.
func bindChannelCapacityEnv(pf *pflag.FlagSet) {
	env, ok := lookupEnv("CLOUD_CHECKSUM_CHANNEL_CAPACITY")
	if !ok {
		return
	}
	n, err := strconv.Atoi(env)
	if err != nil || n <= 0 {
		return
	}
	if f := pf.Lookup("channel-capacity"); f != nil && !f.Changed {
		_ = pf.Set("channel-capacity", env)
	}
}

func newTelemetry(flags *rootFlags) (*telemetry.Telemetry, func(), error) {
	return telemetry.New(telemetry.Config{
		MetricsAddr:          flags.metricsAddr,
		JaegerEndpoint:       flags.traceJaegerEndpoint,
		StackdriverProjectID: flags.traceStackdriverProj,
	})
}
