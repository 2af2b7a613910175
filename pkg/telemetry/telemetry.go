// Package telemetry wires the generate and check tasks (pkg/task) up
// to tracing and metrics: OpenCensus spans around each task, optional
// exporters selected by CLI flags, and a latency sketch of per-chunk
// digest-update timing.
package telemetry

import (
	"context"
	"net/http"

	jaeger "contrib.go.opencensus.io/exporter/jaeger"
	ocprometheus "contrib.go.opencensus.io/exporter/prometheus"
	"contrib.go.opencensus.io/exporter/stackdriver"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber-go/atomic"

	"go.opencensus.io/trace"

	"github.com/umccr/cloud-checksum/pkg/util"
)

// Config selects which exporters to enable, mirroring the CLI flags
// in SPEC_FULL.md §2: --metrics-addr, --trace-jaeger-endpoint,
// --trace-stackdriver-project.
type Config struct {
	MetricsAddr          string
	JaegerEndpoint       string
	StackdriverProjectID string
}

// Telemetry holds the process-lifetime tracing and metrics state.
// Construct it with New: on a zero value only StartSpan works, since
// the latency sketch and chunk counter are nil.
type Telemetry struct {
	latency      *ddsketch.DDSketch
	chunksServed *atomic.Uint64
	registry     *prometheus.Registry
}

// New constructs a Telemetry instance, registering any exporters named
// in cfg. Returns a shutdown func that should be deferred by the
// caller.
func New(cfg Config) (*Telemetry, func(), error) {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, nil, util.StatusWrap(err, "constructing latency sketch")
	}

	t := &Telemetry{
		latency:      sketch,
		chunksServed: atomic.NewUint64(0),
		registry:     prometheus.NewRegistry(),
	}

	var shutdowns []func()

	if cfg.JaegerEndpoint != "" {
		exporter, err := jaeger.NewExporter(jaeger.Options{
			CollectorEndpoint: cfg.JaegerEndpoint,
			ServiceName:       "cloud-checksum",
		})
		if err != nil {
			return nil, nil, util.StatusWrap(err, "constructing jaeger exporter")
		}
		trace.RegisterExporter(exporter)
		shutdowns = append(shutdowns, func() {
			trace.UnregisterExporter(exporter)
			exporter.Flush()
		})
	}

	if cfg.StackdriverProjectID != "" {
		exporter, err := stackdriver.NewExporter(stackdriver.Options{
			ProjectID: cfg.StackdriverProjectID,
		})
		if err != nil {
			return nil, nil, util.StatusWrap(err, "constructing stackdriver exporter")
		}
		trace.RegisterExporter(exporter)
		shutdowns = append(shutdowns, func() {
			trace.UnregisterExporter(exporter)
			exporter.Flush()
		})
	}

	if cfg.MetricsAddr != "" {
		promExporter, err := ocprometheus.NewExporter(ocprometheus.Options{
			Registry: t.registry,
		})
		if err != nil {
			return nil, nil, util.StatusWrap(err, "constructing prometheus exporter")
		}

		router := mux.NewRouter()
		router.Handle("/metrics", promExporter)
		router.Handle("/metrics/go", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))

		server := &http.Server{Addr: cfg.MetricsAddr, Handler: router}
		go server.ListenAndServe()
		shutdowns = append(shutdowns, func() { server.Close() })
	}

	shutdown := func() {
		for _, s := range shutdowns {
			s()
		}
	}
	return t, shutdown, nil
}

// StartSpan begins an OpenCensus span for one generate or check task
// invocation.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, name)
}

// ObserveChunkLatencyNanos records one chunk's digest-update latency
// into the running quantile sketch, and bumps the chunk counter.
func (t *Telemetry) ObserveChunkLatencyNanos(nanos float64) {
	t.latency.Add(nanos)
	t.chunksServed.Add(1)
}

// ChunksServed returns the running count of digest-update chunks
// observed so far.
func (t *Telemetry) ChunksServed() uint64 {
	return t.chunksServed.Load()
}

// LatencyQuantile returns the sketch's estimate of the given quantile
// (0, 1) of chunk digest-update latency, in nanoseconds.
func (t *Telemetry) LatencyQuantile(q float64) (float64, error) {
	v, err := t.latency.GetValueAtQuantile(q)
	if err != nil {
		return 0, util.StatusWrap(err, "reading latency quantile")
	}
	return v, nil
}
