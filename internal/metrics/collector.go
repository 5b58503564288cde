// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for notirun. It outputs text/plain in Prometheus exposition format
// without requiring the heavy prometheus/client_golang dependency.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector the loop reports into.
var Collector = NewMetricsCollector()

// MetricsCollector holds every registered series.
type MetricsCollector struct {
	counters   registry[*Counter]
	gauges     registry[*Gauge]
	histograms registry[*Histogram]
	startTime  time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has existed.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// desc names one series: metric name, help text and a preformatted label set
// such as `kind="cat"`.
type desc struct {
	name   string
	help   string
	labels string
}

func (d desc) key() string { return d.name + "{" + d.labels + "}" }

// series renders name{labels}, or the bare name when there are no labels.
func (d desc) series(suffix string, extra ...string) string {
	labels := d.labels
	for _, l := range extra {
		if labels != "" {
			labels += ","
		}
		labels += l
	}
	if labels == "" {
		return d.name + suffix
	}
	return d.name + suffix + "{" + labels + "}"
}

// registry is a get-or-create map of series of one kind.
type registry[T any] struct {
	mu     sync.Mutex
	series map[string]T
}

func (r *registry[T]) getOrCreate(key string, create func() T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.series[key]; ok {
		return v
	}
	if r.series == nil {
		r.series = make(map[string]T)
	}
	v := create()
	r.series[key] = v
	return v
}

// sorted returns the series ordered by key so output is stable.
func (r *registry[T]) sorted() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = r.series[k]
	}
	return out
}

// Counter only goes up.
type Counter struct {
	desc
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge holds the last value set.
type Gauge struct {
	desc
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative upper-bound buckets.
type Histogram struct {
	desc
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// --- Registration ---

// Counter returns the counter for name and labels, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	d := desc{name, help, labels}
	return c.counters.getOrCreate(d.key(), func() *Counter { return &Counter{desc: d} })
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	d := desc{name, help, labels}
	return c.gauges.getOrCreate(d.key(), func() *Gauge { return &Gauge{desc: d} })
}

// Histogram returns the histogram for name and labels. bounds are only used
// the first time the series is created.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	d := desc{name, help, labels}
	return c.histograms.getOrCreate(d.key(), func() *Histogram {
		b := append([]float64(nil), bounds...)
		sort.Float64s(b)
		return &Histogram{desc: d, bounds: b, counts: make([]int64, len(b))}
	})
}

// --- Exposition ---

// Handler serves WriteText over HTTP.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteText(w)
	}
}

// WriteText renders every series in exposition format, sorted by name and
// labels. HELP and TYPE are written once per metric name.
func (c *MetricsCollector) WriteText(w io.Writer) {
	tw := &textWriter{w: w, seen: make(map[string]bool)}

	tw.header("notirun_uptime_seconds", "Time since start in seconds", "gauge")
	fmt.Fprintf(w, "notirun_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	for _, ctr := range c.counters.sorted() {
		tw.header(ctr.name, ctr.help, "counter")
		fmt.Fprintf(w, "%s %d\n", ctr.series(""), ctr.Value())
	}
	for _, g := range c.gauges.sorted() {
		tw.header(g.name, g.help, "gauge")
		fmt.Fprintf(w, "%s %d\n", g.series(""), g.Value())
	}
	for _, h := range c.histograms.sorted() {
		tw.header(h.name, h.help, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			fmt.Fprintf(w, "%s %d\n", h.series("_bucket", `le="`+formatBound(le)+`"`), h.counts[i])
		}
		fmt.Fprintf(w, "%s %d\n", h.series("_count"), h.count)
		fmt.Fprintf(w, "%s %f\n", h.series("_sum"), h.sum)
		h.mu.Unlock()
	}
}

type textWriter struct {
	w    io.Writer
	seen map[string]bool
}

func (t *textWriter) header(name, help, kind string) {
	if t.seen[name] {
		return
	}
	t.seen[name] = true
	fmt.Fprintf(t.w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(le, 'g', -1, 64)
}

// Serve exposes Collector at /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// --- Series reported by the control loop ---

var (
	RunsTotal     = Collector.Counter("notirun_runs_total", "Total command runs", "")
	RunFailures   = Collector.Counter("notirun_run_failures_total", "Command runs that could not be started", "")
	SendsTotal    = Collector.Counter("notirun_sends_total", "Messages delivered to the backend", "")
	SendFailures  = Collector.Counter("notirun_send_failures_total", "Failed delivery attempts", "")
	AwaitingReply = Collector.Gauge("notirun_awaiting_reply", "1 while waiting for an operator reply", "")
	LastExitCode  = Collector.Gauge("notirun_last_exit_code", "Exit code of the most recent run", "")

	CommandDuration = Collector.Histogram("notirun_command_duration_seconds", "Command wall-clock time in seconds", "",
		[]float64{1, 10, 60, 300, 1800, 3600, 4 * 3600, math.Inf(1)})
)

// RepliesTotal returns the reply counter for one command kind.
func RepliesTotal(kind string) *Counter {
	return Collector.Counter("notirun_replies_total", "Operator replies by command", `kind="`+kind+`"`)
}
