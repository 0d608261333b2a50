// Package stats wraps go-metrics behind a small StatsReceiver interface
// so instrumented code never depends on the metrics library directly.
// A receiver can be scoped ("scheduler/dispatch/..."), rendered to JSON
// on demand, and swapped for a nil receiver in tests.
package stats

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
)

// StatsReceiver records counters, gauges, and latencies under
// slash-delimited hierarchical names.
type StatsReceiver interface {
	// Scope returns a receiver that prefixes every instrument name with
	// the given path elements: r.Scope("a").Counter("b") records "a/b".
	Scope(scope ...string) StatsReceiver

	// Precision returns a receiver whose Latency instruments divide
	// their nanosecond samples by the given unit when rendered.
	// Durations below 1ns are clamped to 1ns.
	Precision(time.Duration) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	Latency(name ...string) Latency

	// Remove unregisters the named instrument if present.
	Remove(name ...string)

	// Render marshals every registered instrument to JSON.
	Render(pretty bool) []byte
}

// Counter is a monotonically adjustable event count.
type Counter interface {
	Inc(int64)
	Count() int64
	Clear()
}

// Gauge holds an int64 value that can be set arbitrarily.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Latency records callsite durations into a histogram. The usual form
// is `defer stat.Latency("x_ms").Time().Stop()`.
type Latency interface {
	Time() Latency
	Stop()
	precision() time.Duration
	histogram() metrics.Histogram
}

// NewReceiver returns a StatsReceiver backed by a fresh registry,
// rendering latencies at millisecond precision.
func NewReceiver() StatsReceiver {
	return &receiver{registry: metrics.NewRegistry(), unit: time.Millisecond}
}

var defaultReceiver = NewReceiver()

// Default returns the process-default StatsReceiver.
func Default() StatsReceiver {
	return defaultReceiver
}

// NilReceiver returns a StatsReceiver that discards everything recorded
// to it, for callers that don't want instrumentation wired (tests,
// one-off tools).
func NilReceiver() StatsReceiver {
	return nilReceiver{}
}

type receiver struct {
	registry metrics.Registry
	unit     time.Duration
	scope    []string
}

func (r *receiver) Scope(scope ...string) StatsReceiver {
	return &receiver{registry: r.registry, unit: r.unit, scope: r.scoped(scope...)}
}

func (r *receiver) Precision(unit time.Duration) StatsReceiver {
	if unit < 1 {
		unit = 1
	}
	return &receiver{registry: r.registry, unit: unit, scope: r.scope}
}

func (r *receiver) Counter(name ...string) Counter {
	return r.registry.GetOrRegister(r.name(name...), metrics.NewCounter).(metrics.Counter)
}

func (r *receiver) Gauge(name ...string) Gauge {
	return r.registry.GetOrRegister(r.name(name...), metrics.NewGauge).(metrics.Gauge)
}

func (r *receiver) Latency(name ...string) Latency {
	// The registry can't lazily instantiate a type it doesn't know, so
	// the candidate latency is built eagerly and discarded on a hit.
	l := &latency{Histogram: metrics.NewHistogram(metrics.NewUniformSample(1000)), unit: r.unit}
	return r.registry.GetOrRegister(r.name(name...), l).(*latency)
}

func (r *receiver) Remove(name ...string) {
	r.registry.Unregister(r.name(name...))
}

// scoped appends path elements to the receiver's scope, scrubbing the
// separator out of each element. Instrument names are sometimes built
// from runtime strings (error names, executor ids); stripping is safer
// than rejecting them.
func (r *receiver) scoped(scope ...string) []string {
	out := make([]string, 0, len(r.scope)+len(scope))
	out = append(out, r.scope...)
	for _, s := range scope {
		out = append(out, strings.ReplaceAll(s, "/", "_"))
	}
	return out
}

func (r *receiver) name(name ...string) string {
	return strings.Join(r.scoped(name...), "/")
}

// Render marshals the registry's instruments in a flat
// "name.field": value layout; latencies expand to
// avg/count/max/min/sum plus percentiles divided by their unit.
func (r *receiver) Render(pretty bool) []byte {
	data := map[string]interface{}{}
	r.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			data[name] = m.Count()
		case metrics.Gauge:
			data[name] = m.Value()
		case *latency:
			marshalHistogram(data, name, m.histogram().Snapshot(), m.precision())
		}
	})
	var out []byte
	var err error
	if pretty {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		panic("stats: registry cannot be marshaled: " + err.Error())
	}
	return out
}

var percentiles = []float64{0.5, 0.9, 0.95, 0.99, 0.999}
var percentileLabels = []string{"p50", "p90", "p95", "p99", "p999"}

func marshalHistogram(data map[string]interface{}, name string, h metrics.Histogram, unit time.Duration) {
	f := float64(unit)
	n := int64(unit)
	data[name+".avg"] = h.Mean() / f
	data[name+".count"] = h.Count()
	data[name+".max"] = h.Max() / n
	data[name+".min"] = h.Min() / n
	data[name+".sum"] = h.Sum() / n
	for i, p := range h.Percentiles(percentiles) {
		data[name+"."+percentileLabels[i]] = p / f
	}
}

// now is swappable so tests can pin latency measurements.
var now = time.Now

// latency embeds its histogram so that it is itself a metrics.Histogram:
// the registry only keeps instruments of the go-metrics types.
type latency struct {
	metrics.Histogram
	unit  time.Duration
	start time.Time
}

func (l *latency) Time() Latency {
	l.start = now()
	return l
}

func (l *latency) Stop() {
	l.Histogram.Update(int64(now().Sub(l.start)))
}

func (l *latency) precision() time.Duration     { return l.unit }
func (l *latency) histogram() metrics.Histogram { return l.Histogram }

type nilReceiver struct{}

func (n nilReceiver) Scope(...string) StatsReceiver         { return n }
func (n nilReceiver) Precision(time.Duration) StatsReceiver { return n }
func (n nilReceiver) Counter(...string) Counter             { return metrics.NilCounter{} }
func (n nilReceiver) Gauge(...string) Gauge                 { return metrics.NilGauge{} }
func (n nilReceiver) Latency(...string) Latency             { return nilLatency{} }
func (n nilReceiver) Remove(...string)                      {}
func (n nilReceiver) Render(bool) []byte                    { return []byte("{}") }

type nilLatency struct{}

func (l nilLatency) Time() Latency              { return l }
func (nilLatency) Stop()                        {}
func (nilLatency) precision() time.Duration     { return 0 }
func (nilLatency) histogram() metrics.Histogram { return metrics.NilHistogram{} }
