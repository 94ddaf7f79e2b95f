package statsd

import (
	"sync"
	"time"
)

// Metric is a single emission captured by Recorder.
type Metric struct {
	Kind  string // "count", "gauge" or "timing"
	Name  string
	Value float64
	Tags  map[string]string
}

// Recorder is an in-memory Sink. The admin recovery-replay command uses it to print what a pass emitted,
// and tests use it to assert on emissions.
type Recorder struct {
	mu      sync.Mutex
	metrics []Metric
}

var _ Sink = (*Recorder)(nil)

// Count implements Sink.
func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(Metric{Kind: "count", Name: name, Value: float64(value), Tags: cleanTags(nil, tags)})
}

// Gauge implements Sink.
func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(Metric{Kind: "gauge", Name: name, Value: value, Tags: cleanTags(nil, tags)})
}

// Timing implements Sink.
func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	ms := float64(value) / float64(time.Millisecond)
	r.add(Metric{Kind: "timing", Name: name, Value: ms, Tags: cleanTags(nil, tags)})
}

func (r *Recorder) add(m Metric) {
	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()
}

// Metrics returns a copy of everything recorded so far.
func (r *Recorder) Metrics() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Sum adds up every count named name whose tags include all of match.
func (r *Recorder) Sum(name string, match map[string]string) int64 {
	var total int64
	for _, m := range r.Metrics() {
		if m.Kind != "count" || m.Name != name || !tagsMatch(m.Tags, match) {
			continue
		}
		total += int64(m.Value)
	}
	return total
}

// LastGauge returns the most recent value of gauge name.
func (r *Recorder) LastGauge(name string) (float64, bool) {
	ms := r.Metrics()
	for i := len(ms) - 1; i >= 0; i-- {
		if ms[i].Kind == "gauge" && ms[i].Name == name {
			return ms[i].Value, true
		}
	}
	return 0, false
}

func tagsMatch(tags, match map[string]string) bool {
	for k, v := range match {
		if tags[k] != v {
			return false
		}
	}
	return true
}
