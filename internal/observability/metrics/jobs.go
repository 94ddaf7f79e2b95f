// Package metrics holds the shared tag vocabulary for job metrics.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/chart-analysis-worker/internal/observability/errors"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

// Result tag values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// DefaultScope prefixes lifecycle metrics when JobMetric.Scope is empty.
const DefaultScope = "job"

// JobMetric describes one step of a job: the consumer reports "process" and "replay" under the
// job scope, the analysis handler reports its strategy under the analysis scope.
type JobMetric struct {
	Scope      string
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// ResultOf maps an error to a result tag value.
func ResultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// EmitJobLifecycle counts <scope>.transition and, when a duration is known, times
// <scope>.duration. Failed steps carry an error_class tag.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	scope := in.Scope
	if scope == "" {
		scope = DefaultScope
	}
	result := in.Result
	if result == "" {
		result = ResultOf(in.Err)
	}

	tags := map[string]string{
		"job_type":   orUnknown(in.JobType),
		"transition": in.Transition,
		"result":     result,
	}
	if result == ResultError && in.Err != nil {
		tags["error_class"] = obserrors.Classify(in.Err)
	}

	sink.Count(scope+".transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing(scope+".duration", in.Duration, maps.Clone(tags))
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
