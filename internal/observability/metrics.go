// Package observability provides OTel metric instruments for the live-edit
// engine and the Prometheus scrape endpoint that exposes them.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEditsTotal       = "liveedit.edits.total"
	metricEditDuration     = "liveedit.edit.duration.seconds"
	metricBlockedFunctions = "liveedit.blocked.functions.total"
	metricPatchedFunctions = "liveedit.patched.functions.total"
	metricDiffRegions      = "liveedit.diff.regions"

	attrScript = "script"
	attrStatus = "status"
)

// Edit outcome values for the status attribute.
const (
	StatusCommitted = "committed"
	StatusNoChange  = "no_change"
	StatusBlocked   = "blocked"
	StatusCheckOnly = "check_only"
	StatusError     = "error"
)

// durationBucketBoundaries covers 0.1ms to 10s: an edit is a handful of
// in-memory passes plus one compile of the new source.
var durationBucketBoundaries = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// regionBucketBoundaries buckets the change-region count of one edit.
var regionBucketBoundaries = []float64{1, 2, 5, 10, 25, 50, 100, 250}

// EditMetrics holds the OTel instruments for live-edit attempts.
// A nil *EditMetrics is valid and records nothing.
type EditMetrics struct {
	editsTotal       metric.Int64Counter
	editDuration     metric.Float64Histogram
	blockedFunctions metric.Int64Counter
	patchedFunctions metric.Int64Counter
	diffRegions      metric.Float64Histogram
}

// NewEditMetrics creates the edit instruments from the given meter.
func NewEditMetrics(mt metric.Meter) (*EditMetrics, error) {
	b := newMetricBuilder(mt)

	em := &EditMetrics{
		editsTotal:       b.counter(metricEditsTotal, "Total number of live-edit attempts", "{edit}"),
		editDuration:     b.histogram(metricEditDuration, "Live-edit duration in seconds", "s", durationBucketBoundaries...),
		blockedFunctions: b.counter(metricBlockedFunctions, "Functions found blocked by activations", "{function}"),
		patchedFunctions: b.counter(metricPatchedFunctions, "Functions whose code was swapped", "{function}"),
		diffRegions:      b.histogram(metricDiffRegions, "Change regions per edit", "{region}", regionBucketBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return em, nil
}

// RecordEdit records one completed edit attempt.
func (em *EditMetrics) RecordEdit(ctx context.Context, scriptName, status string, duration time.Duration, regions, patched, blocked int) {
	if em == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrScript, scriptName),
		attribute.String(attrStatus, status),
	)

	em.editsTotal.Add(ctx, 1, attrs)
	em.editDuration.Record(ctx, duration.Seconds(), attrs)
	em.diffRegions.Record(ctx, float64(regions), attrs)

	scriptAttr := metric.WithAttributes(attribute.String(attrScript, scriptName))

	if patched > 0 {
		em.patchedFunctions.Add(ctx, int64(patched), scriptAttr)
	}

	if blocked > 0 {
		em.blockedFunctions.Add(ctx, int64(blocked), scriptAttr)
	}
}
