// Package metrics exposes the forecasting core's operational counters in
// Prometheus text format. Counters are process-local; aggregation is the
// scraper's job.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	forecastsCompleted   atomic.Int64
	forecastsFailed      atomic.Int64
	forecastsShortInput  atomic.Int64
	cacheHits            atomic.Int64
	cacheMisses          atomic.Int64
	extractionsCompleted atomic.Int64
	extractionsFailed    atomic.Int64
	qualityViolations    atomic.Int64
	evaluationsCompleted atomic.Int64
	evaluationsFailed    atomic.Int64
)

func ForecastCompleted(insufficientHistory bool) {
	forecastsCompleted.Add(1)
	if insufficientHistory {
		forecastsShortInput.Add(1)
	}
}

func ForecastFailed() { forecastsFailed.Add(1) }

func CacheHit()  { cacheHits.Add(1) }
func CacheMiss() { cacheMisses.Add(1) }

func ExtractionCompleted() { extractionsCompleted.Add(1) }
func ExtractionFailed()    { extractionsFailed.Add(1) }

func QualityViolations(n int) { qualityViolations.Add(int64(n)) }

func EvaluationCompleted() { evaluationsCompleted.Add(1) }
func EvaluationFailed()    { evaluationsFailed.Add(1) }

// Handler serves the scrape endpoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	WritePrometheus(w)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeCounter(w, "neurocast_forecasts_completed_total", "Forecasts served since process start.", forecastsCompleted.Load())
	writeCounter(w, "neurocast_forecasts_failed_total", "Forecast requests that ended in an error.", forecastsFailed.Load())
	writeCounter(w, "neurocast_forecasts_short_history_total", "Forecasts served from fewer visits than the trend minimum.", forecastsShortInput.Load())

	writeCounter(w, "neurocast_feature_cache_hits_total", "Feature reads served from a committed record.", cacheHits.Load())
	writeCounter(w, "neurocast_feature_cache_misses_total", "Feature reads that found no committed record.", cacheMisses.Load())

	writeCounter(w, "neurocast_extractions_completed_total", "Extraction pipeline runs that committed a record.", extractionsCompleted.Load())
	writeCounter(w, "neurocast_extractions_failed_total", "Extraction pipeline runs that failed.", extractionsFailed.Load())

	writeCounter(w, "neurocast_quality_violations_total", "Constraint clamps large enough to report.", qualityViolations.Load())

	writeCounter(w, "neurocast_evaluations_completed_total", "Evaluation jobs finished successfully.", evaluationsCompleted.Load())
	writeCounter(w, "neurocast_evaluations_failed_total", "Evaluation jobs that failed.", evaluationsFailed.Load())
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
