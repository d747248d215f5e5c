package metrics

import (
	"net/http"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
)

// VictoriaMetrics/metrics keeps labels inside the metric name, so every
// recorder builds the full name and lets GetOrCreateCounter dedupe it.

// RecordMessengerCall counts gateway calls by operation (send, delete, fetch, reset).
func RecordMessengerCall(op string, ok bool) {
	metrics.GetOrCreateCounter(`pickup_messenger_calls_total{op="` + op + `",ok="` + strconv.FormatBool(ok) + `"}`).Inc()
}

// RecordUpdates counts updates consumed from the stream, relevant or not.
func RecordUpdates(n int) {
	if n <= 0 {
		return
	}
	metrics.GetOrCreateCounter(`pickup_matcher_updates_total`).Add(n)
}

// RecordClaim counts claim commands by result: matched, unknown, malformed.
func RecordClaim(result string) {
	metrics.GetOrCreateCounter(`pickup_claims_total{result="` + result + `"}`).Inc()
}

// RecordRun counts finished workflow runs by outcome.
func RecordRun(outcome string) {
	metrics.GetOrCreateCounter(`pickup_runs_total{outcome="` + outcome + `"}`).Inc()
}

// RecordRetention counts scheduled contact-message deletions by status.
func RecordRetention(status string) {
	metrics.GetOrCreateCounter(`pickup_retention_deletions_total{status="` + status + `"}`).Inc()
}

// RecordIntake counts intake submissions by status: accepted, invalid, throttled.
func RecordIntake(status string) {
	metrics.GetOrCreateCounter(`pickup_intake_submissions_total{status="` + status + `"}`).Inc()
}

// RecordOutcomeStored counts ledger writes.
func RecordOutcomeStored(ok bool) {
	metrics.GetOrCreateCounter(`pickup_ledger_outcomes_total{ok="` + strconv.FormatBool(ok) + `"}`).Inc()
}

// Handler serves everything registered above in Prometheus text format.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	}
}
