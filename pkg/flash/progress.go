package flash

// ProgressSink receives work-unit progress from bulk operations and answers
// cancellation queries. Bulk operations poll it between units, never
// preemptively; implementations should return quickly.
//
// A nil ProgressSink is valid everywhere one is accepted and disables both
// reporting and cancellation.
type ProgressSink interface {
	// ReportProgress is called after each completed unit with the number
	// of units done so far and the total requested.
	ReportProgress(done, total int)

	// Cancelled is polled before each unit. Returning true stops the
	// operation; the partial count is returned to the caller as a normal
	// result, not an error.
	Cancelled() bool
}
