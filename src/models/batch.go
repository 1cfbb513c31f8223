// backend/src/models/batch.go
package models

// MaxReportedErrors bounds the error and warning lists carried in a
// BatchResult. Counts are always exact; only the detail lists are truncated.
const MaxReportedErrors = 10

// StructuralError reports input that is missing required fields entirely
// (bad header, unreadable file). Unlike row-level parse errors it is fatal
// for the batch: nothing is partially committed.
type StructuralError struct {
	MissingFields []string
	Reason        string
}

func (e *StructuralError) Error() string {
	return e.Reason
}

// ParseErrorDetail reports one row that could not be normalized.
type ParseErrorDetail struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"` // "timestamp", "amount", "asset"
	Value    string `json:"value"`
	Message  string `json:"message"`
}

// BatchResult is returned to the caller after an import or sync batch. A
// batch only fails outright on structurally invalid input; row-level and
// bucket-level problems are counted and reported here instead.
type BatchResult struct {
	BatchID           string             `json:"batch_id"`
	Provider          string             `json:"provider"`
	EventsImported    int                `json:"events_imported"`
	EventsDuplicate   int                `json:"events_duplicate"`
	TradesCreated     int                `json:"trades_created"`
	ParseErrorCount   int                `json:"parse_error_count"`
	ParseErrors       []ParseErrorDetail `json:"parse_errors,omitempty"`
	UnknownOperations map[string]int     `json:"unknown_operations,omitempty"` // label -> occurrences
	GroupingErrCount  int                `json:"grouping_error_count"`
	GroupingErrors    []GroupingError    `json:"grouping_errors,omitempty"`
	NeedsReviewCount  int                `json:"needs_review_count"`
}

// BoundErrors truncates the detail lists to MaxReportedErrors entries.
func (r *BatchResult) BoundErrors() {
	if len(r.ParseErrors) > MaxReportedErrors {
		r.ParseErrors = r.ParseErrors[:MaxReportedErrors]
	}
	if len(r.GroupingErrors) > MaxReportedErrors {
		r.GroupingErrors = r.GroupingErrors[:MaxReportedErrors]
	}
}
