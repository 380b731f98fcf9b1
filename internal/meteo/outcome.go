package meteo

// OutcomeKind classifies the result of one (station, date) fetch attempt.
type OutcomeKind int

const (
	// OutcomeResolved means the upstream returned at least one usable row.
	OutcomeResolved OutcomeKind = iota
	// OutcomeEmpty means a 2xx response carried no usable rows.
	OutcomeEmpty
	// OutcomeRetryable means a transient upstream condition; the date stays
	// pending for a future pass.
	OutcomeRetryable
	// OutcomeFatal means a non-transient upstream failure for this item.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResolved:
		return "resolved"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one fetch attempt. Rows holds the
// parsed CSV payload, header first, only for OutcomeResolved.
type Outcome struct {
	Kind   OutcomeKind
	Rows   [][]string
	Reason string
}
