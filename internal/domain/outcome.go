package domain

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSessionExpired
	OutcomeTransientFailure
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSessionExpired:
		return "session_expired"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one account. Record is nil only for
// OutcomeCancelled.
type Outcome struct {
	Kind   OutcomeKind
	Record *AccountRecord
	Reason string
}

func Succeeded(rec AccountRecord) Outcome {
	return Outcome{Kind: OutcomeSuccess, Record: &rec}
}

func SessionExpired(rec AccountRecord, reason string) Outcome {
	return Outcome{Kind: OutcomeSessionExpired, Record: &rec, Reason: reason}
}

func TransientFailure(rec AccountRecord, reason string) Outcome {
	return Outcome{Kind: OutcomeTransientFailure, Record: &rec, Reason: reason}
}

func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

func (o Outcome) IsCancelled() bool {
	return o.Kind == OutcomeCancelled
}

func (o Outcome) IsFailure() bool {
	return o.Kind == OutcomeSessionExpired || o.Kind == OutcomeTransientFailure
}
