package domain

// Severity grades a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityFor grades a failure by its kind. Auth and conflict failures need a human.
func SeverityFor(kind ErrorKind) Severity {
	switch kind {
	case ErrorKindAuth, ErrorKindConflict, ErrorKindRemote, ErrorKindInternal:
		return SeverityError
	case ErrorKindNone:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}

// Notification is an error or warning surfaced to operators
type Notification struct {
	Severity Severity       `json:"severity"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}
