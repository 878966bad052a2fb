package review

import "fmt"

type ValidationKind int

const (
	NotAnObject ValidationKind = iota + 1
	MissingField
	WrongType
)

func (k ValidationKind) String() string {
	switch k {
	case NotAnObject:
		return "not_an_object"
	case MissingField:
		return "missing_field"
	case WrongType:
		return "wrong_type"
	default:
		return "unknown"
	}
}

// ValidationError reports a review API payload that does not match the
// documented shape. Field is empty for NotAnObject.
type ValidationError struct {
	Kind  ValidationKind
	Field string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case NotAnObject:
		return "response is not a JSON object"
	case MissingField:
		return fmt.Sprintf("response is missing field %q", e.Field)
	case WrongType:
		return fmt.Sprintf("response field %q has the wrong type", e.Field)
	default:
		return "invalid response"
	}
}

type TranslationKind int

const (
	MissingIdentifier TranslationKind = iota + 1
	UnknownStatus
)

func (k TranslationKind) String() string {
	switch k {
	case MissingIdentifier:
		return "missing_identifier"
	case UnknownStatus:
		return "unknown_status"
	default:
		return "unknown"
	}
}

// TranslationError reports an item that cannot be rendered as a message.
type TranslationError struct {
	Kind TranslationKind
	// Code is the offending status for UnknownStatus.
	Code string
}

func (e *TranslationError) Error() string {
	switch e.Kind {
	case MissingIdentifier:
		return "item has no homework_name"
	case UnknownStatus:
		return fmt.Sprintf("unexpected status %q", e.Code)
	default:
		return "cannot translate item"
	}
}
