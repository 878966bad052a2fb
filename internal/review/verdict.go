package review

import "fmt"

// Verdicts maps every known status to its verdict text.
var Verdicts = map[string]string{
	"approved":  "Work reviewed: reviewer liked everything. Hooray!",
	"reviewing": "Work taken for review by the reviewer.",
	"rejected":  "Work reviewed: reviewer has remarks.",
}

// Translate renders the status-change message for it. The returned error
// is always a *TranslationError.
func Translate(it Item) (string, error) {
	if it.ID == "" {
		return "", &TranslationError{Kind: MissingIdentifier}
	}
	verdict, ok := Verdicts[it.Status]
	if !ok {
		return "", &TranslationError{Kind: UnknownStatus, Code: it.Status}
	}
	return fmt.Sprintf("Status changed for item \"%s\". %s", it.ID, verdict), nil
}
