package poller

// Descriptor kinds.
const (
	KindFetchFailed       = "fetch_failed"
	KindInvalidResponse   = "invalid_response"
	KindTranslationFailed = "translation_failed"
)

// Descriptor is one recoverable failure raised by a cycle. Two
// descriptors are the same error when both fields are equal.
type Descriptor struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func describe(kind string, err error) Descriptor {
	return Descriptor{Kind: kind, Message: err.Error()}
}

// ErrorSet keeps distinct descriptors in insertion order.
type ErrorSet struct {
	seen  map[Descriptor]struct{}
	items []Descriptor
}

// Add reports whether d was new.
func (s *ErrorSet) Add(d Descriptor) bool {
	if s.seen == nil {
		s.seen = map[Descriptor]struct{}{}
	}
	if _, ok := s.seen[d]; ok {
		return false
	}
	s.seen[d] = struct{}{}
	s.items = append(s.items, d)
	return true
}

func (s *ErrorSet) Items() []Descriptor { return append([]Descriptor(nil), s.items...) }

func (s *ErrorSet) Len() int { return len(s.items) }

func (s *ErrorSet) Clear() {
	s.seen = nil
	s.items = nil
}
