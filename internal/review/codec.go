package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Wire field names of the review API.
const (
	FieldItems  = "homeworks"
	FieldCursor = "current_date"
	FieldName   = "homework_name"
	FieldStatus = "status"
)

// Item is one tracked work item as reported by the API.
type Item struct {
	ID     string
	Status string
}

// Response is the validated shape of one API response.
type Response struct {
	Items  []Item
	Cursor int64
}

// ParseResponse validates raw and returns the typed response. Items keep
// their source order. The returned error is always a *ValidationError.
func ParseResponse(raw []byte) (Response, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Response{}, &ValidationError{Kind: NotAnObject}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Response{}, &ValidationError{Kind: NotAnObject}
	}

	rawItems, ok := obj[FieldItems]
	if !ok {
		return Response{}, &ValidationError{Kind: MissingField, Field: FieldItems}
	}
	rawCursor, ok := obj[FieldCursor]
	if !ok {
		return Response{}, &ValidationError{Kind: MissingField, Field: FieldCursor}
	}

	list, ok := rawItems.([]any)
	if !ok {
		return Response{}, &ValidationError{Kind: WrongType, Field: FieldItems}
	}
	cursor, ok := parseCursor(rawCursor)
	if !ok {
		return Response{}, &ValidationError{Kind: WrongType, Field: FieldCursor}
	}

	items := make([]Item, 0, len(list))
	for _, el := range list {
		items = append(items, parseItem(el))
	}
	return Response{Items: items, Cursor: cursor}, nil
}

func parseCursor(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	c, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || c < 0 {
		return 0, false
	}
	return c, true
}

// parseItem never fails: a bad item must not hide the rest of the batch.
// A non-object element or a non-string homework_name leaves ID empty, and
// a non-string status is kept as its JSON text, so Translate rejects both.
func parseItem(v any) Item {
	obj, ok := v.(map[string]any)
	if !ok {
		return Item{}
	}
	var it Item
	if name, ok := obj[FieldName].(string); ok {
		it.ID = name
	}
	if st, ok := obj[FieldStatus]; ok {
		if s, ok := st.(string); ok {
			it.Status = s
		} else {
			it.Status = rawText(st)
		}
	}
	return it
}

func rawText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

type wireItem struct {
	Name   string `json:"homework_name,omitempty"`
	Status string `json:"status,omitempty"`
}

type wireResponse struct {
	Items  []wireItem `json:"homeworks"`
	Cursor int64      `json:"current_date"`
}

// EncodeResponse renders r in the API wire format.
func EncodeResponse(r Response) ([]byte, error) {
	w := wireResponse{Items: make([]wireItem, 0, len(r.Items)), Cursor: r.Cursor}
	for _, it := range r.Items {
		w.Items = append(w.Items, wireItem{Name: it.ID, Status: it.Status})
	}
	return json.Marshal(w)
}
