package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Cursor bounds a timeline fetch. Empty fields are unset.
type Cursor struct {
	MaxID   string `json:"max_id,omitempty"`
	SinceID string `json:"since_id,omitempty"`
}

// State is the poller's mutable state. A snapshot is returned by Poller.State.
type State struct {
	Cursor          Cursor
	BackoffExponent float64
	Running         bool
}

// URLCount is one row of a frequency table.
type URLCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Item is one record returned by the timeline API: either a bare identifier
// or a JSON object. Raw keeps the bytes exactly as received.
type Item struct {
	Identifier string
	Fields     map[string]any
	Raw        json.RawMessage
}

// ErrInvalidItem is returned by ParseItem for payloads that are neither
// objects, strings nor numbers.
var ErrInvalidItem = errors.New("invalid timeline item")

// NewIdentifier wraps a bare identifier.
func NewIdentifier(id string) Item {
	return Item{Identifier: id}
}

// ParseItem decodes one JSON value into an Item.
func ParseItem(raw []byte) (Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Item{}, fmt.Errorf("%w: empty payload", ErrInvalidItem)
	}
	switch trimmed[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		fields := map[string]any{}
		if err := dec.Decode(&fields); err != nil {
			return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
		}
		return Item{Fields: fields, Raw: append(json.RawMessage(nil), trimmed...)}, nil
	case '"':
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
		}
		if id == "" {
			return Item{}, fmt.Errorf("%w: empty identifier", ErrInvalidItem)
		}
		return NewIdentifier(id), nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
		}
		// null decodes into an empty Number without error.
		if n == "" {
			return Item{}, fmt.Errorf("%w: %s", ErrInvalidItem, trimmed)
		}
		return NewIdentifier(n.String()), nil
	}
}

// IsIdentifier reports whether the item is a bare identifier.
func (i Item) IsIdentifier() bool {
	return i.Fields == nil
}

// Has reports whether the object carries key.
func (i Item) Has(key string) bool {
	if i.Fields == nil {
		return false
	}
	_, ok := i.Fields[key]
	return ok
}

// String returns the value under key when it is a string or number.
func (i Item) String(key string) string {
	if i.Fields == nil {
		return ""
	}
	return stringValue(i.Fields[key])
}

// ID returns the identifier for bare items and id_str for objects.
func (i Item) ID() string {
	if i.IsIdentifier() {
		return i.Identifier
	}
	return i.String("id_str")
}

// Line renders the item as a single sink record.
func (i Item) Line() (string, error) {
	if i.IsIdentifier() {
		return i.Identifier, nil
	}
	if len(i.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, i.Raw); err != nil {
			return "", fmt.Errorf("compact item: %w", err)
		}
		return buf.String(), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i.Fields); err != nil {
		return "", fmt.Errorf("encode item: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func stringValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	default:
		return ""
	}
}

// CompareIDs orders decimal snowflake IDs: shorter strings are older, equal
// lengths compare lexically. Leading zeros are ignored.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return strings.Compare(a, b)
	}
}
