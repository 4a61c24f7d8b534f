package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// LocalizedText is a payload text field that connectors deliver either as a plain
// string or as a map of locale to string.
type LocalizedText struct {
	Plain    string
	ByLocale map[string]string
}

// UnmarshalJSON accepts a JSON string, a locale map, or null
func (t *LocalizedText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = LocalizedText{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = LocalizedText{Plain: s}
		return nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*t = LocalizedText{ByLocale: m}
		return nil
	default:
		return fmt.Errorf("localized text: expected string or object, got %s", string(data[:1]))
	}
}

// MarshalJSON writes back the shape that was read
func (t LocalizedText) MarshalJSON() ([]byte, error) {
	if t.ByLocale != nil {
		return json.Marshal(t.ByLocale)
	}
	if t.Plain == "" {
		return []byte("null"), nil
	}
	return json.Marshal(t.Plain)
}

// IsEmpty reports whether no usable text is present
func (t LocalizedText) IsEmpty() bool {
	return strings.TrimSpace(t.Resolve()) == ""
}

// Resolve returns a single text, preferring the given locales in order, then "en",
// then the first non-empty locale in key order.
func (t LocalizedText) Resolve(preferred ...string) string {
	if t.ByLocale == nil {
		return t.Plain
	}
	locales := append(append([]string(nil), preferred...), "en")
	for _, locale := range locales {
		if v := strings.TrimSpace(t.ByLocale[strings.ToLower(locale)]); v != "" {
			return v
		}
	}

	keys := make([]string, 0, len(t.ByLocale))
	for k := range t.ByLocale {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := strings.TrimSpace(t.ByLocale[k]); v != "" {
			return v
		}
	}
	return ""
}

// String implements fmt.Stringer
func (t LocalizedText) String() string {
	return t.Resolve()
}

// Ptr returns the resolved text as an optional value, nil when empty
func (t LocalizedText) Ptr(preferred ...string) *string {
	v := strings.TrimSpace(t.Resolve(preferred...))
	if v == "" {
		return nil
	}
	return &v
}
