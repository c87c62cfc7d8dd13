package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ErrorPayload is the decoded "errors" value of a backend response:
// either RawError or FieldErrors. Use sites only call Bag.
type ErrorPayload interface {
	Bag() ValidationErrors
	errorPayload()
}

// RawError is an errors value that could not be read as field messages.
type RawError string

func (RawError) errorPayload() {}

func (r RawError) Bag() ValidationErrors {
	bag := NewValidationErrors()
	bag.Add(FieldGlobal, string(r))
	return bag
}

// FieldErrors maps field names to messages.
type FieldErrors map[string][]string

func (FieldErrors) errorPayload() {}

func (f FieldErrors) Bag() ValidationErrors {
	bag := NewValidationErrors()
	for field, messages := range f {
		for _, message := range messages {
			bag.Add(field, message)
		}
	}
	return bag
}

// nonFieldErrorsKey is the key the backend uses for form-wide messages.
const nonFieldErrorsKey = "__all__"

// ParseErrorPayload decodes an "errors" value. It returns nil when the value
// is absent or falsy (null, false, 0, ""), which the backend uses for success.
// JSON strings are parsed again because the backend sends serialized form errors.
func ParseErrorPayload(raw json.RawMessage) ErrorPayload {
	trimmed := bytes.TrimSpace(raw)
	if isFalsy(trimmed) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return RawError(string(trimmed))
		}
		if fields, ok := parseFieldErrors([]byte(text)); ok {
			return fields
		}
		return RawError(text)
	case '{':
		if fields, ok := parseFieldErrors(trimmed); ok {
			return fields
		}
	}
	return RawError(string(trimmed))
}

func isFalsy(raw []byte) bool {
	switch string(raw) {
	case "", "null", "false", `""`:
		return true
	}
	if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		if n, err := strconv.ParseFloat(string(raw), 64); err == nil && n == 0 {
			return true
		}
	}
	return false
}

func parseFieldErrors(data []byte) (FieldErrors, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, false
	}

	out := make(FieldErrors, len(fields))
	for key, value := range fields {
		field := strings.TrimSpace(key)
		if field == nonFieldErrorsKey || field == "" {
			field = FieldGlobal
		}
		out[field] = append(out[field], parseMessages(value)...)
	}
	return out, true
}

type messageEntry struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func parseMessages(value json.RawMessage) []string {
	var list []json.RawMessage
	if err := json.Unmarshal(value, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, entry := range list {
			out = append(out, parseMessage(entry))
		}
		return out
	}
	return []string{parseMessage(value)}
}

func parseMessage(value json.RawMessage) string {
	var text string
	if err := json.Unmarshal(value, &text); err == nil {
		return text
	}
	var entry messageEntry
	if err := json.Unmarshal(value, &entry); err == nil && entry.Message != "" {
		return entry.Message
	}
	return string(bytes.TrimSpace(value))
}
