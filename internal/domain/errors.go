package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	FieldGlobal   = "global"
	FieldDocument = "document"
	FieldItem     = "item"
	FieldName     = "name"
	FieldQuantity = "quantity"
	FieldPrice    = "price"
	FieldDiscount = "discount"
)

var knownFields = []string{
	FieldGlobal, FieldDocument, FieldItem, FieldName, FieldQuantity, FieldPrice, FieldDiscount,
}

// UserInputError is a local precondition failure. It never reaches the network.
type UserInputError struct {
	Field   string
	Message string
}

func (e *UserInputError) Error() string {
	if e.Field == "" || e.Field == FieldGlobal {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

var (
	ErrDocumentNotSaved = &UserInputError{Field: FieldDocument, Message: "document not saved"}
	ErrEmptyNote        = &UserInputError{Field: FieldGlobal, Message: "write something"}
	ErrNoItemSelected   = &UserInputError{Field: FieldItem, Message: "no catalog item highlighted"}
)

var (
	ErrBusy         = errors.New("request already in progress")
	ErrNotEditing   = errors.New("editor is not editing a movement")
	ErrNoTarget     = errors.New("no movement selected for deletion")
	ErrClosed       = errors.New("component closed")
	ErrUnsavedDraft = errors.New("movement has no id")
)

// ServerValidationError carries the errors payload the backend rejected a mutation with.
type ServerValidationError struct {
	Payload ErrorPayload
}

func (e *ServerValidationError) Error() string {
	if e.Payload == nil {
		return "rejected by server"
	}
	if raw, ok := e.Payload.(RawError); ok {
		return fmt.Sprintf("rejected by server: %s", string(raw))
	}

	bag := e.Payload.Bag()
	fields := make([]string, 0, len(bag))
	for field, messages := range bag {
		if len(messages) > 0 {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(bag[field], "; "))
	}
	return "rejected by server: " + strings.Join(parts, ", ")
}

// ValidationErrors maps a form field to its messages in display order.
type ValidationErrors map[string][]string

// NewValidationErrors returns a bag with every form field present and empty.
func NewValidationErrors() ValidationErrors {
	out := make(ValidationErrors, len(knownFields))
	for _, field := range knownFields {
		out[field] = []string{}
	}
	return out
}

func (v ValidationErrors) Add(field string, message string) {
	v[field] = append(v[field], message)
}

func (v ValidationErrors) Empty() bool {
	for _, messages := range v {
		if len(messages) > 0 {
			return false
		}
	}
	return true
}

func (v ValidationErrors) Clone() ValidationErrors {
	out := make(ValidationErrors, len(v))
	for field, messages := range v {
		out[field] = append([]string{}, messages...)
	}
	return out
}
