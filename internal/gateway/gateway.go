package gateway

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"movedit/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Gateway is the remote store of one document, its movements and notes.
// Mutations report rejection through MutationResult.Errors, not through error;
// error is reserved for failures before a response was read.
type Gateway interface {
	FetchDocument(ctx context.Context) (domain.Snapshot, error)
	SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error)
	SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error)
	DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error)
	AddNote(ctx context.Context, content string) (domain.MutationResult, error)
	DeleteNote(ctx context.Context, id int64) (domain.MutationResult, error)
}

// Rejected builds a structured rejection for a single field.
func Rejected(field string, message string) domain.MutationResult {
	return domain.MutationResult{Errors: domain.FieldErrors{field: {message}}}
}

// Messages the backend uses for movement and note rejections.
const (
	MsgRequired     = "This field is required."
	MsgNonNegative  = "Ensure this value is greater than or equal to 0."
	MsgInvalid      = "Invalid."
	MsgNotFound     = "Not found."
	MsgPermission   = "Permission denied."
	MsgNoteTooLong  = "Ensure this value has at most 200 characters."
	MsgOverDiscount = "Discount cannot exceed the line amount."
)

// MaxNoteLength is the longest note content the backend stores.
const MaxNoteLength = 200

// CheckMovement applies the field rules the backend form enforces. It returns
// nil when the payload is acceptable.
func CheckMovement(p domain.MovementPayload) domain.FieldErrors {
	errs := domain.FieldErrors{}
	if strings.TrimSpace(p.Name) == "" {
		errs[domain.FieldName] = append(errs[domain.FieldName], MsgRequired)
	}
	if p.Quantity.IsNegative() {
		errs[domain.FieldQuantity] = append(errs[domain.FieldQuantity], MsgNonNegative)
	}
	if p.Price.IsNegative() {
		errs[domain.FieldPrice] = append(errs[domain.FieldPrice], MsgNonNegative)
	}
	if p.Discount.IsNegative() {
		errs[domain.FieldDiscount] = append(errs[domain.FieldDiscount], MsgNonNegative)
	} else if p.Discount.GreaterThan(p.Quantity.Mul(p.Price)) {
		errs[domain.FieldDiscount] = append(errs[domain.FieldDiscount], MsgOverDiscount)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// NormalizeNote collapses whitespace in note content and checks its length.
func NormalizeNote(content string) (string, *domain.MutationResult) {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		rejected := Rejected("content", MsgRequired)
		return "", &rejected
	}
	if utf8.RuneCountInString(content) > MaxNoteLength {
		rejected := Rejected("content", MsgNoteTooLong)
		return "", &rejected
	}
	return content, nil
}
