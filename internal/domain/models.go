package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargePolicy is how a tax or discount value applies to an amount.
type ChargePolicy string

const (
	PolicyNone       ChargePolicy = "none"
	PolicyPercentage ChargePolicy = "percent"
	PolicyFixed      ChargePolicy = "fixed"
)

type Document struct {
	ID         int64   `json:"id"`
	Number     string  `json:"number,omitempty"`
	Currency   *string `json:"currency"`
	PersonName string  `json:"person_name,omitempty"`
}

// Saved reports whether the document exists on the server.
func (d Document) Saved() bool {
	return d.ID > 0
}

type Note struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Username   string    `json:"username"`
	UserID     int64     `json:"create_user"`
	CreateDate time.Time `json:"create_date"`
}

type CatalogItem struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Codename     string          `json:"codename"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	TaxValue     decimal.Decimal `json:"tax__value"`
	TaxValueType string          `json:"tax__value_type"`
	MinPrice     decimal.Decimal `json:"min_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	Available    decimal.Decimal `json:"available"`
	IsActive     bool            `json:"is_active"`
}

// Movement is a document line. ID and ItemID are nil while unsaved / unselected.
type Movement struct {
	ID                 *int64          `json:"id"`
	Number             int             `json:"number"`
	ItemID             *int64          `json:"item_id"`
	ItemCodename       string          `json:"item__codename"`
	ItemName           string          `json:"item__name"`
	Name               string          `json:"name"`
	Quantity           decimal.Decimal `json:"quantity"`
	Available          decimal.Decimal `json:"available"`
	Price              decimal.Decimal `json:"price"`
	MinPrice           decimal.Decimal `json:"min_price"`
	DiscountPercent    decimal.Decimal `json:"discount_percent"`
	Discount           decimal.Decimal `json:"discount"`
	Tax                decimal.Decimal `json:"tax"`
	TaxAlreadyIncluded bool            `json:"tax_already_included"`
	Total              decimal.Decimal `json:"total"`
	TaxPolicy          ChargePolicy    `json:"tax_policy,omitempty"`
	TaxValue           decimal.Decimal `json:"tax_value"`
}

// Clone returns a copy that shares no pointers with m.
func (m Movement) Clone() Movement {
	out := m
	if m.ID != nil {
		id := *m.ID
		out.ID = &id
	}
	if m.ItemID != nil {
		itemID := *m.ItemID
		out.ItemID = &itemID
	}
	return out
}

type Totals struct {
	Amount   decimal.Decimal `json:"amount"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Snapshot is everything the document detail endpoint returns in one fetch.
type Snapshot struct {
	Document  Document   `json:"document"`
	Notes     []Note     `json:"notes"`
	Movements []Movement `json:"movements"`
	Totals    Totals     `json:"totals"`
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Document: s.Document, Totals: s.Totals}
	if s.Document.Currency != nil {
		currency := *s.Document.Currency
		out.Document.Currency = &currency
	}
	if s.Notes != nil {
		out.Notes = make([]Note, len(s.Notes))
		copy(out.Notes, s.Notes)
	}
	if s.Movements != nil {
		out.Movements = make([]Movement, 0, len(s.Movements))
		for _, m := range s.Movements {
			out.Movements = append(out.Movements, m.Clone())
		}
	}
	return out
}

// FindMovement returns the movement with the given id from the snapshot.
func (s Snapshot) FindMovement(id int64) (Movement, bool) {
	for _, m := range s.Movements {
		if m.ID != nil && *m.ID == id {
			return m.Clone(), true
		}
	}
	return Movement{}, false
}

type SearchResult struct {
	Items []CatalogItem `json:"items"`
	Count int           `json:"count"`
}

// MovementPayload is the body of a save request. A nil ID creates.
type MovementPayload struct {
	ID                 *int64          `json:"id"`
	DocumentID         int64           `json:"document"`
	ItemID             *int64          `json:"item"`
	Name               string          `json:"name"`
	Quantity           decimal.Decimal `json:"quantity"`
	Price              decimal.Decimal `json:"price"`
	DiscountPercent    decimal.Decimal `json:"discount_percent"`
	Discount           decimal.Decimal `json:"discount"`
	TaxAlreadyIncluded bool            `json:"tax_already_included"`
}

// MutationResult is the backend answer to save/delete calls. Errors is nil on success.
type MutationResult struct {
	ID     int64
	Errors ErrorPayload
}

func (r MutationResult) Succeeded() bool {
	return r.Errors == nil
}

type DeleteTarget struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}
