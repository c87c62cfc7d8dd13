package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/pricing"
)

const defaultSearchLimit = 20

// Fixture is the initial content of a Gateway.
type Fixture struct {
	Document  domain.Document
	UserID    int64
	Username  string
	Items     []domain.CatalogItem
	Movements []domain.Movement
	Notes     []domain.Note
}

// Gateway is an in-process backend for one document.
type Gateway struct {
	mu          sync.RWMutex
	document    domain.Document
	userID      int64
	username    string
	items       map[int64]domain.CatalogItem
	itemOrder   []int64
	movements   map[int64]domain.Movement
	notes       map[int64]domain.Note
	nextMoveID  int64
	nextNoteID  int64
	unavailable error
	now         func() time.Time
}

func New(fx Fixture) *Gateway {
	g := &Gateway{
		document:   fx.Document,
		userID:     fx.UserID,
		username:   fx.Username,
		items:      make(map[int64]domain.CatalogItem, len(fx.Items)),
		movements:  make(map[int64]domain.Movement, len(fx.Movements)),
		notes:      make(map[int64]domain.Note, len(fx.Notes)),
		nextMoveID: 1,
		nextNoteID: 1,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, item := range fx.Items {
		g.items[item.ID] = item
		g.itemOrder = append(g.itemOrder, item.ID)
	}
	for _, m := range fx.Movements {
		if m.ID == nil {
			continue
		}
		g.movements[*m.ID] = m.Clone()
		if *m.ID >= g.nextMoveID {
			g.nextMoveID = *m.ID + 1
		}
	}
	for _, n := range fx.Notes {
		g.notes[n.ID] = n
		if n.ID >= g.nextNoteID {
			g.nextNoteID = n.ID + 1
		}
	}
	return g
}

// NewSeeded returns a gateway with a small hardware catalog for demo mode.
func NewSeeded(documentID int64, userID int64) *Gateway {
	currency := "DOP"
	items := []domain.CatalogItem{
		seedItem(1, "TORN-0001", "Tornillo galvanizado 1/4", "percent", "18", "8.50", "12.00", "350"),
		seedItem(2, "TUER-0001", "Tuerca hexagonal 1/4", "percent", "18", "3.00", "4.50", "800"),
		seedItem(3, "CEME-0042", "Cemento gris 42.5kg", "percent", "18", "410.00", "465.00", "120"),
		seedItem(4, "PINT-0101", "Pintura acrilica blanca galon", "percent", "18", "890.00", "1050.00", "40"),
		seedItem(5, "ARAN-0010", "Arandela plana 1/4", "fixed", "0.25", "0.75", "1.20", "1500"),
		seedItem(6, "SERV-0001", "Servicio de entrega", "", "0", "0", "500.00", "0"),
		seedItem(7, "MART-0016", "Martillo de carpintero 16oz", "percent", "18", "310.00", "375.00", "25"),
	}
	return New(Fixture{
		Document: domain.Document{ID: documentID, Number: "FAC-000000000001", Currency: &currency},
		UserID:   userID,
		Username: "demo",
		Items:    items,
	})
}

func seedItem(id int64, codename, name, taxType, taxValue, minPrice, maxPrice, available string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:           id,
		Code:         decimal.NewFromInt(id).String(),
		Codename:     codename,
		Name:         name,
		TaxValue:     decimal.RequireFromString(taxValue),
		TaxValueType: taxType,
		MinPrice:     decimal.RequireFromString(minPrice),
		MaxPrice:     decimal.RequireFromString(maxPrice),
		Available:    decimal.RequireFromString(available),
		IsActive:     true,
	}
}

// SetUnavailable makes every call fail with err until called with nil.
func (g *Gateway) SetUnavailable(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = err
}

func (g *Gateway) FetchDocument(ctx context.Context) (domain.Snapshot, error) {
	if err := g.check(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.document.Saved() {
		return domain.Snapshot{}, gateway.ErrNotFound
	}

	movements := make([]domain.Movement, 0, len(g.movements))
	for _, m := range g.movements {
		movements = append(movements, m.Clone())
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].Number < movements[j].Number })

	notes := make([]domain.Note, 0, len(g.notes))
	for _, n := range g.notes {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreateDate.Equal(notes[j].CreateDate) {
			return notes[i].ID > notes[j].ID
		}
		return notes[i].CreateDate.After(notes[j].CreateDate)
	})

	snap := domain.Snapshot{
		Document:  g.document,
		Notes:     notes,
		Movements: movements,
		Totals:    CalculateTotals(movements),
	}
	return snap.Clone(), nil
}

// CalculateTotals aggregates movements the way the backend stores document
// totals. Total is the sum of line totals, so tax already included in a price
// is counted once.
func CalculateTotals(movements []domain.Movement) domain.Totals {
	totals := domain.Totals{}
	for _, m := range movements {
		totals.Amount = totals.Amount.Add(m.Quantity.Mul(m.Price))
		totals.Discount = totals.Discount.Add(m.Discount)
		totals.Tax = totals.Tax.Add(m.Tax)
		totals.Total = totals.Total.Add(m.Total)
	}
	totals.Amount = pricing.Round(totals.Amount)
	totals.Discount = pricing.Round(totals.Discount)
	totals.Tax = pricing.Round(totals.Tax)
	totals.Total = pricing.Round(totals.Total)
	return totals
}

func (g *Gateway) SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	if err := g.check(ctx); err != nil {
		return domain.SearchResult{}, err
	}
	if limit < 1 {
		limit = defaultSearchLimit
	}

	terms := strings.Fields(strings.ToLower(query))
	result := domain.SearchResult{Items: []domain.CatalogItem{}}
	if len(terms) == 0 {
		return result, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.itemOrder {
		item := g.items[id]
		if !item.IsActive || !matches(item, terms) {
			continue
		}
		result.Items = append(result.Items, item)
		if len(result.Items) == limit {
			break
		}
	}
	result.Count = len(result.Items)
	return result, nil
}

func matches(item domain.CatalogItem, terms []string) bool {
	haystack := strings.ToLower(strings.Join([]string{item.Code, item.Codename, item.Name, item.Description}, " "))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func (g *Gateway) SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error) {
	if err := g.check(ctx); err != nil {
		return domain.MutationResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if payload.DocumentID == 0 {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgRequired), nil
	}
	if payload.DocumentID != g.document.ID {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgInvalid), nil
	}
	if payload.ItemID == nil {
		return gateway.Rejected(domain.FieldItem, gateway.MsgRequired), nil
	}
	item, ok := g.items[*payload.ItemID]
	if !ok {
		return gateway.Rejected(domain.FieldItem, gateway.MsgRequired), nil
	}

	var existing domain.Movement
	if payload.ID != nil {
		existing, ok = g.movements[*payload.ID]
		if !ok {
			return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
		}
	}

	if fieldErrors := gateway.CheckMovement(payload); fieldErrors != nil {
		return domain.MutationResult{Errors: fieldErrors}, nil
	}

	m := domain.Movement{
		ItemID:             &item.ID,
		ItemCodename:       item.Codename,
		ItemName:           item.Name,
		Name:               strings.TrimSpace(payload.Name),
		Quantity:           payload.Quantity,
		Available:          item.Available,
		Price:              payload.Price,
		MinPrice:           item.MinPrice,
		Discount:           payload.Discount,
		TaxAlreadyIncluded: payload.TaxAlreadyIncluded,
		TaxPolicy:          pricing.ParsePolicy(item.TaxValueType),
		TaxValue:           item.TaxValue,
	}
	if payload.ID != nil {
		m.ID = existing.ID
		m.Number = existing.Number
	} else {
		id := g.nextMoveID
		g.nextMoveID++
		m.ID = &id
		m.Number = g.nextNumber()
	}
	m = pricing.Recalculate(m, pricing.DiscountFromAmount)
	g.movements[*m.ID] = m

	return domain.MutationResult{ID: *m.ID}, nil
}

func (g *Gateway) nextNumber() int {
	next := 1
	for _, m := range g.movements {
		if m.Number >= next {
			next = m.Number + 1
		}
	}
	return next
}

func (g *Gateway) DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error) {
	if err := g.check(ctx); err != nil {
		return domain.MutationResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.movements[id]; !ok {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
	}
	delete(g.movements, id)
	return domain.MutationResult{ID: id}, nil
}

func (g *Gateway) AddNote(ctx context.Context, content string) (domain.MutationResult, error) {
	if err := g.check(ctx); err != nil {
		return domain.MutationResult{}, err
	}
	content, rejected := gateway.NormalizeNote(content)
	if rejected != nil {
		return *rejected, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextNoteID
	g.nextNoteID++
	g.notes[id] = domain.Note{
		ID:         id,
		Content:    content,
		Username:   g.username,
		UserID:     g.userID,
		CreateDate: g.now(),
	}
	return domain.MutationResult{ID: id}, nil
}

func (g *Gateway) DeleteNote(ctx context.Context, id int64) (domain.MutationResult, error) {
	if err := g.check(ctx); err != nil {
		return domain.MutationResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	note, ok := g.notes[id]
	if !ok {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
	}
	if note.UserID != g.userID {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgPermission), nil
	}
	delete(g.notes, id)
	return domain.MutationResult{ID: id}, nil
}

func (g *Gateway) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unavailable
}
