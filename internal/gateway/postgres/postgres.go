package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"movedit/backend/internal/domain"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/pricing"
)

//go:embed schema.sql
var schema string

const defaultSearchLimit = 20

// Scope pins the gateway to one company, document and user.
type Scope struct {
	CompanyID  int64
	DocumentID int64
	UserID     int64
	Username   string
}

type Store struct {
	db    *sql.DB
	scope Scope
	log   zerolog.Logger
}

func New(ctx context.Context, databaseURL string, scope Scope, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, scope: scope, log: logger.With().Str("component", "postgres").Logger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables the gateway reads and writes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

var _ gateway.Gateway = (*Store)(nil)

func (s *Store) FetchDocument(ctx context.Context) (domain.Snapshot, error) {
	if s.scope.DocumentID <= 0 {
		return domain.Snapshot{}, gateway.ErrNotFound
	}

	var snap domain.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		doc, err := s.document(gctx)
		snap.Document = doc
		return err
	})
	g.Go(func() error {
		movements, err := s.movements(gctx)
		snap.Movements = movements
		return err
	})
	g.Go(func() error {
		notes, err := s.notes(gctx)
		snap.Notes = notes
		return err
	})
	g.Go(func() error {
		totals, err := s.totals(gctx)
		snap.Totals = totals
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) document(ctx context.Context) (domain.Document, error) {
	var doc domain.Document
	var currency sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, currency, person_name
		FROM documents
		WHERE id = $1 AND company_id = $2
	`, s.scope.DocumentID, s.scope.CompanyID).Scan(&doc.ID, &doc.Number, &currency, &doc.PersonName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, gateway.ErrNotFound
		}
		return domain.Document{}, err
	}
	if currency.Valid {
		doc.Currency = &currency.String
	}
	return doc, nil
}

func (s *Store) movements(ctx context.Context) ([]domain.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.number, m.item_id, i.codename, i.name, m.name,
		       m.quantity, i.available, m.price, i.min_price,
		       m.discount_percent, m.discount, m.tax, m.tax_already_included, m.total,
		       i.tax_value_type, i.tax_value
		FROM movements m
		JOIN items i ON i.id = m.item_id
		WHERE m.document_id = $1
		ORDER BY m.number, m.id
	`, s.scope.DocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.Movement, 0, 32)
	for rows.Next() {
		var (
			m       domain.Movement
			id      int64
			itemID  int64
			taxType string
		)
		if err := rows.Scan(
			&id, &m.Number, &itemID, &m.ItemCodename, &m.ItemName, &m.Name,
			&m.Quantity, &m.Available, &m.Price, &m.MinPrice,
			&m.DiscountPercent, &m.Discount, &m.Tax, &m.TaxAlreadyIncluded, &m.Total,
			&taxType, &m.TaxValue,
		); err != nil {
			return nil, err
		}
		m.ID = &id
		m.ItemID = &itemID
		m.TaxPolicy = pricing.ParsePolicy(taxType)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) notes(ctx context.Context) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, username, create_user, create_date
		FROM document_notes
		WHERE document_id = $1
		ORDER BY create_date DESC, id DESC
	`, s.scope.DocumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]domain.Note, 0, 8)
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.Content, &n.Username, &n.UserID, &n.CreateDate); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *Store) totals(ctx context.Context) (domain.Totals, error) {
	var totals domain.Totals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity * price), 0),
		       COALESCE(SUM(discount), 0),
		       COALESCE(SUM(tax), 0),
		       COALESCE(SUM(total), 0)
		FROM movements
		WHERE document_id = $1
	`, s.scope.DocumentID).Scan(&totals.Amount, &totals.Discount, &totals.Tax, &totals.Total)
	if err != nil {
		return domain.Totals{}, err
	}
	totals.Amount = pricing.Round(totals.Amount)
	totals.Discount = pricing.Round(totals.Discount)
	totals.Tax = pricing.Round(totals.Tax)
	totals.Total = pricing.Round(totals.Total)
	return totals, nil
}

func (s *Store) SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	if limit < 1 {
		limit = defaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	result := domain.SearchResult{Items: []domain.CatalogItem{}}
	if len(terms) == 0 {
		return result, nil
	}
	patterns := make([]string, 0, len(terms))
	for _, term := range terms {
		patterns = append(patterns, "%"+escapeLike(term)+"%")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, codename, name, description, tax_value, tax_value_type,
		       min_price, max_price, available, is_active
		FROM items
		WHERE company_id = $1
		  AND is_active = true
		  AND lower(code || ' ' || codename || ' ' || name || ' ' || description) LIKE ALL($2)
		ORDER BY codename, id
		LIMIT $3
	`, s.scope.CompanyID, patterns, limit)
	if err != nil {
		return domain.SearchResult{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(
			&item.ID, &item.Code, &item.Codename, &item.Name, &item.Description,
			&item.TaxValue, &item.TaxValueType, &item.MinPrice, &item.MaxPrice, &item.Available, &item.IsActive,
		); err != nil {
			return domain.SearchResult{}, err
		}
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.SearchResult{}, err
	}
	result.Count = len(result.Items)
	return result, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func (s *Store) SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error) {
	if payload.DocumentID == 0 {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgRequired), nil
	}
	if payload.DocumentID != s.scope.DocumentID {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgInvalid), nil
	}
	if payload.ItemID == nil {
		return gateway.Rejected(domain.FieldItem, gateway.MsgRequired), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.MutationResult{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var item domain.CatalogItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, codename, name, tax_value, tax_value_type, min_price, available
		FROM items
		WHERE id = $1 AND company_id = $2
	`, *payload.ItemID, s.scope.CompanyID).Scan(&item.ID, &item.Codename, &item.Name, &item.TaxValue, &item.TaxValueType, &item.MinPrice, &item.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Rejected(domain.FieldItem, gateway.MsgRequired), nil
	}
	if err != nil {
		return domain.MutationResult{}, err
	}

	if payload.ID != nil {
		var exists bool
		err := tx.QueryRowContext(ctx, `
			SELECT true FROM movements WHERE id = $1 AND document_id = $2 FOR UPDATE
		`, *payload.ID, s.scope.DocumentID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
		}
		if err != nil {
			return domain.MutationResult{}, err
		}
	}

	if fieldErrors := gateway.CheckMovement(payload); fieldErrors != nil {
		return domain.MutationResult{Errors: fieldErrors}, nil
	}

	m := pricing.Recalculate(domain.Movement{
		Name:               strings.TrimSpace(payload.Name),
		Quantity:           payload.Quantity,
		Price:              payload.Price,
		Discount:           payload.Discount,
		TaxAlreadyIncluded: payload.TaxAlreadyIncluded,
		TaxPolicy:          pricing.ParsePolicy(item.TaxValueType),
		TaxValue:           item.TaxValue,
	}, pricing.DiscountFromAmount)

	var id int64
	if payload.ID == nil {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO movements (
				document_id, number, item_id, name, quantity, price,
				discount_percent, discount, tax, tax_already_included, total
			)
			VALUES (
				$1, (SELECT COALESCE(MAX(number), 0) + 1 FROM movements WHERE document_id = $1), $2, $3, $4, $5,
				$6, $7, $8, $9, $10
			)
			RETURNING id
		`, s.scope.DocumentID, item.ID, m.Name, m.Quantity, m.Price,
			m.DiscountPercent, m.Discount, m.Tax, m.TaxAlreadyIncluded, m.Total).Scan(&id)
	} else {
		id = *payload.ID
		_, err = tx.ExecContext(ctx, `
			UPDATE movements
			SET item_id = $2, name = $3, quantity = $4, price = $5,
			    discount_percent = $6, discount = $7, tax = $8, tax_already_included = $9, total = $10,
			    updated_at = now()
			WHERE id = $1
		`, id, item.ID, m.Name, m.Quantity, m.Price,
			m.DiscountPercent, m.Discount, m.Tax, m.TaxAlreadyIncluded, m.Total)
	}
	if err != nil {
		if isCheckViolation(err) {
			return gateway.Rejected(domain.FieldGlobal, gateway.MsgInvalid), nil
		}
		return domain.MutationResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.MutationResult{}, err
	}
	s.log.Debug().Int64("movement_id", id).Msg("movement saved")
	return domain.MutationResult{ID: id}, nil
}

func (s *Store) DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM movements WHERE id = $1 AND document_id = $2
	`, id, s.scope.DocumentID)
	if err != nil {
		return domain.MutationResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.MutationResult{}, err
	}
	if affected == 0 {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
	}
	return domain.MutationResult{ID: id}, nil
}

func (s *Store) AddNote(ctx context.Context, content string) (domain.MutationResult, error) {
	content, rejected := gateway.NormalizeNote(content)
	if rejected != nil {
		return *rejected, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_notes (document_id, content, create_user, username, create_date)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, s.scope.DocumentID, content, s.scope.UserID, s.scope.Username).Scan(&id)
	if err != nil {
		return domain.MutationResult{}, err
	}
	return domain.MutationResult{ID: id}, nil
}

func (s *Store) DeleteNote(ctx context.Context, id int64) (domain.MutationResult, error) {
	var owner int64
	err := s.db.QueryRowContext(ctx, `
		SELECT create_user FROM document_notes WHERE id = $1 AND document_id = $2
	`, id, s.scope.DocumentID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgNotFound), nil
	}
	if err != nil {
		return domain.MutationResult{}, err
	}
	if owner != s.scope.UserID {
		return gateway.Rejected(domain.FieldGlobal, gateway.MsgPermission), nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_notes WHERE id = $1`, id); err != nil {
		return domain.MutationResult{}, err
	}
	return domain.MutationResult{ID: id}, nil
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}
