package receipt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// sqliteTime is how dates are stored: ISO 8601 without a zone, so that
// lexical order is chronological order.
const sqliteTime = "2006-01-02T15:04:05"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_name TEXT NOT NULL,
	store_address TEXT NOT NULL DEFAULT '',
	date TEXT,
	total_cents INTEGER NOT NULL,
	payment_method TEXT NOT NULL DEFAULT '',
	pdf_path TEXT NOT NULL DEFAULT '',
	pdf_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	item_id INTEGER PRIMARY KEY AUTOINCREMENT,
	receipt_id INTEGER NOT NULL REFERENCES receipts(receipt_id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	unit_cents INTEGER NOT NULL,
	quantity INTEGER NOT NULL,
	total_cents INTEGER NOT NULL,
	tax_category TEXT NOT NULL,
	category TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_name ON items(name);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
CREATE INDEX IF NOT EXISTS idx_receipts_date ON receipts(date);
CREATE INDEX IF NOT EXISTS idx_receipts_store ON receipts(store_name);
CREATE INDEX IF NOT EXISTS idx_receipts_hash ON receipts(pdf_hash);
`

// SQLiteDB implements DB on a single SQLite file. Amounts are stored as
// integer cents. The pool is limited to one connection so that every
// check-then-insert transaction is serialized.
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteDB opens (or creates) the database and ensures the schema exists.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 1000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring sqlite: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteDB{db: db, now: time.Now}, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func toSQLTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTime)
}

func fromSQLTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(sqliteTime, s.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date %q: %w", s.String, err)
	}
	return &t, nil
}

// likePattern builds a LIKE argument for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// filterClause renders f as additional WHERE conditions on alias r.
func filterClause(f Filter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	if f.Store != "" {
		b.WriteString(` AND r.store_name LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Store))
	}
	if f.From != nil {
		b.WriteString(" AND r.date >= ?")
		args = append(args, startOfDay(*f.From).Format(sqliteTime))
	}
	if f.To != nil {
		b.WriteString(" AND r.date < ?")
		args = append(args, endOfDay(*f.To).Format(sqliteTime))
	}
	return b.String(), args
}

// InsertReceipt implements DB. On success r.ID and the item IDs are set.
func (s *SQLiteDB) InsertReceipt(r *Receipt, policy DedupPolicy) (InsertResult, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, persistErr("beginning transaction", err)
	}
	defer tx.Rollback()

	var existing int64
	switch policy {
	case DedupByHash:
		if r.PDFHash != "" {
			err = tx.QueryRowContext(ctx,
				`SELECT receipt_id FROM receipts WHERE pdf_hash = ? ORDER BY receipt_id LIMIT 1`, r.PDFHash,
			).Scan(&existing)
		}
	case DedupByStoreDateTotal:
		if r.Date != nil {
			err = tx.QueryRowContext(ctx,
				`SELECT receipt_id FROM receipts WHERE store_name = ? AND date = ? AND total_cents = ? ORDER BY receipt_id LIMIT 1`,
				r.StoreName, toSQLTime(r.Date), toCents(r.Total),
			).Scan(&existing)
		}
	}
	switch {
	case err == nil && existing != 0:
		return InsertResult{Duplicate: true, ExistingID: existing}, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return InsertResult{}, persistErr("checking duplicate", err)
	}

	stored := *r
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO receipts (store_name, store_address, date, total_cents, payment_method, pdf_path, pdf_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.StoreName, stored.StoreAddress, toSQLTime(stored.Date), toCents(stored.Total),
		stored.PaymentMethod, stored.PDFPath, stored.PDFHash, stored.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return InsertResult{}, persistErr("inserting receipt", err)
	}
	if stored.ID, err = res.LastInsertId(); err != nil {
		return InsertResult{}, persistErr("inserting receipt", err)
	}

	stored.Items = make([]Item, len(r.Items))
	for i, it := range r.Items {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO items (receipt_id, name, unit_cents, quantity, total_cents, tax_category, category)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, it.Name, toCents(it.UnitPrice), it.Quantity, toCents(it.TotalPrice), it.TaxCategory, it.Category,
		)
		if err != nil {
			return InsertResult{}, persistErr("inserting item", err)
		}
		if it.ID, err = res.LastInsertId(); err != nil {
			return InsertResult{}, persistErr("inserting item", err)
		}
		it.ReceiptID = stored.ID
		stored.Items[i] = it
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, persistErr("committing receipt", err)
	}
	*r = stored
	return InsertResult{ID: stored.ID}, nil
}

const receiptColumns = `r.receipt_id, r.store_name, r.store_address, r.date, r.total_cents, r.payment_method, r.pdf_path, r.pdf_hash, r.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r         Receipt
		date      sql.NullString
		cents     int64
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.StoreName, &r.StoreAddress, &date, &cents, &r.PaymentMethod, &r.PDFPath, &r.PDFHash, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if r.Date, err = fromSQLTime(date); err != nil {
		return nil, err
	}
	r.Total = fromCents(cents)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t.UTC()
	}
	r.Items = []Item{}
	return &r, nil
}

// loadItemsBatch bounds the receipt IDs bound into one query, well below
// SQLite's host-parameter limit.
var loadItemsBatch = 500

// loadItems attaches items to the given receipts.
func (s *SQLiteDB) loadItems(receipts []*Receipt) error {
	for len(receipts) > 0 {
		n := min(len(receipts), loadItemsBatch)
		if err := s.loadItemBatch(receipts[:n]); err != nil {
			return err
		}
		receipts = receipts[n:]
	}
	return nil
}

func (s *SQLiteDB) loadItemBatch(receipts []*Receipt) error {
	byID := make(map[int64]*Receipt, len(receipts))
	placeholders := make([]string, 0, len(receipts))
	args := make([]any, 0, len(receipts))
	for _, r := range receipts {
		byID[r.ID] = r
		placeholders = append(placeholders, "?")
		args = append(args, r.ID)
	}
	rows, err := s.db.Query(`
		SELECT item_id, receipt_id, name, unit_cents, quantity, total_cents, tax_category, category
		FROM items WHERE receipt_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY item_id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return err
		}
		if r := byID[it.ReceiptID]; r != nil {
			r.Items = append(r.Items, it)
		}
	}
	return rows.Err()
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it         Item
		unit, tot int64
	)
	if err := row.Scan(&it.ID, &it.ReceiptID, &it.Name, &unit, &it.Quantity, &tot, &it.TaxCategory, &it.Category); err != nil {
		return Item{}, err
	}
	it.UnitPrice = fromCents(unit)
	it.TotalPrice = fromCents(tot)
	return it, nil
}

// GetReceipt implements DB.
func (s *SQLiteDB) GetReceipt(id int64) (*Receipt, error) {
	r, err := scanReceipt(s.db.QueryRow(`SELECT `+receiptColumns+` FROM receipts r WHERE r.receipt_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, persistErr("getting receipt", err)
	}
	if err := s.loadItems([]*Receipt{r}); err != nil {
		return nil, persistErr("getting items", err)
	}
	return r, nil
}

// ListReceipts implements DB.
func (s *SQLiteDB) ListReceipts(f Filter, limit int) ([]*Receipt, error) {
	where, args := filterClause(f)
	query := `SELECT ` + receiptColumns + ` FROM receipts r WHERE 1=1` + where +
		` ORDER BY r.date IS NULL, r.date DESC, r.receipt_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, persistErr("listing receipts", err)
	}
	receipts := make([]*Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("listing receipts", err)
		}
		receipts = append(receipts, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing receipts", err)
	}
	if err := s.loadItems(receipts); err != nil {
		return nil, persistErr("listing items", err)
	}
	return receipts, nil
}

// DeleteReceipt implements DB.
func (s *SQLiteDB) DeleteReceipt(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("beginning transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items WHERE receipt_id = ?`, id); err != nil {
		return persistErr("deleting items", err)
	}
	res, err := tx.Exec(`DELETE FROM receipts WHERE receipt_id = ?`, id)
	if err != nil {
		return persistErr("deleting receipt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("deleting receipt", err)
	}
	return nil
}

// FindByHash implements DB.
func (s *SQLiteDB) FindByHash(hash string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT receipt_id FROM receipts WHERE pdf_hash = ? ORDER BY receipt_id LIMIT 1`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || hash == "" {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistErr("looking up hash", err)
	}
	return id, true, nil
}

// ExistsByStoreDateTotal implements DB.
func (s *SQLiteDB) ExistsByStoreDateTotal(store string, date *time.Time, total decimal.Decimal) (bool, error) {
	if date == nil {
		return false, nil
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM receipts WHERE store_name = ? AND date = ? AND total_cents = ?`,
		store, toSQLTime(date), toCents(total)).Scan(&n)
	if err != nil {
		return false, persistErr("looking up receipt", err)
	}
	return n > 0, nil
}

// ListItems implements DB.
func (s *SQLiteDB) ListItems() ([]Item, error) {
	rows, err := s.db.Query(`
		SELECT item_id, receipt_id, name, unit_cents, quantity, total_cents, tax_category, category
		FROM items ORDER BY item_id`)
	if err != nil {
		return nil, persistErr("listing items", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, persistErr("listing items", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing items", err)
	}
	return items, nil
}

// UpdateItemCategories implements DB.
func (s *SQLiteDB) UpdateItemCategories(changes map[int64]string) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("beginning transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE items SET category = ? WHERE item_id = ?`)
	if err != nil {
		return persistErr("preparing update", err)
	}
	defer stmt.Close()
	for id, category := range changes {
		res, err := stmt.Exec(category, id)
		if err != nil {
			return persistErr("updating item category", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return persistErr("updating item category", fmt.Errorf("item %d not found", id))
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("committing categories", err)
	}
	return nil
}

// CategoryTotals implements DB.
func (s *SQLiteDB) CategoryTotals(f Filter) ([]CategoryTotal, error) {
	where, args := filterClause(f)
	rows, err := s.db.Query(`
		SELECT i.category, COUNT(*), SUM(i.total_cents), SUM(i.unit_cents)
		FROM items i JOIN receipts r ON r.receipt_id = i.receipt_id
		WHERE i.category != 'System'`+where+`
		GROUP BY i.category`, args...)
	if err != nil {
		return nil, persistErr("querying category totals", err)
	}
	defer rows.Close()

	out := []CategoryTotal{}
	for rows.Next() {
		var (
			ct          CategoryTotal
			total, unit int64
		)
		if err := rows.Scan(&ct.Category, &ct.Count, &total, &unit); err != nil {
			return nil, persistErr("querying category totals", err)
		}
		ct.TotalSpent = fromCents(total)
		ct.AvgPrice = fromCents(unit).Div(decimal.NewFromInt(int64(ct.Count))).Round(2)
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("querying category totals", err)
	}
	sortCategoryTotals(out)
	return out, nil
}

// PriceHistory implements DB.
func (s *SQLiteDB) PriceHistory(pattern string) ([]PricePoint, error) {
	rows, err := s.db.Query(`
		SELECT i.name, i.unit_cents, r.date, r.store_name
		FROM items i JOIN receipts r ON r.receipt_id = i.receipt_id
		WHERE i.item_id IN (
			SELECT MIN(i2.item_id)
			FROM items i2 JOIN receipts r2 ON r2.receipt_id = i2.receipt_id
			WHERE i2.name LIKE ? ESCAPE '\'
			GROUP BY i2.name, r2.date, r2.store_name
		)
		ORDER BY r.date IS NOT NULL, r.date, i.item_id`, likePattern(pattern))
	if err != nil {
		return nil, persistErr("querying price history", err)
	}
	defer rows.Close()

	out := []PricePoint{}
	for rows.Next() {
		var (
			p     PricePoint
			cents int64
			date  sql.NullString
		)
		if err := rows.Scan(&p.ItemName, &cents, &date, &p.StoreName); err != nil {
			return nil, persistErr("querying price history", err)
		}
		p.Price = fromCents(cents)
		if p.Date, err = fromSQLTime(date); err != nil {
			return nil, persistErr("querying price history", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("querying price history", err)
	}
	return out, nil
}

// SearchItems implements DB.
func (s *SQLiteDB) SearchItems(term string) ([]ItemSummary, error) {
	rows, err := s.db.Query(`
		SELECT name, category, COUNT(*) AS purchase_count, SUM(unit_cents)
		FROM items
		WHERE name LIKE ? ESCAPE '\' AND category != 'System'
		GROUP BY name, category
		ORDER BY purchase_count DESC, name, category`, likePattern(term))
	if err != nil {
		return nil, persistErr("searching items", err)
	}
	defer rows.Close()

	out := []ItemSummary{}
	for rows.Next() {
		var (
			it   ItemSummary
			unit int64
		)
		if err := rows.Scan(&it.Name, &it.Category, &it.PurchaseCount, &unit); err != nil {
			return nil, persistErr("searching items", err)
		}
		it.AvgPrice = fromCents(unit).Div(decimal.NewFromInt(int64(it.PurchaseCount))).Round(2)
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("searching items", err)
	}
	return out, nil
}

// Stores implements DB.
func (s *SQLiteDB) Stores() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT store_name FROM receipts ORDER BY store_name`)
	if err != nil {
		return nil, persistErr("listing stores", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, persistErr("listing stores", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing stores", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
