package receipt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a receipt does not exist.
	ErrNotFound = errors.New("receipt not found")
	// ErrPersistence marks failures of the storage layer.
	ErrPersistence = errors.New("persistence failure")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// DB defines the interface for database operations
type DB interface {
	// InsertReceipt stores a receipt and its items in one transaction. The
	// duplicate check of policy runs inside the same transaction.
	InsertReceipt(r *Receipt, policy DedupPolicy) (InsertResult, error)

	// GetReceipt retrieves a receipt with its items
	GetReceipt(id int64) (*Receipt, error)

	// ListReceipts returns matching receipts newest first. limit <= 0 means all.
	ListReceipts(f Filter, limit int) ([]*Receipt, error)

	// DeleteReceipt removes a receipt and its items
	DeleteReceipt(id int64) error

	// FindByHash returns the receipt stored with the given PDF hash
	FindByHash(hash string) (id int64, found bool, err error)

	// ExistsByStoreDateTotal reports whether a receipt with the same store,
	// date and total is stored. It is always false for a nil date.
	ExistsByStoreDateTotal(store string, date *time.Time, total decimal.Decimal) (bool, error)

	// ListItems returns every stored item in ID order
	ListItems() ([]Item, error)

	// UpdateItemCategories sets new categories by item ID, all or nothing
	UpdateItemCategories(changes map[int64]string) error

	// CategoryTotals summarizes non-system items per category, highest spend first
	CategoryTotals(f Filter) ([]CategoryTotal, error)

	// PriceHistory returns unit prices of items whose name contains pattern
	PriceHistory(pattern string) ([]PricePoint, error)

	// SearchItems groups non-system items whose name contains term
	SearchItems(term string) ([]ItemSummary, error)

	// Stores returns the distinct store names in ascending order
	Stores() ([]string, error)

	// Close closes the database connection
	Close() error
}

const (
	receiptsBucket = "receipts"
	itemsBucket    = "items"
	hashesBucket   = "hashes"
	keysBucket     = "keys"
)

// BoltDB implements the DB interface using BoltDB. Receipts are stored as
// JSON with their items embedded; the items bucket maps item IDs to their
// receipt, and the hashes and keys buckets index the two dedup policies.
// Every index key is a nested bucket holding the IDs of all receipts that
// share it, so deleting one of them leaves the others findable.
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptsBucket, itemsBucket, hashesBucket, keysBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// indexAdd records id under key.
func indexAdd(index *bbolt.Bucket, key string, id int64) error {
	ids, err := index.CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return err
	}
	return ids.Put(itob(id), []byte{})
}

// indexFirst returns the lowest receipt ID stored under key.
func indexFirst(index *bbolt.Bucket, key string) (int64, bool) {
	ids := index.Bucket([]byte(key))
	if ids == nil {
		return 0, false
	}
	k, _ := ids.Cursor().First()
	if k == nil {
		return 0, false
	}
	return btoi(k), true
}

// indexRemove drops id from key and the key once it is empty.
func indexRemove(index *bbolt.Bucket, key string, id int64) error {
	ids := index.Bucket([]byte(key))
	if ids == nil {
		return nil
	}
	if err := ids.Delete(itob(id)); err != nil {
		return err
	}
	if k, _ := ids.Cursor().First(); k == nil {
		return index.DeleteBucket([]byte(key))
	}
	return nil
}

// InsertReceipt implements DB. On success r.ID and the item IDs are set.
func (b *BoltDB) InsertReceipt(r *Receipt, policy DedupPolicy) (InsertResult, error) {
	var (
		result InsertResult
		stored Receipt
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		receipts := tx.Bucket([]byte(receiptsBucket))
		items := tx.Bucket([]byte(itemsBucket))
		hashes := tx.Bucket([]byte(hashesBucket))
		keys := tx.Bucket([]byte(keysBucket))

		semKey, dated := semanticKey(r.StoreName, r.Date, r.Total)
		switch policy {
		case DedupByHash:
			if r.PDFHash != "" {
				if existing, ok := indexFirst(hashes, r.PDFHash); ok {
					result = InsertResult{Duplicate: true, ExistingID: existing}
					return nil
				}
			}
		case DedupByStoreDateTotal:
			if dated {
				if existing, ok := indexFirst(keys, semKey); ok {
					result = InsertResult{Duplicate: true, ExistingID: existing}
					return nil
				}
			}
		}

		seq, err := receipts.NextSequence()
		if err != nil {
			return err
		}
		stored = *r
		stored.ID = int64(seq)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = b.now().UTC()
		}
		stored.Items = make([]Item, len(r.Items))
		for i, it := range r.Items {
			itemSeq, err := items.NextSequence()
			if err != nil {
				return err
			}
			it.ID = int64(itemSeq)
			it.ReceiptID = stored.ID
			stored.Items[i] = it
			if err := items.Put(itob(it.ID), itob(stored.ID)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := receipts.Put(itob(stored.ID), data); err != nil {
			return err
		}
		if stored.PDFHash != "" {
			if err := indexAdd(hashes, stored.PDFHash, stored.ID); err != nil {
				return err
			}
		}
		if dated {
			if err := indexAdd(keys, semKey, stored.ID); err != nil {
				return err
			}
		}

		result = InsertResult{ID: stored.ID}
		return nil
	})
	if err != nil {
		return InsertResult{}, persistErr("inserting receipt", err)
	}
	if !result.Duplicate {
		*r = stored
	}
	return result, nil
}

func getReceipt(tx *bbolt.Tx, id int64) (*Receipt, error) {
	data := tx.Bucket([]byte(receiptsBucket)).Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt %d: %w", id, err)
	}
	return &r, nil
}

func putReceipt(tx *bbolt.Tx, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	return tx.Bucket([]byte(receiptsBucket)).Put(itob(r.ID), data)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id int64) (*Receipt, error) {
	var r *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		r, err = getReceipt(tx, id)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("getting receipt", err)
	}
	return r, nil
}

func (b *BoltDB) all() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			var r Receipt
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &r)
			return nil
		})
	})
	if err != nil {
		return nil, persistErr("listing receipts", err)
	}
	return receipts, nil
}

// ListReceipts implements DB.
func (b *BoltDB) ListReceipts(f Filter, limit int) ([]*Receipt, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	receipts := make([]*Receipt, 0, len(all))
	for _, r := range all {
		if f.Matches(r) {
			receipts = append(receipts, r)
		}
	}
	sortNewestFirst(receipts)
	if limit > 0 && len(receipts) > limit {
		receipts = receipts[:limit]
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id int64) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		r, err := getReceipt(tx, id)
		if err != nil {
			return err
		}
		items := tx.Bucket([]byte(itemsBucket))
		for _, it := range r.Items {
			if err := items.Delete(itob(it.ID)); err != nil {
				return err
			}
		}
		if r.PDFHash != "" {
			if err := indexRemove(tx.Bucket([]byte(hashesBucket)), r.PDFHash, id); err != nil {
				return err
			}
		}
		if key, ok := semanticKey(r.StoreName, r.Date, r.Total); ok {
			if err := indexRemove(tx.Bucket([]byte(keysBucket)), key, id); err != nil {
				return err
			}
		}
		return tx.Bucket([]byte(receiptsBucket)).Delete(itob(id))
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return persistErr("deleting receipt", err)
	}
	return nil
}

// FindByHash implements DB.
func (b *BoltDB) FindByHash(hash string) (int64, bool, error) {
	var id int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if hash != "" {
			id, _ = indexFirst(tx.Bucket([]byte(hashesBucket)), hash)
		}
		return nil
	})
	if err != nil {
		return 0, false, persistErr("looking up hash", err)
	}
	return id, id != 0, nil
}

// ExistsByStoreDateTotal implements DB.
func (b *BoltDB) ExistsByStoreDateTotal(store string, date *time.Time, total decimal.Decimal) (bool, error) {
	key, ok := semanticKey(store, date, total)
	if !ok {
		return false, nil
	}
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		_, exists = indexFirst(tx.Bucket([]byte(keysBucket)), key)
		return nil
	})
	if err != nil {
		return false, persistErr("looking up receipt", err)
	}
	return exists, nil
}

// ListItems implements DB.
func (b *BoltDB) ListItems() ([]Item, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	// Receipts come back in key order and item IDs grow with receipt IDs.
	items := []Item{}
	for _, r := range all {
		items = append(items, r.Items...)
	}
	return items, nil
}

// UpdateItemCategories implements DB.
func (b *BoltDB) UpdateItemCategories(changes map[int64]string) error {
	if len(changes) == 0 {
		return nil
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket([]byte(itemsBucket))
		byReceipt := make(map[int64]bool)
		for itemID := range changes {
			v := items.Get(itob(itemID))
			if v == nil {
				return fmt.Errorf("item %d not found", itemID)
			}
			byReceipt[btoi(v)] = true
		}
		for receiptID := range byReceipt {
			r, err := getReceipt(tx, receiptID)
			if err != nil {
				return err
			}
			for i := range r.Items {
				if category, ok := changes[r.Items[i].ID]; ok {
					r.Items[i].Category = category
				}
			}
			if err := putReceipt(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("updating item categories", err)
	}
	return nil
}

// CategoryTotals implements DB.
func (b *BoltDB) CategoryTotals(f Filter) ([]CategoryTotal, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return categoryTotals(all, f), nil
}

// PriceHistory implements DB.
func (b *BoltDB) PriceHistory(pattern string) ([]PricePoint, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return priceHistory(all, pattern), nil
}

// SearchItems implements DB.
func (b *BoltDB) SearchItems(term string) ([]ItemSummary, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return searchItems(all, term), nil
}

// Stores implements DB.
func (b *BoltDB) Stores() ([]string, error) {
	all, err := b.all()
	if err != nil {
		return nil, err
	}
	return storeNames(all), nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
