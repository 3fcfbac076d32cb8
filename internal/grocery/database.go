package grocery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

const (
	receiptBucketName    = "receipts"
	pricePointBucketName = "price_points"
	offerBucketName      = "cashback_offers"
)

// keySeparator splits the normalized item name from the point ID in price point keys
const keySeparator = 0x00

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// SavePricePoints saves price points in a single transaction
	SavePricePoints(points []*PricePoint) error

	// ListPricePoints returns every price point recorded for an item
	ListPricePoints(itemName string) ([]*PricePoint, error)

	// ListItemNames returns the normalized names of every item with price history
	ListItemNames() ([]string, error)

	// DeletePricePointsForReceipt removes the points recorded from a receipt
	DeletePricePointsForReceipt(receiptID string) (int, error)

	// SaveCashbackOffer saves a cashback offer
	SaveCashbackOffer(offer *CashbackOffer) error

	// ListCashbackOffers returns all cashback offers
	ListCashbackOffers() ([]*CashbackOffer, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{receiptBucketName, pricePointBucketName, offerBucketName} {
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

	return &BoltDB{db: db}, nil
}

// pricePointKey orders points by item so one item's history is a contiguous range
func pricePointKey(point *PricePoint) []byte {
	key := []byte(pricing.NormalizeItemName(point.ItemName))
	key = append(key, keySeparator)
	return append(key, point.ID...)
}

func itemPrefix(itemName string) []byte {
	return append([]byte(pricing.NormalizeItemName(itemName)), keySeparator)
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(receipt.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrReceiptNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SavePricePoints saves price points in a single transaction
func (b *BoltDB) SavePricePoints(points []*PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(pricePointBucketName))
		for _, point := range points {
			data, err := json.Marshal(point)
			if err != nil {
				return fmt.Errorf("marshaling price point: %w", err)
			}
			if err := bucket.Put(pricePointKey(point), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPricePoints returns every price point recorded for an item
func (b *BoltDB) ListPricePoints(itemName string) ([]*PricePoint, error) {
	prefix := itemPrefix(itemName)
	points := make([]*PricePoint, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(pricePointBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var point PricePoint
			if err := json.Unmarshal(v, &point); err != nil {
				return fmt.Errorf("unmarshaling price point: %w", err)
			}
			points = append(points, &point)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// ListItemNames returns the normalized names of every item with price history
func (b *BoltDB) ListItemNames() ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		var last []byte
		return tx.Bucket([]byte(pricePointBucketName)).ForEach(func(k, _ []byte) error {
			i := bytes.IndexByte(k, keySeparator)
			if i < 0 {
				return nil
			}
			name := k[:i]
			if last != nil && bytes.Equal(name, last) {
				return nil
			}
			last = append(last[:0], name...)
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// DeletePricePointsForReceipt removes the points recorded from a receipt
func (b *BoltDB) DeletePricePointsForReceipt(receiptID string) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(pricePointBucketName))

		// bbolt cursors must not delete while iterating with ForEach
		var keys [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var point PricePoint
			if err := json.Unmarshal(v, &point); err != nil {
				return fmt.Errorf("unmarshaling price point: %w", err)
			}
			if point.ReceiptID == receiptID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// SaveCashbackOffer saves a cashback offer
func (b *BoltDB) SaveCashbackOffer(offer *CashbackOffer) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(offerBucketName))
		data, err := json.Marshal(offer)
		if err != nil {
			return fmt.Errorf("marshaling cashback offer: %w", err)
		}
		return bucket.Put([]byte(offer.ID), data)
	})
}

// ListCashbackOffers returns all cashback offers
func (b *BoltDB) ListCashbackOffers() ([]*CashbackOffer, error) {
	offers := make([]*CashbackOffer, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(offerBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var offer CashbackOffer
			if err := json.Unmarshal(v, &offer); err != nil {
				return fmt.Errorf("unmarshaling cashback offer: %w", err)
			}
			offers = append(offers, &offer)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return offers, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
