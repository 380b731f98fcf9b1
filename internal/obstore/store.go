// Package obstore is the durable observation store: one record per
// (station, date), idempotent upsert, snapshot-ordered scans. Backed by a
// single-file bbolt database.
package obstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketObservations = []byte("observations")

// Row is one observation record keyed by CSV header fields. Numeric-looking
// values are stored as numbers.
type Row map[string]any

// Store wraps the bolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("obstore: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("obstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObservations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("obstore: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// key builds "id/date", the primary key of one observation.
func key(id int64, date string) []byte {
	return []byte(strconv.FormatInt(id, 10) + "/" + date)
}

// Upsert writes rows in one batch transaction and returns the number
// written. Existing records for the same (id, date) are overwritten.
func (s *Store) Upsert(rows []Row) (int, error) {
	wrote := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		for _, r := range rows {
			id, date, err := rowKey(r)
			if err != nil {
				return err
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(key(id, date), data); err != nil {
				return err
			}
			wrote++
		}
		return nil
	})
	if err != nil {
		return wrote, fmt.Errorf("obstore: upsert: %w", err)
	}
	return wrote, nil
}

// rowKey extracts and validates the primary key fields of a row.
func rowKey(r Row) (int64, string, error) {
	idVal, ok := r["id"]
	if !ok {
		return 0, "", fmt.Errorf("obstore: row without id")
	}
	var id int64
	switch v := idVal.(type) {
	case int64:
		id = v
	case float64:
		id = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, "", fmt.Errorf("obstore: non-numeric id %q", v)
		}
		id = parsed
	default:
		return 0, "", fmt.Errorf("obstore: unsupported id type %T", idVal)
	}

	date, _ := r["date"].(string)
	date = strings.TrimSpace(date)
	if date == "" {
		return 0, "", fmt.Errorf("obstore: row without date (id=%d)", id)
	}
	return id, date, nil
}

// Scan returns every stored row, sorted by (id, date). With filterTTL,
// rows whose expires_at has passed are skipped.
func (s *Store) Scan(filterTTL bool, now time.Time) ([]Row, error) {
	var rows []Row
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		return b.ForEach(func(k, v []byte) error {
			var r Row
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("obstore: corrupt record %s: %w", k, err)
			}
			if filterTTL && expired(r, now) {
				return nil
			}
			rows = append(rows, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	return rows, nil
}

// Station returns rows for one station between from and to (inclusive,
// "YYYY-MM-DD" strings; empty bounds are open).
func (s *Store) Station(id int64, from, to string) ([]Row, error) {
	prefix := []byte(strconv.FormatInt(id, 10) + "/")
	var rows []Row
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObservations).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			date := strings.TrimPrefix(string(k), string(prefix))
			if from != "" && date < from {
				continue
			}
			if to != "" && date > to {
				continue
			}
			var r Row
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("obstore: corrupt record %s: %w", k, err)
			}
			rows = append(rows, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	return rows, nil
}

// MissingTTL returns the keys of records that carry no expires_at field.
// Such records never age out of snapshots and are candidates for deletion.
func (s *Store) MissingTTL() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		return b.ForEach(func(k, v []byte) error {
			var r Row
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("obstore: corrupt record %s: %w", k, err)
			}
			if _, ok := r["expires_at"]; !ok {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}

// Delete removes the given keys in one transaction and returns how many
// were removed. Missing keys are not an error.
func (s *Store) Delete(keys []string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObservations)
		for _, k := range keys {
			if b.Get([]byte(k)) == nil {
				continue
			}
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("obstore: delete: %w", err)
	}
	return deleted, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketObservations).Stats().KeyN
		return nil
	})
	return n, err
}

func expired(r Row, now time.Time) bool {
	v, ok := r["expires_at"]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case float64:
		return int64(t) <= now.Unix()
	case string:
		epoch, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return false
		}
		return epoch <= now.Unix()
	default:
		return false
	}
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		ai, _ := rowID(rows[i])
		aj, _ := rowID(rows[j])
		if ai != aj {
			return ai < aj
		}
		return rowDate(rows[i]) < rowDate(rows[j])
	})
}

func rowID(r Row) (int64, bool) {
	switch v := r["id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

func rowDate(r Row) string {
	d, _ := r["date"].(string)
	return d
}
