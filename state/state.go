// Package state keeps the last commanded operations of every instrument in
// a bbolt database, so an operator can see what was set before a restart.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"
)

const BucketPrefix = "instance_"

// Record is the last successful call of one operation
type Record struct {
	Instance string          `json:"instance"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
	Client   string          `json:"client,omitempty"`
	Time     time.Time       `json:"time"`
}

type Store struct {
	DB *bbolt.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("Failed to open state database %s: %w", path, err)
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func BucketName(instance string) string {
	return BucketPrefix + instance
}

// Put stores r, replacing the previous record of the same method
func (s *Store) Put(r Record) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}

	return s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(BucketName(r.Instance)))
		if err != nil {
			return err
		}
		return b.Put([]byte(r.Method), data)
	})
}

// Get returns the records of instance ordered by method name. An unknown
// instance has no records.
func (s *Store) Get(instance string) ([]Record, error) {
	var records []Record

	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName(instance)))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := yaml.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("Corrupt record %s/%s: %w", instance, k, err)
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Method < records[j].Method
	})
	return records, nil
}

// Instances lists the instruments that have records
func (s *Store) Instances() ([]string, error) {
	var names []string

	err := s.DB.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if n := string(name); strings.HasPrefix(n, BucketPrefix) {
				names = append(names, strings.TrimPrefix(n, BucketPrefix))
			}
			return nil
		})
	})

	sort.Strings(names)
	return names, err
}

// Clear removes all records of instance
func (s *Store) Clear(instance string) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(BucketName(instance)))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}
