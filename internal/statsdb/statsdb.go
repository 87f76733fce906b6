// Package statsdb records the outcome of finished downloads in a Bolt database file.
package statsdb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("downloads")

// Keys for the persistent storage.
var Keys = struct {
	InfoHash           []byte
	Name               []byte
	Length             []byte
	BytesDownloaded    []byte
	BytesWasted        []byte
	ValidationFailures []byte
	PeersConnected     []byte
	StartedAt          []byte
	FinishedAt         []byte
	Error              []byte
}{
	InfoHash:           []byte("info_hash"),
	Name:               []byte("name"),
	Length:             []byte("length"),
	BytesDownloaded:    []byte("bytes_downloaded"),
	BytesWasted:        []byte("bytes_wasted"),
	ValidationFailures: []byte("validation_failures"),
	PeersConnected:     []byte("peers_connected"),
	StartedAt:          []byte("started_at"),
	FinishedAt:         []byte("finished_at"),
	Error:              []byte("error"),
}

// ErrNotFound is returned from Read when there is no record with the given id.
var ErrNotFound = errors.New("record not found")

// Record is the summary of a single download run.
type Record struct {
	ID                 string
	InfoHash           [20]byte
	Name               string
	Length             int64
	BytesDownloaded    int64
	BytesWasted        int64
	ValidationFailures int64
	PeersConnected     int
	StartedAt          time.Time
	FinishedAt         time.Time
	// Error is empty if the download is completed.
	Error string
}

// DB stores Records.
type DB struct {
	db *bolt.DB
}

// Open the database at path, creating the file and its directory if needed.
func Open(path string) (*DB, error) {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("stats database is locked by another process")
	}
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucketName)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close the database file.
func (d *DB) Close() error {
	return d.db.Close()
}

// NewID returns a new unique record id.
func NewID() (string, error) {
	u1, err := uuid.NewV1()
	if err != nil {
		return "", err
	}
	return u1.String(), nil
}

// Write saves r. The ID field is generated if empty.
func (d *DB) Write(r *Record) error {
	if r.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		r.ID = id
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketName).CreateBucketIfNotExists([]byte(r.ID))
		if err != nil {
			return err
		}
		_ = b.Put(Keys.InfoHash, []byte(hex.EncodeToString(r.InfoHash[:])))
		_ = b.Put(Keys.Name, []byte(r.Name))
		_ = b.Put(Keys.Length, []byte(strconv.FormatInt(r.Length, 10)))
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(r.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(r.BytesWasted, 10)))
		_ = b.Put(Keys.ValidationFailures, []byte(strconv.FormatInt(r.ValidationFailures, 10)))
		_ = b.Put(Keys.PeersConnected, []byte(strconv.Itoa(r.PeersConnected)))
		_ = b.Put(Keys.StartedAt, []byte(r.StartedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.FinishedAt, []byte(r.FinishedAt.Format(time.RFC3339)))
		return b.Put(Keys.Error, []byte(r.Error))
	})
}

// Read returns the record with id.
func (d *DB) Read(id string) (*Record, error) {
	var r *Record
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName).Bucket([]byte(id))
		if b == nil {
			return ErrNotFound
		}
		var err error
		r, err = readRecord(id, b)
		return err
	})
	return r, err
}

// List returns every record ordered by id.
func (d *DB) List() ([]*Record, error) {
	var records []*Record
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			b := tx.Bucket(bucketName).Bucket(k)
			if b == nil {
				return nil
			}
			r, err := readRecord(string(k), b)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

func readRecord(id string, b *bolt.Bucket) (*Record, error) {
	r := &Record{ID: id}
	var err error

	value := b.Get(Keys.InfoHash)
	if value == nil {
		return nil, fmt.Errorf("key not found: %q", string(Keys.InfoHash))
	}
	ih, err := hex.DecodeString(string(value))
	if err != nil {
		return nil, err
	}
	copy(r.InfoHash[:], ih)

	r.Name = string(b.Get(Keys.Name))
	r.Error = string(b.Get(Keys.Error))

	for _, f := range []struct {
		key   []byte
		value *int64
	}{
		{Keys.Length, &r.Length},
		{Keys.BytesDownloaded, &r.BytesDownloaded},
		{Keys.BytesWasted, &r.BytesWasted},
		{Keys.ValidationFailures, &r.ValidationFailures},
	} {
		value = b.Get(f.key)
		if value == nil {
			continue
		}
		*f.value, err = strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return nil, err
		}
	}

	value = b.Get(Keys.PeersConnected)
	if value != nil {
		r.PeersConnected, err = strconv.Atoi(string(value))
		if err != nil {
			return nil, err
		}
	}

	value = b.Get(Keys.StartedAt)
	if value != nil {
		r.StartedAt, err = time.Parse(time.RFC3339, string(value))
		if err != nil {
			return nil, err
		}
	}
	value = b.Get(Keys.FinishedAt)
	if value != nil {
		r.FinishedAt, err = time.Parse(time.RFC3339, string(value))
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}
