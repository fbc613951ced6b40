package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/skshohagmiah/flinsend/pkg/client"
	"github.com/skshohagmiah/flinsend/pkg/clienterr"
)

const keyPrefix = "send:"

var (
	ErrNotFound  = errors.New("journal entry not found")
	ErrInvalidID = errors.New("invalid journal entry id")
)

// Entry is one recorded send attempt
type Entry struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Duration     int64     `json:"duration_us"`
	Endpoint     string    `json:"endpoint"`
	Encoding     string    `json:"encoding"`
	Mode         string    `json:"mode"`
	Operation    string    `json:"operation"`
	Key          string    `json:"key"`
	DeclaredLen  uint64    `json:"declared_len"`
	BytesWritten int       `json:"bytes_written"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Succeeded reports whether the attempt wrote its frame
func (e Entry) Succeeded() bool {
	return e.Error == ""
}

// Options for opening a journal
type Options struct {
	// Retention expires entries after this long; zero keeps them forever
	Retention time.Duration
	// SyncWrites flushes every entry to disk before Record returns
	SyncWrites bool
}

// Journal persists send attempts in BadgerDB, keyed by request ID
type Journal struct {
	db   *badger.DB
	opts Options
}

// Open opens (or creates) a journal at dir
func Open(dir string, opts Options) (*Journal, error) {
	bopts := badger.DefaultOptions(dir)
	bopts.Logger = nil // Disable logging for cleaner output
	bopts.SyncWrites = opts.SyncWrites
	bopts.NumVersionsToKeep = 1

	// A journal holds a handful of small entries
	bopts.MemTableSize = 8 << 20
	bopts.ValueLogFileSize = 16 << 20
	bopts.BlockCacheSize = 8 << 20
	bopts.IndexCacheSize = 0

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", dir, err)
	}
	return &Journal{db: db, opts: opts}, nil
}

// OpenInMemory opens a journal that lives only as long as the process
func OpenInMemory(opts Options) (*Journal, error) {
	bopts := badger.DefaultOptions("").WithInMemory(true)
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory journal: %w", err)
	}
	return &Journal{db: db, opts: opts}, nil
}

// Close closes the BadgerDB connection
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores an entry, replacing any entry with the same ID
func (j *Journal) Record(e Entry) error {
	if e.ID == "" {
		return ErrInvalidID
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return j.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+e.ID), data)
		if j.opts.Retention > 0 {
			entry = entry.WithTTL(j.opts.Retention)
		}
		return txn.SetEntry(entry)
	})
}

// RecordSend stores the outcome of a client send
func (j *Journal) RecordSend(res *client.Result) error {
	return j.Record(FromResult(res))
}

// FromResult converts a client result to a journal entry
func FromResult(res *client.Result) Entry {
	e := Entry{
		ID:           res.RequestID.String(),
		Time:         res.Started.UTC(),
		Duration:     res.Duration.Microseconds(),
		Endpoint:     res.Endpoint,
		Encoding:     string(res.Encoding),
		Mode:         res.Mode.String(),
		Operation:    res.Request.Operation,
		Key:          res.Request.Key,
		DeclaredLen:  res.DeclaredLen,
		BytesWritten: res.BytesWritten,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
		e.ErrorKind = clienterr.KindOf(res.Err).Error()
	}
	return e
}

// Get retrieves an entry by request ID
func (j *Journal) Get(id string) (Entry, error) {
	if id == "" {
		return Entry{}, ErrInvalidID
	}

	var e Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, err
}

// List returns every entry in key order. Request IDs are UUIDv7, so this
// is also the order the sends started in.
func (j *Journal) List() ([]Entry, error) {
	var entries []Entry

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})

	return entries, err
}

// Delete removes an entry
func (j *Journal) Delete(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
}
