package localkv

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/ezquant/azpm/azpm/tools/log"
	"github.com/tidwall/buntdb"
	"github.com/vmihailenco/msgpack/v5"
)

const memory = ":memory:"

// ErrNotFound is returned when a key has no value.
var ErrNotFound = buntdb.ErrNotFound

// LocalKV Structure to hold the db client
type LocalKV struct {
	db     *buntdb.DB
	dbPath string
}

// NewLocalKV opens kv.db under databasePath, or an in-memory store when it is nil.
func NewLocalKV(databasePath *string) (*LocalKV, error) {
	dbPath := memory
	if databasePath != nil {
		if err := os.MkdirAll(*databasePath, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dbPath = path.Join(*databasePath, "kv.db")
	}

	db, err := buntdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:         buntdb.EverySecond,
		AutoShrinkDisabled: true,
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	return &LocalKV{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the db
func (l *LocalKV) Close() error {
	return l.db.Close()
}

// Get gets a value from the db
func (l *LocalKV) Get(key string) (string, error) {
	var val string

	err := l.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}

		val = v
		return nil
	})

	return val, err
}

// Set sets a value in the db
func (l *LocalKV) Set(key, value string) error {
	return l.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, nil)

		return err
	})
}

// Delete removes key, ignoring missing keys.
func (l *LocalKV) Delete(key string) error {
	err := l.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

// Keys lists the keys matching a buntdb pattern such as "checkpoint:*".
func (l *LocalKV) Keys(pattern string) ([]string, error) {
	var keys []string
	err := l.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern, func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	return keys, err
}

// SetObject stores v encoded with msgpack.
func (l *LocalKV) SetObject(key string, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.Set(key, string(data))
}

// GetObject decodes the msgpack value stored at key into v.
func (l *LocalKV) GetObject(key string, v interface{}) error {
	data, err := l.Get(key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// RemoveDB removes db file
func (l *LocalKV) RemoveDB() error {
	if l.db != nil {
		l.db.Close()
	}

	if l.dbPath != memory && l.dbPath != "" {
		if err := os.Remove(l.dbPath); err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("remove database file: %v", err)
			}
		}
	}
	return nil
}
