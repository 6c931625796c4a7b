package repositories

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"wechat-bridge/contract"
)

// KeyValueRepository backs the host KeyValueStore contract with
// BadgerDB. Values are stored as raw strings; namespacing is done by
// the callers through key prefixes ("invite:", "flag:").
type KeyValueRepository struct {
	db *badger.DB
}

func NewKeyValueRepository(db *badger.DB) contract.KeyValueStore {
	return &KeyValueRepository{db: db}
}

func (r *KeyValueRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q failed: %w", key, err)
	}
	return value, true, nil
}

func (r *KeyValueRepository) Set(key, value string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// Scan returns every key/value pair under prefix in one map.
func (r *KeyValueRepository) Scan(prefix string) (map[string]string, error) {
	values := make(map[string]string)
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(prefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(val []byte) error {
				values[key] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %q failed: %w", prefix, err)
	}
	return values, nil
}

// Flag keys carry host-lifetime booleans, currently only the
// alternate-login-variant marker.
const flagPrefix = "flag:"

func FlagKey(name string) string {
	return flagPrefix + name
}
