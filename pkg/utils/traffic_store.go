// Package utils provides shared helpers and small data stores used by the
// topoflow binaries.
package utils

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// TransferTotals is a pair of cumulative byte counters for one proxy.
type TransferTotals struct {
	Upload   uint64
	Download uint64
}

func (t TransferTotals) Total() uint64 {
	return t.Upload + t.Download
}

// TrafficStore persists lifetime per-proxy transfer totals across runs.
// Values are 16 bytes: big-endian upload then download.
type TrafficStore struct {
	db    *badger.DB
	cache sync.Map
}

func OpenTrafficStore(path string) (*TrafficStore, error) {
	opts := badger.DefaultOptions(path)
	// Decrease logging verbosity
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &TrafficStore{db: db}, nil
}

func (s *TrafficStore) Close() error {
	return s.db.Close()
}

func encodeTotals(t TransferTotals) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, t.Upload)
	binary.BigEndian.PutUint64(buf[8:], t.Download)
	return buf
}

func decodeTotals(b []byte) (TransferTotals, error) {
	if len(b) != 16 {
		return TransferTotals{}, fmt.Errorf("malformed totals record: %d bytes", len(b))
	}
	return TransferTotals{
		Upload:   binary.BigEndian.Uint64(b),
		Download: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// Add accumulates one delta onto a proxy's stored totals.
func (s *TrafficStore) Add(proxy string, up, down uint64) error {
	key := []byte(proxy)
	var updated TransferTotals
	err := s.db.Update(func(txn *badger.Txn) error {
		var cur TransferTotals
		item, err := txn.Get(key)
		if err == nil {
			err = item.Value(func(v []byte) error {
				cur, err = decodeTotals(v)
				return err
			})
			if err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		updated = TransferTotals{Upload: cur.Upload + up, Download: cur.Download + down}
		return txn.Set(key, encodeTotals(updated))
	})
	if err == nil {
		s.cache.Store(proxy, updated)
	}
	return err
}

// BatchAdd accumulates many deltas in one write batch. Used by the meter's
// periodic flush.
func (s *TrafficStore) BatchAdd(deltas map[string]TransferTotals) error {
	if len(deltas) == 0 {
		return nil
	}

	updated := make(map[string]TransferTotals, len(deltas))
	err := s.db.View(func(txn *badger.Txn) error {
		for proxy, delta := range deltas {
			cur := TransferTotals{}
			item, err := txn.Get([]byte(proxy))
			if err == nil {
				err = item.Value(func(v []byte) error {
					cur, err = decodeTotals(v)
					return err
				})
				if err != nil {
					return err
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			updated[proxy] = TransferTotals{
				Upload:   cur.Upload + delta.Upload,
				Download: cur.Download + delta.Download,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for proxy, t := range updated {
		if err := wb.Set([]byte(proxy), encodeTotals(t)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	for proxy, t := range updated {
		s.cache.Store(proxy, t)
	}
	return nil
}

// Get returns a proxy's stored totals; unknown proxies read as zero.
func (s *TrafficStore) Get(proxy string) (TransferTotals, error) {
	if v, ok := s.cache.Load(proxy); ok {
		return v.(TransferTotals), nil
	}

	var totals TransferTotals
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(proxy))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			totals, err = decodeTotals(v)
			return err
		})
	})
	if err == badger.ErrKeyNotFound {
		err = nil
	}
	if err == nil {
		s.cache.Store(proxy, totals)
	}
	return totals, err
}

// ForEach visits every stored proxy in key order.
func (s *TrafficStore) ForEach(fn func(proxy string, t TransferTotals) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			proxy := string(item.Key())
			err := item.Value(func(v []byte) error {
				totals, err := decodeTotals(v)
				if err != nil {
					return err
				}
				return fn(proxy, totals)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
