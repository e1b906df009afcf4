// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// leveldbBackend implements Backend on top of github.com/syndtr/goleveldb,
// giving Store an optional durable tier without changing its in-memory
// read/write path: every lookup still hits the map, this only makes writes
// survive a restart.
type leveldbBackend struct {
	db *leveldb.DB
}

// NewLevelDBBackend opens (creating if necessary) a leveldb database at dir
// to back a Store. The returned Backend should be passed to NewDurable.
func NewLevelDBBackend(dir string) (Backend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &leveldbBackend{db: db}, nil
}

func (b *leveldbBackend) Get(key []byte) ([]byte, error) {
	v, err := b.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrBackendNotFound
	}
	return v, err
}

func (b *leveldbBackend) Put(key, value []byte) error {
	return b.db.Put(key, value, nil)
}

func (b *leveldbBackend) Delete(key []byte) error {
	return b.db.Delete(key, nil)
}

func (b *leveldbBackend) Iterate(fn func(key, value []byte) error) error {
	var it iterator.Iterator
	it = b.db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (b *leveldbBackend) NewBatch() Batch {
	return &leveldbBatch{db: b.db, batch: new(leveldb.Batch)}
}

func (b *leveldbBackend) Close() error {
	return b.db.Close()
}

type leveldbBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *leveldbBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *leveldbBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func (b *leveldbBatch) Write() error {
	return b.db.Write(b.batch, nil)
}

func (b *leveldbBatch) Reset() {
	b.batch.Reset()
}
