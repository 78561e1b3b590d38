// Package dbm wraps tkrzw hash and tree databases with typed accessors.
// Values are stored as JSON; missing keys surface as os.ErrNotExist so
// callers can errors.Is instead of inspecting tkrzw status codes.
package dbm

import (
	"fmt"
	"os"
	"sync"

	"github.com/estraier/tkrzw-go"

	driver "github.com/duskmud/driver"

	goccy "github.com/goccy/go-json"
)

type Hash struct {
	dbm   *tkrzw.DBM
	mutex *sync.RWMutex
}

func OpenHash(path string) (*Hash, error) {
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(fmt.Sprintf("%s.tkh", path), true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"restore_mode":     "RESTORE_SYNC|RESTORE_NO_SHORTCUTS|RESTORE_WITH_HARDSYNC",
	})
	if !stat.IsOK() {
		return nil, driver.WithStack(stat)
	}
	return &Hash{dbm, &sync.RWMutex{}}, nil
}

func (h *Hash) Get(k string) ([]byte, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	b, stat := h.dbm.Get(k)
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return nil, driver.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return nil, driver.WithStack(stat)
	}
	return b, nil
}

func (h *Hash) Set(k string, v []byte, overwrite bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Set(k, v, overwrite); !stat.IsOK() {
		return driver.WithStack(stat)
	}
	return nil
}

func (h *Hash) Del(k string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Remove(k); stat.GetCode() == tkrzw.StatusNotFoundError {
		return driver.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return driver.WithStack(stat)
	}
	return nil
}

func (h *Hash) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if stat := h.dbm.Close(); !stat.IsOK() {
		return driver.WithStack(stat)
	}
	return nil
}

// Tree is a Hash over a B-tree file with lexically ordered keys, which
// makes First meaningful.
type Tree struct {
	*Hash
}

func OpenTree(path string) (*Tree, error) {
	dbm := tkrzw.NewDBM()
	stat := dbm.Open(fmt.Sprintf("%s.tkt", path), true, map[string]string{
		"update_mode":      "UPDATE_APPENDING",
		"record_comp_mode": "RECORD_COMP_NONE",
		"key_comparator":   "LexicalKeyComparator",
	})
	if !stat.IsOK() {
		return nil, driver.WithStack(stat)
	}
	return &Tree{&Hash{dbm, &sync.RWMutex{}}}, nil
}

// First returns the smallest key and its value, or os.ErrNotExist when
// the tree is empty.
func (t *Tree) First() (string, []byte, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	iter := t.dbm.MakeIterator()
	defer iter.Destruct()
	if stat := iter.First(); !stat.IsOK() {
		return "", nil, driver.WithStack(stat)
	}
	key, value, stat := iter.Get()
	if stat.GetCode() == tkrzw.StatusNotFoundError {
		return "", nil, driver.WithStack(os.ErrNotExist)
	} else if !stat.IsOK() {
		return "", nil, driver.WithStack(stat)
	}
	return string(key), value, nil
}

// Each calls f for every key/value pair in key order until f returns
// false or an error.
func (t *Tree) Each(f func(key string, value []byte) (bool, error)) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	iter := t.dbm.MakeIterator()
	defer iter.Destruct()
	for stat := iter.First(); stat.IsOK(); stat = iter.Next() {
		key, value, stat := iter.Get()
		if stat.GetCode() == tkrzw.StatusNotFoundError {
			return nil
		} else if !stat.IsOK() {
			return driver.WithStack(stat)
		}
		cont, err := f(string(key), value)
		if err != nil {
			return driver.WithStack(err)
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// TypeTree stores JSON-encoded values of one type in a Tree.
type TypeTree[T any] struct {
	*Tree
}

func OpenTypeTree[T any](path string) (*TypeTree[T], error) {
	t, err := OpenTree(path)
	if err != nil {
		return nil, driver.WithStack(err)
	}
	return &TypeTree[T]{t}, nil
}

func (t *TypeTree[T]) GetT(k string) (*T, error) {
	b, err := t.Get(k)
	if err != nil {
		return nil, err
	}
	res := new(T)
	if err := goccy.Unmarshal(b, res); err != nil {
		return nil, driver.WithStack(err)
	}
	return res, nil
}

func (t *TypeTree[T]) SetT(k string, v *T, overwrite bool) error {
	b, err := goccy.Marshal(v)
	if err != nil {
		return driver.WithStack(err)
	}
	return t.Set(k, b, overwrite)
}

func (t *TypeTree[T]) FirstT() (string, *T, error) {
	key, b, err := t.First()
	if err != nil {
		return "", nil, err
	}
	res := new(T)
	if err := goccy.Unmarshal(b, res); err != nil {
		return "", nil, driver.WithStack(err)
	}
	return key, res, nil
}

func (t *TypeTree[T]) EachT(f func(key string, value *T) (bool, error)) error {
	return t.Each(func(key string, value []byte) (bool, error) {
		res := new(T)
		if err := goccy.Unmarshal(value, res); err != nil {
			return false, driver.WithStack(err)
		}
		return f(key, res)
	})
}
