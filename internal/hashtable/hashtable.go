// Package hashtable is a bucketed hash table with a lock-free Get:
// reads walk bucket chains via atomic pointer loads and never take a
// lock, while Set/Del take a per-bucket write lock. Used by vfs for
// each directory's child map and for the filesystem-name registry
// (spec §4.5's "name -> filesystem operations" lookup). Adapted from
// the teacher's hashtable.Hashtable_t (biscuit/src/hashtable), keeping
// its lock-free-read / locked-write bucket design and atomic
// pointer-chase helpers; key types are narrowed to this module's two
// actual callers, ustr.Ustr (vfs child names) and string (fs-name
// registry keys).
package hashtable

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"unsafe"

	"astralkernel/ustr"
)

type elem_t struct {
	key     any
	value   any
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.RWMutex
	first *elem_t
}

func (b *bucket_t) elems() []Pair {
	b.RLock()
	defer b.RUnlock()
	p := make([]Pair, 0)
	for e := b.first; e != nil; e = e.next {
		p = append(p, Pair{Key: e.key, Value: e.value})
	}
	return p
}

// Table is a hash table mapping ustr.Ustr or string keys to arbitrary
// values, protected internally by per-bucket locks.
type Table struct {
	buckets  []*bucket_t
	maxchain int
}

// New allocates a table with the given number of buckets.
func New(size int) *Table {
	t := &Table{buckets: make([]*bucket_t, size), maxchain: 1}
	for i := range t.buckets {
		t.buckets[i] = &bucket_t{}
	}
	return t
}

// Pair is a key/value tuple returned by Elems.
type Pair struct {
	Key   any
	Value any
}

// Elems returns every key/value pair currently stored.
func (t *Table) Elems() []Pair {
	p := make([]Pair, 0)
	for _, b := range t.buckets {
		p = append(p, b.elems()...)
	}
	return p
}

// Get looks up key without taking any lock, chasing the bucket chain
// via atomic pointer loads.
func (t *Table) Get(key any) (any, bool) {
	kh := khash(key)
	b := t.buckets[t.index(kh)]
	n := 0
	for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, true
		}
		n++
		if n > t.maxchain {
			t.maxchain = n
		}
	}
	return nil, false
}

// Set inserts a key/value pair, returning false if the key already
// existed (the existing value is left untouched).
func (t *Table) Set(key, value any) (any, bool) {
	kh := khash(key)
	b := t.buckets[t.index(kh)]
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t) {
		if last == nil {
			storeptr(&b.first, &elem_t{key: key, value: value, keyHash: kh, next: b.first})
		} else {
			storeptr(&last.next, &elem_t{key: key, value: value, keyHash: kh, next: last.next})
		}
	}

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, false
		}
		if kh < e.keyHash {
			add(last)
			return value, true
		}
		last = e
	}
	add(last)
	return value, true
}

// Del removes key, panicking if it is not present (callers are
// expected to have already confirmed membership, matching the
// teacher's del-of-nonexistent-key invariant).
func (t *Table) Del(key any) {
	kh := khash(key)
	b := t.buckets[t.index(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			if last == nil {
				storeptr(&b.first, e.next)
			} else {
				storeptr(&last.next, e.next)
			}
			return
		}
		last = e
	}
	panic("hashtable: del of non-existing key")
}

func (t *Table) index(keyHash uint32) int { return int(keyHash % uint32(len(t.buckets))) }

func loadptr(e **elem_t) *elem_t {
	return (*elem_t)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(e))))
}

func storeptr(p **elem_t, n *elem_t) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(n))
}

func hash(key any) uint32 {
	switch x := key.(type) {
	case ustr.Ustr:
		h := fnv.New32a()
		h.Write(x)
		return h.Sum32()
	case string:
		h := fnv.New32a()
		h.Write([]byte(x))
		return h.Sum32()
	default:
		panic("hashtable: unsupported key type")
	}
}

func khash(key any) uint32 { return uint32(2654435761) * hash(key) }

func equal(a, b any) bool {
	switch x := a.(type) {
	case ustr.Ustr:
		return x.Eq(b.(ustr.Ustr))
	case string:
		return x == b.(string)
	default:
		panic("hashtable: unsupported key type")
	}
}
