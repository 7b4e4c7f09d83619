// Copyright 2024 The strmap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package strmap implements a hash table from string keys to values of an
// arbitrary type V, safe for concurrent use by multiple goroutines.
//
// # Design
//
// The table uses open addressing with linear probing: all entries live
// directly in a single slot array and a collision moves the probe to the
// next sequential slot, wrapping at the end of the array. If you're not
// familiar with open-addressing see
// https://en.wikipedia.org/wiki/Open_addressing. The capacity is always a
// power of two so that the starting slot for a key can be computed as
// hash(key) & (capacity-1) without a division. The default hash function is
// 64-bit FNV-1a which is simple, has good distribution for the short ASCII
// keys this table is typically used with, and requires no per-table seed.
// A different hash function can be specified with the WithHash option.
//
// Each slot is in one of three states: empty, full, or tombstone. The
// tombstone state exists because of a well known hazard of linear probing:
// lookup scans terminate at the first empty slot, so naively clearing a
// deleted slot to empty would make any key whose probe sequence passes
// through it unreachable. Delete instead leaves a tombstone, which lookups
// scan through and which Put may reclaim. Growth re-places only full slots
// into the new array, so tombstones are collected for free on every resize.
//
// The table grows, doubling its capacity, when an insert would bring the
// number of entries to half the capacity or more. It never shrinks. Keeping
// the load factor at or below 1/2 bounds probe lengths and guarantees every
// probe sequence terminates at an empty slot.
//
// # Concurrency
//
// A single sync.Mutex guards the slot array, the capacity, and the entry
// count. Every operation (Get, Put, Delete, Len, and each iteration step)
// holds the mutex for its entire body, so operations on one Map observe a
// total order. Iteration is the deliberate exception to isolation: an
// Iterator re-acquires the mutex on each Next call rather than snapshotting
// the table, so mutations made between steps are visible to later steps.
// See Iterator for the exact contract.
//
// The table copies keys on insertion and owns the copies. Values are stored
// and returned verbatim; the table never inspects them, and the caller
// manages their lifetime. Nil references are reserved to mean "no entry"
// and are not storable: Put rejects them with ErrNilValue, so a retrieved
// value is always a usable reference.
package strmap

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"
	"strings"
	"sync"
)

// initialCapacity is the slot count a new Map starts with unless
// WithCapacity says otherwise. Must be a non-zero power of two.
const initialCapacity = 16

// 64-bit FNV-1a parameters. See
// https://en.wikipedia.org/wiki/Fowler–Noll–Vo_hash_function.
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

var (
	// ErrNilValue is returned by Put when the value is a nil reference.
	// The nil reference is reserved: callers may treat any value obtained
	// from the table as non-nil, so storing one is a contract violation.
	ErrNilValue = errors.New("strmap: nil value")

	// ErrCapacityOverflow is returned by Put when growing the table would
	// overflow the slot index width. Unreachable at realistic sizes; the
	// allocation itself fails long before the doubled capacity overflows
	// an int.
	ErrCapacityOverflow = errors.New("strmap: capacity overflow")
)

// fnv1a returns the 64-bit FNV-1a digest of key: starting from the offset
// basis, each byte is XORed into the running hash which is then multiplied
// by the FNV prime, with wrapping arithmetic throughout.
func fnv1a(key string) uint64 {
	h := fnvOffset64
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	return h
}

// slotState tags the three states a slot can be in. The tombstone state
// marks a slot that previously held an entry; lookups scan through
// tombstones while they terminate at empty slots.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotFull
)

// Slot holds a key and value. The zero value of a Slot is an empty slot,
// which is what makes a freshly allocated slot array a valid empty table.
type Slot[V any] struct {
	state slotState
	key   string
	value V
}

// Map is a hash table from string keys to values of type V with Get, Put,
// Delete, Len, and iteration operations. A Map is safe for concurrent use:
// all operations are serialized by an internal mutex. The zero value for a
// Map is not usable; call New.
type Map[V any] struct {
	// mu guards slots and used. The slot array and the capacity
	// (len(slots)) are only read or written while holding mu.
	mu sync.Mutex
	// hash maps a key to its 64-bit digest. Never nil.
	hash func(key string) uint64
	// allocator provides and reclaims slot arrays.
	allocator Allocator[V]
	// slots is the backing array. len(slots) is the capacity and is
	// always a non-zero power of two.
	slots []Slot[V]
	// used is the number of full slots. Tombstones are not counted.
	used int
}

// New constructs an empty Map with the default capacity, hash function, and
// allocator, each of which can be overridden with an option.
func New[V any](options ...Option[V]) *Map[V] {
	cfg := config[V]{
		hash:      fnv1a,
		allocator: defaultAllocator[V]{},
		capacity:  initialCapacity,
	}
	for _, op := range options {
		op.apply(&cfg)
	}

	m := &Map[V]{
		hash:      cfg.hash,
		allocator: cfg.allocator,
		slots:     cfg.allocator.Alloc(roundUpPow2(cfg.capacity)),
	}
	m.checkInvariants()
	return m
}

// Close releases the slot array back to the map's allocator. It is
// unnecessary to close a Map using the default allocator. The caller must
// guarantee that no other goroutine is using the map or holds an iterator
// over it; Close itself is not synchronized. It is invalid to use a Map
// after it has been closed, though Close is idempotent.
func (m *Map[V]) Close() {
	if m.slots != nil {
		m.allocator.Free(m.slots)
		m.slots = nil
		m.used = 0
	}
}

// Get retrieves the value stored for key, returning ok=false if the key is
// not present.
func (m *Map[V]) Get(key string) (value V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.find(key)
	if !ok {
		return value, false
	}
	return m.slots[i].value, true
}

// Put inserts an entry into the map, overwriting the value if an entry with
// the same key already exists. The value must not be a nil reference; Put
// returns ErrNilValue without modifying the map if it is. On any error the
// map is left unchanged.
func (m *Map[V]) Put(key string, value V) error {
	if isNilValue(value) {
		return ErrNilValue
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Grow before probing so that the insert below always finds a free
	// slot and never pushes the load factor past 1/2.
	if m.used >= len(m.slots)/2 {
		if err := m.grow(); err != nil {
			return err
		}
	}

	// Unlike Get and Delete, Put cannot use find: while scanning for the
	// key it also has to remember the first tombstone on the probe path.
	// A tombstone is reclaimable, but only once the scan has proven the
	// key doesn't live later in the same cluster; landing in it eagerly
	// would insert a duplicate.
	mask := uint64(len(m.slots) - 1)
	i := m.hash(key) & mask
	target := -1
probe:
	for n := 0; n < len(m.slots); n++ {
		s := &m.slots[i]
		switch s.state {
		case slotEmpty:
			if target < 0 {
				target = int(i)
			}
			break probe
		case slotTombstone:
			if target < 0 {
				target = int(i)
			}
		case slotFull:
			if s.key == key {
				s.value = value
				return nil
			}
		}
		i = (i + 1) & mask
	}
	if target < 0 {
		// The growth above keeps at least half the slots non-full, so
		// the probe must have seen an empty or tombstone slot.
		panic("strmap: no free slot found\n" + m.debugString())
	}

	s := &m.slots[target]
	s.state = slotFull
	// Copy the key so the table doesn't pin the caller's backing buffer.
	s.key = strings.Clone(key)
	s.value = value
	m.used++
	m.checkInvariants()
	return nil
}

// Delete removes the entry for key, reporting whether an entry was present.
// Deleting an absent key is a noop.
func (m *Map[V]) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.find(key)
	if !ok {
		return false
	}

	// Leave a tombstone rather than an empty slot so that keys further
	// along the same probe cluster stay reachable. Tombstones are dropped
	// wholesale on the next growth.
	var zero V
	s := &m.slots[i]
	s.state = slotTombstone
	s.key = ""
	s.value = zero
	m.used--
	m.checkInvariants()
	return true
}

// Len returns the number of entries in the map.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Clear removes every entry while retaining the current capacity.
func (m *Map[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.slots)
	m.used = 0
	m.checkInvariants()
}

// find runs the linear probe for key and returns the index of its full
// slot. The scan starts at hash(key) & (capacity-1) and walks sequential
// slots with wraparound until it hits a matching key, the first empty slot
// (key absent), or has visited every slot (the defensive bound for a table
// with no empty slots). Tombstones are scanned through. The caller must
// hold m.mu.
func (m *Map[V]) find(key string) (int, bool) {
	mask := uint64(len(m.slots) - 1)
	i := m.hash(key) & mask
	for n := 0; n < len(m.slots); n++ {
		s := &m.slots[i]
		if s.state == slotEmpty {
			break
		}
		if s.state == slotFull && s.key == key {
			return int(i), true
		}
		i = (i + 1) & mask
	}
	return -1, false
}

// grow doubles the capacity, re-placing every full slot against the new
// mask and discarding tombstones. The old array is returned to the
// allocator. On failure the map is left completely unchanged. The caller
// must hold m.mu.
func (m *Map[V]) grow() error {
	newCapacity := 2 * len(m.slots)
	if newCapacity <= len(m.slots) {
		return ErrCapacityOverflow
	}

	slots := m.allocator.Alloc(newCapacity)
	mask := uint64(newCapacity - 1)
	for idx := range m.slots {
		s := &m.slots[idx]
		if s.state != slotFull {
			continue
		}
		// The key copy moves to the new array; it is not re-copied. The
		// destination scan only needs to find a free slot: every key is
		// unique, so no match check is required.
		i := m.hash(s.key) & mask
		for slots[i].state == slotFull {
			i = (i + 1) & mask
		}
		slots[i] = Slot[V]{state: slotFull, key: s.key, value: s.value}
	}

	old := m.slots
	m.slots = slots
	m.allocator.Free(old)
	m.checkInvariants()
	return nil
}

// isNilValue reports whether value is a nil reference: a nil pointer, map,
// slice, channel, function, interface, or unsafe pointer. An interface
// value is unwrapped so that a typed nil held inside it (for example
// (*int)(nil) stored in an any) is also reported as nil. Values of
// non-nilable kinds are never nil.
func isNilValue[V any](value V) bool {
	rv := reflect.ValueOf(&value).Elem()
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return true
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// roundUpPow2 returns the smallest power of two >= n, minimum 1.
func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (m *Map[V]) checkInvariants() {
	if invariants {
		if c := len(m.slots); c == 0 || c&(c-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a non-zero power of two", c))
		}

		// Count the full slots and verify every stored key is reachable
		// through find.
		var used int
		for i := range m.slots {
			s := &m.slots[i]
			switch s.state {
			case slotFull:
				used++
				if j, ok := m.find(s.key); !ok || j != i {
					panic(fmt.Sprintf("invariant failed: slot(%d): %q not found [start=%d]\n%s",
						i, s.key, m.hash(s.key)&uint64(len(m.slots)-1), m.debugString()))
				}
			case slotEmpty, slotTombstone:
				if s.key != "" {
					panic(fmt.Sprintf("invariant failed: slot(%d): non-full slot retains key %q\n%s",
						i, s.key, m.debugString()))
				}
			}
		}

		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d full slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
	}
}

func (m *Map[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d\n", len(m.slots), m.used)
	for i := range m.slots {
		switch s := &m.slots[i]; s.state {
		case slotEmpty:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case slotTombstone:
			fmt.Fprintf(&buf, "  %4d: tombstone\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: %q -> %v [start=%d]\n",
				i, s.key, s.value, m.hash(s.key)&uint64(len(m.slots)-1))
		}
	}
	return buf.String()
}
