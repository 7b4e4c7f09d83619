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

package strmap

// Iterator is a cursor over a Map's entries. It holds a reference to the
// map and a position in the slot array, not a snapshot: each Next call
// acquires the map's mutex independently, so iteration is "read committed
// per step" rather than isolated. A Put, Delete, or growth event occurring
// between two Next calls is visible to subsequent steps; in particular a
// growth rehashes entries into new positions, which can cause an in-flight
// iteration to skip or repeat entries relative to what it has already
// yielded. Entries are produced in the physical slot order of the array,
// not insertion order.
//
// If no mutation happens during the iteration, Next yields every entry
// exactly once.
type Iterator[V any] struct {
	m    *Map[V]
	pos  int
	done bool
}

// Iter returns an iterator positioned before the first slot.
func (m *Map[V]) Iter() *Iterator[V] {
	return &Iterator[V]{m: m}
}

// Next advances the iterator to the next entry and returns its key and
// value, or ok=false once the slot array is exhausted. An exhausted
// iterator stays exhausted; start a fresh one with Iter to iterate again.
func (it *Iterator[V]) Next() (key string, value V, ok bool) {
	if it.done {
		return key, value, false
	}

	m := it.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for it.pos < len(m.slots) {
		s := &m.slots[it.pos]
		it.pos++
		if s.state == slotFull {
			return s.key, s.value, true
		}
	}
	it.done = true
	return key, value, false
}

// All calls yield sequentially for each key and value present in the map.
// If yield returns false, iteration stops. All is built on Iterator and
// inherits its per-step locking: the map may be mutated during iteration,
// including from within yield, and mutations are visible to later steps.
//
// The signature matches the range-over-function form, so on Go versions
// with that feature the map can be iterated with "range m.All".
func (m *Map[V]) All(yield func(key string, value V) bool) {
	it := m.Iter()
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		if !yield(k, v) {
			return
		}
	}
}
