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

// Option provides an interface to configure a Map while it is being
// created.
type Option[V any] interface {
	apply(cfg *config[V])
}

// config collects the settings an Option can change before New allocates
// the table.
type config[V any] struct {
	hash      func(key string) uint64
	allocator Allocator[V]
	capacity  int
}

type hashOption[V any] struct {
	hash func(key string) uint64
}

func (op hashOption[V]) apply(cfg *config[V]) {
	cfg.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[V].
// The function must be deterministic for the lifetime of the map. The
// default is 64-bit FNV-1a.
func WithHash[V any](hash func(key string) uint64) Option[V] {
	return hashOption[V]{hash}
}

type capacityOption[V any] struct {
	capacity int
}

func (op capacityOption[V]) apply(cfg *config[V]) {
	if op.capacity > 0 {
		cfg.capacity = op.capacity
	}
}

// WithCapacity is an option to specify the initial capacity of a Map[V],
// rounded up to the next power of two. Values <= 0 leave the default
// capacity in place.
func WithCapacity[V any](capacity int) Option[V] {
	return capacityOption[V]{capacity}
}

// Allocator specifies an interface for allocating and releasing the slot
// arrays used by a Map. The default allocator uses Go's builtin make() and
// lets the GC reclaim memory.
//
// If the allocator manually manages memory then Map.Close must be called in
// order to ensure Free is called for the final slot array.
type Allocator[V any] interface {
	// Alloc should return a slice equivalent to make([]Slot[V], n): n
	// slots, all in the empty state.
	Alloc(n int) []Slot[V]

	// Free can optionally release the memory associated with the supplied
	// slice, which is guaranteed to have been returned by Alloc.
	Free(slots []Slot[V])
}

type defaultAllocator[V any] struct{}

func (defaultAllocator[V]) Alloc(n int) []Slot[V] {
	return make([]Slot[V], n)
}

func (defaultAllocator[V]) Free(slots []Slot[V]) {
}

type allocatorOption[V any] struct {
	allocator Allocator[V]
}

func (op allocatorOption[V]) apply(cfg *config[V]) {
	cfg.allocator = op.allocator
}

// WithAllocator is an option to specify the Allocator to use for a Map[V].
func WithAllocator[V any](allocator Allocator[V]) Option[V] {
	return allocatorOption[V]{allocator}
}
