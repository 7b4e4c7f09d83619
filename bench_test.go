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

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
	"github.com/cespare/xxhash/v2"
)

// lockedMap is the comparison point: Go's builtin map guarded by the same
// coarse-grained locking discipline a Map uses.
type lockedMap[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

func newLockedMap[V any](n int) *lockedMap[V] {
	return &lockedMap[V]{m: make(map[string]V, n)}
}

func (l *lockedMap[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	v, ok := l.m[key]
	l.mu.Unlock()
	return v, ok
}

func (l *lockedMap[V]) Put(key string, value V) {
	l.mu.Lock()
	l.m[key] = value
	l.mu.Unlock()
}

func (l *lockedMap[V]) Delete(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	cases := []int{16, 128, 1024, 8192, 1 << 16}
	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

func genKeys(start, end int) []string {
	keys := make([]string, end-start)
	for i := range keys {
		keys[i] = strconv.Itoa(start + i)
	}
	return keys
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=lockedMap", benchSizes(benchmarkLockedMapGetHit))
	b.Run("impl=strmap", benchSizes(benchmarkStrmapGetHit))
	b.Run("impl=strmap/hash=xxhash", benchSizes(benchmarkStrmapXXHashGetHit))
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=lockedMap", benchSizes(benchmarkLockedMapGetMiss))
	b.Run("impl=strmap", benchSizes(benchmarkStrmapGetMiss))
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=lockedMap", benchSizes(benchmarkLockedMapPutGrow))
	b.Run("impl=strmap", benchSizes(benchmarkStrmapPutGrow))
}

func BenchmarkMapPutDelete(b *testing.B) {
	b.Run("impl=lockedMap", benchSizes(benchmarkLockedMapPutDelete))
	b.Run("impl=strmap", benchSizes(benchmarkStrmapPutDelete))
}

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=lockedMap", benchSizes(benchmarkLockedMapIter))
	b.Run("impl=strmap", benchSizes(benchmarkStrmapIter))
}

func benchmarkLockedMapGetHit(b *testing.B, n int) {
	m := newLockedMap[int](n)
	keys := genKeys(0, n)
	for i, k := range keys {
		m.Put(k, i+1)
	}
	// Defeat the builtin map's pointer-equality shortcut for string keys
	// so the comparison is apples-to-apples.
	keys = genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkStrmapGetHit(b *testing.B, n int) {
	m := New[int](WithCapacity[int](2 * n))
	keys := genKeys(0, n)
	for i, k := range keys {
		_ = m.Put(k, i+1)
	}
	keys = genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkStrmapXXHashGetHit(b *testing.B, n int) {
	m := New[int](WithCapacity[int](2*n), WithHash[int](xxhash.Sum64String))
	keys := genKeys(0, n)
	for i, k := range keys {
		_ = m.Put(k, i+1)
	}
	keys = genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkLockedMapGetMiss(b *testing.B, n int) {
	m := newLockedMap[int](n)
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for i, k := range keys {
		m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%n])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkStrmapGetMiss(b *testing.B, n int) {
	m := New[int]()
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for i, k := range keys {
		_ = m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%n])
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkLockedMapPutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := newLockedMap[int](0)
		for j, k := range keys {
			m.Put(k, j+1)
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkStrmapPutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := New[int]()
		for j, k := range keys {
			_ = m.Put(k, j+1)
		}
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkLockedMapPutDelete(b *testing.B, n int) {
	m := newLockedMap[int](n)
	keys := genKeys(0, n)
	for i, k := range keys {
		m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(keys[j])
		m.Put(keys[j], j+1)
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkStrmapPutDelete(b *testing.B, n int) {
	m := New[int](WithCapacity[int](2 * n))
	keys := genKeys(0, n)
	for i, k := range keys {
		_ = m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		j := i % n
		m.Delete(keys[j])
		_ = m.Put(keys[j], j+1)
	}
	b.StopTimer()
	cs.Stop()
}

func benchmarkLockedMapIter(b *testing.B, n int) {
	m := newLockedMap[int](n)
	keys := genKeys(0, n)
	for i, k := range keys {
		m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var tmp int
	for i := 0; i < b.N; i++ {
		m.mu.Lock()
		for _, v := range m.m {
			tmp += v
		}
		m.mu.Unlock()
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkStrmapIter(b *testing.B, n int) {
	m := New[int](WithCapacity[int](2 * n))
	keys := genKeys(0, n)
	for i, k := range keys {
		_ = m.Put(k, i+1)
	}
	cs := perfbench.Open(b)
	b.ResetTimer()
	var tmp int
	for i := 0; i < b.N; i++ {
		m.All(func(k string, v int) bool {
			tmp += v
			return true
		})
	}
	b.StopTimer()
	cs.Stop()
	fmt.Fprint(io.Discard, tmp)
}
