// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package mem

import (
	"cmp"
	"iter"
	"slices"

	"golang.org/x/exp/constraints"
)

// BinaryTreeMap is a map backed by a sorted slice. With a nil arena, its
// entries live on the heap and the map may outlive any arena.
type BinaryTreeMap[K constraints.Ordered, V any] struct {
	entries []binaryTreeMapEntry[K, V]
}

type binaryTreeMapEntry[K constraints.Ordered, V any] struct {
	key   K
	value V
}

func (m *BinaryTreeMap[K, V]) search(key K) (int, bool) {
	return slices.BinarySearchFunc(m.entries, key, func(e binaryTreeMapEntry[K, V], key K) int {
		return cmp.Compare(e.key, key)
	})
}

func (m *BinaryTreeMap[K, V]) Insert(a *Arena, key K, value V) {
	idx, ok := m.search(key)
	if ok {
		m.entries[idx].value = value
		return
	}
	e := binaryTreeMapEntry[K, V]{key, value}
	if a == nil {
		m.entries = slices.Insert(m.entries, idx, e)
		return
	}
	m.entries = Grow(a, m.entries, 1)
	m.entries = m.entries[:len(m.entries)+1]
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = e
}

func (m *BinaryTreeMap[K, V]) Get(key K) (V, bool) {
	if idx, ok := m.search(key); ok {
		return m.entries[idx].value, true
	}
	return *new(V), false
}

// Delete removes key and reports whether it was present.
func (m *BinaryTreeMap[K, V]) Delete(key K) bool {
	idx, ok := m.search(key)
	if !ok {
		return false
	}
	m.entries = slices.Delete(m.entries, idx, idx+1)
	return true
}

func (m *BinaryTreeMap[K, V]) Len() int { return len(m.entries) }

func (m *BinaryTreeMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, e := range m.entries {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

func (m *BinaryTreeMap[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for _, e := range m.entries {
			if !yield(e.key) {
				return
			}
		}
	}
}
