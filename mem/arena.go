// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package mem provides a per-frame arena for the many small, short-lived
// allocations made while recording a cascade update.
package mem

import (
	"reflect"
)

const slabSize = 256 * 1024

// Arena hands out typed memory until Reset is called. Every type gets its own
// list of slabs, so values containing pointers stay visible to the garbage
// collector.
type Arena struct {
	slabs map[reflect.Type]slabList
}

type slabList interface {
	reset()
	used() int
}

func NewArena() *Arena {
	return &Arena{
		slabs: make(map[reflect.Type]slabList),
	}
}

type typedSlabs[T any] struct {
	slabs [][]T
	// cur is the slab currently being carved up, off the offset into it.
	cur int
	off int
}

func slabsFor[T any](a *Arena) *typedSlabs[T] {
	if a.slabs == nil {
		a.slabs = make(map[reflect.Type]slabList)
	}
	// TypeFor works for interface types, unlike TypeOf(*new(T)).
	typ := reflect.TypeFor[T]()
	s, ok := a.slabs[typ]
	if !ok {
		s = &typedSlabs[T]{}
		a.slabs[typ] = s
	}
	return s.(*typedSlabs[T])
}

func slabLen[T any]() int {
	sz := int(reflect.TypeFor[T]().Size())
	if sz == 0 {
		return 1
	}
	return max(1, slabSize/sz)
}

func (s *typedSlabs[T]) alloc(n int) []T {
	for s.cur < len(s.slabs) {
		sl := s.slabs[s.cur]
		if len(sl)-s.off >= n {
			out := sl[s.off : s.off+n : s.off+n]
			s.off += n
			return out
		}
		s.cur++
		s.off = 0
	}
	sl := make([]T, max(n, slabLen[T]()))
	s.slabs = append(s.slabs, sl)
	s.cur = len(s.slabs) - 1
	s.off = n
	return sl[:n:n]
}

func (s *typedSlabs[T]) reset() {
	for i := range s.slabs {
		if i > s.cur {
			break
		}
		// Clear memory so it doesn't keep Go pointers alive and so that
		// allocations return zeroed values.
		clear(s.slabs[i])
	}
	s.cur = 0
	s.off = 0
}

func (s *typedSlabs[T]) used() int {
	n := 0
	for i := range s.slabs {
		if i < s.cur {
			n += len(s.slabs[i])
		}
	}
	return n + s.off
}

func New[T any](a *Arena) *T {
	return &slabsFor[T](a).alloc(1)[0]
}

func Make[T any](a *Arena, v T) *T {
	ptr := New[T](a)
	*ptr = v
	return ptr
}

func NewSlice[T ~[]E, E any](a *Arena, len, cap int) T {
	if cap == 0 {
		return nil
	}
	return T(slabsFor[E](a).alloc(cap)[:len])
}

func MakeSlice[T ~[]E, E any](a *Arena, values T) T {
	// MakeSlice inlines, which means that MakeSlice(a, []T{...}) won't have to
	// allocate to pass the values to us.
	s := NewSlice[T, E](a, len(values), len(values))
	copy(s, values)
	return s
}

func Varargs[E any](a *Arena, values ...E) []E {
	return MakeSlice[[]E, E](a, values)
}

func Append[T ~[]E, E any](a *Arena, s T, data ...E) T {
	s = Grow(a, s, len(data))
	s = append(s, data...)
	return s
}

func Grow[T ~[]E, E any](a *Arena, s T, n int) T {
	if n -= cap(s) - len(s); n > 0 {
		s = growSlice(a, s, n)
	}
	return s
}

func growSlice[T ~[]E, E any](a *Arena, s T, n int) T {
	const growThreshold = 256
	newLen := len(s) + n
	newCap := cap(s)

	if newCap > 0 {
		for newLen > newCap {
			if newCap < growThreshold {
				newCap *= 2
			} else {
				newCap += newCap / 4
			}
		}
	} else {
		newCap = n
	}
	if newCap == cap(s) {
		return s
	}
	s2 := NewSlice[T, E](a, len(s), newCap)
	copy(s2, s)
	return s2
}

// Used returns the number of values of type T currently allocated from the
// arena, including slab tails skipped over because they were too short.
func Used[T any](a *Arena) int {
	if s, ok := a.slabs[reflect.TypeFor[T]()]; ok {
		return s.used()
	}
	return 0
}

func (a *Arena) Reset() {
	for _, s := range a.slabs {
		s.reset()
	}
}
