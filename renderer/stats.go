// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

import (
	"iter"
	"time"
)

// Weight of a new sample in the running average.
const statsAlpha = 0.1

type StageStats struct {
	Avg     time.Duration
	Max     time.Duration
	Samples uint64
}

func (s *StageStats) Add(d time.Duration) {
	if s.Samples == 0 {
		s.Avg = d
	} else {
		s.Avg = time.Duration(float64(s.Avg)*(1-statsAlpha) + float64(d)*statsAlpha)
	}
	s.Max = max(s.Max, d)
	s.Samples++
}

// Stats aggregates per-stage timings, keyed by stage label.
type Stats struct {
	stages map[string]*StageStats
	// Labels in order of first appearance.
	order []string
}

func (s *Stats) Add(label string, d time.Duration) {
	if s.stages == nil {
		s.stages = make(map[string]*StageStats)
	}
	st, ok := s.stages[label]
	if !ok {
		st = &StageStats{}
		s.stages[label] = st
		s.order = append(s.order, label)
	}
	st.Add(d)
}

func (s *Stats) Get(label string) (StageStats, bool) {
	st, ok := s.stages[label]
	if !ok {
		return StageStats{}, false
	}
	return *st, true
}

func (s *Stats) All() iter.Seq2[string, StageStats] {
	return func(yield func(string, StageStats) bool) {
		for _, label := range s.order {
			if !yield(label, *s.stages[label]) {
				return
			}
		}
	}
}
