// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package scenesdf

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"honnef.co/go/scenesdf/renderer"
)

const ErrInvalidSettings = renderer.ErrInvalidSettings

// ExtractionFilter selects the objects that contribute to the distance field.
type ExtractionFilter int

const (
	// Every object contributes.
	FilterUnmarked ExtractionFilter = iota
	// Only objects with Marked set contribute.
	FilterMarked
)

func (f ExtractionFilter) String() string {
	switch f {
	case FilterUnmarked:
		return "unmarked"
	case FilterMarked:
		return "marked"
	default:
		return "invalid"
	}
}

// Includes reports whether an object passes the filter.
func (f ExtractionFilter) Includes(marked bool) bool {
	return f == FilterUnmarked || marked
}

type Settings struct {
	Filter   ExtractionFilter           `json:"filter"`
	Cascades []renderer.CascadeSettings `json:"cascades"`
}

// DefaultSettings returns seven cascades, doubling in reach roughly every
// step. The two finest cascades refresh every third frame, the others every
// fifteenth, staggered so that at most one cascade is due per frame.
func DefaultSettings() Settings {
	cascade := func(far float32, freq, offset uint32) renderer.CascadeSettings {
		return renderer.CascadeSettings{
			FarDistance:    far,
			UpdateSchedule: renderer.UpdateSchedule{Frequency: freq, Offset: offset},
		}
	}
	return Settings{
		Filter: FilterUnmarked,
		Cascades: []renderer.CascadeSettings{
			cascade(3.0, 3, 0),
			cascade(5.0, 3, 1),
			cascade(7.5, 15, 2),
			cascade(11.25, 15, 5),
			cascade(17, 15, 8),
			cascade(30, 15, 11),
			cascade(60, 15, 14),
		},
	}
}

func (s Settings) Validate() error {
	if len(s.Cascades) == 0 {
		return errors.New("at least one cascade is required").
			WithType(ErrInvalidSettings)
	}
	switch s.Filter {
	case FilterUnmarked, FilterMarked:
	default:
		return errors.New("invalid extraction filter").
			WithType(ErrInvalidSettings).
			WithTag("filter", int(s.Filter))
	}
	for i, cs := range s.Cascades {
		if err := cs.Validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (s Settings) clone() Settings {
	s.Cascades = append([]renderer.CascadeSettings(nil), s.Cascades...)
	return s
}
