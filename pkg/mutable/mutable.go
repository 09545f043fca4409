// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mutable implements the searchable hyperparameter values behind
// weight-sharing NAS ("supernet") layers: a Value names one elastic dimension
// of a model -- number of attention heads, embedding width -- with a finite
// candidate set and a current choice, and a Space groups the named Values of a
// model so a search driver can sample or pin a whole sub-network at once.
//
// Layers read a Value once per forward graph build, at entry, into a local
// snapshot, so the choice in effect never changes mid-build. Selecting a
// different sub-network is done by changing choices between builds; it never
// reallocates variables.
package mutable

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"
)

// Value is one named, searchable integer hyperparameter.
//
// Current must be free of side effects: layers snapshot it once at the start
// of a forward build and must never need to re-read it.
type Value interface {
	// Name of the attribute this value controls, e.g. "num_heads".
	Name() string

	// Choices returns the candidate set in ascending order.
	// Callers must not modify the returned slice.
	Choices() []int

	// Current returns the selected choice.
	Current() int

	// SetCurrent selects one of Choices.
	SetCurrent(choice int) error
}

// OneShot is the standard Value implementation, used by one-shot NAS: the
// candidate set is fixed at construction and the current choice starts at the
// maximum, so a freshly built supernet runs at full width.
//
// OneShot is not safe for concurrent use: a search driver changing choices
// must not run concurrently with forward builds reading them.
type OneShot struct {
	name    string
	choices []int
	current int
}

var _ Value = (*OneShot)(nil)

// NewOneShot creates a mutable value with the given candidate choices.
// Choices are sorted and de-duplicated, and the initial current choice is the
// largest. It panics if name is empty, no choices are given or a choice is
// not positive.
func NewOneShot(name string, choices ...int) *OneShot {
	if name == "" {
		exceptions.Panicf("mutable value requires a non-empty name")
	}
	if len(choices) == 0 {
		exceptions.Panicf("mutable value %q requires at least one choice", name)
	}
	sorted := slices.Clone(choices)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if sorted[0] <= 0 {
		exceptions.Panicf("mutable value %q: choices must be positive, got %d", name, sorted[0])
	}
	return &OneShot{
		name:    name,
		choices: sorted,
		current: sorted[len(sorted)-1],
	}
}

// Name of the attribute this value controls.
func (m *OneShot) Name() string { return m.name }

// Choices returns the candidate set in ascending order.
// Callers must not modify the returned slice.
func (m *OneShot) Choices() []int { return m.choices }

// Current returns the selected choice.
func (m *OneShot) Current() int { return m.current }

// Max returns the largest candidate choice.
func (m *OneShot) Max() int { return m.choices[len(m.choices)-1] }

// Min returns the smallest candidate choice.
func (m *OneShot) Min() int { return m.choices[0] }

// SetCurrent selects choice. It fails if choice is not one of Choices,
// leaving the current choice unchanged.
func (m *OneShot) SetCurrent(choice int) error {
	if !slices.Contains(m.choices, choice) {
		return errors.Errorf("mutable value %q: %d is not a candidate choice (candidates are %v)",
			m.name, choice, m.choices)
	}
	m.current = choice
	return nil
}
