// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"math/rand/v2"
	"slices"

	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Space is the named collection of a model's mutable values, one entry per
// elastic dimension of the supernet. Search drivers use it to select whole
// sub-networks: Sample draws random candidates during supernet training,
// SetMax and SetMin select the largest and smallest sub-networks, and Set
// pins an explicit candidate found by search.
//
// Space is not safe for concurrent use.
type Space struct {
	values map[string]Value
}

// NewSpace returns an empty Space.
func NewSpace() *Space {
	return &Space{values: make(map[string]Value)}
}

// Add registers values under their names and returns the Space, so calls can
// be chained. It panics if a name is already registered.
func (s *Space) Add(values ...Value) *Space {
	for _, v := range values {
		name := v.Name()
		if _, found := s.values[name]; found {
			exceptions.Panicf("mutable.Space: value %q added twice", name)
		}
		s.values[name] = v
	}
	return s
}

// Get returns the value registered under name, or nil if there is none.
func (s *Space) Get(name string) Value { return s.values[name] }

// Names returns the registered names in ascending order.
func (s *Space) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Sample selects an independent uniformly random choice for every value and
// returns the resulting snapshot. If rng is nil the shared global generator
// is used. Values are visited in Names order, so a seeded rng yields a
// reproducible sequence of subnets.
func (s *Space) Sample(rng *rand.Rand) map[string]int {
	snapshot := make(map[string]int, len(s.values))
	for _, name := range s.Names() {
		choices := s.values[name].Choices()
		var idx int
		if rng == nil {
			idx = rand.IntN(len(choices))
		} else {
			idx = rng.IntN(len(choices))
		}
		choice := choices[idx]
		_ = s.values[name].SetCurrent(choice)
		snapshot[name] = choice
	}
	klog.V(1).Infof("sampled subnet: %v", snapshot)
	return snapshot
}

// SetMax selects the largest choice for every value -- the full supernet --
// and returns the resulting snapshot.
func (s *Space) SetMax() map[string]int {
	snapshot := make(map[string]int, len(s.values))
	for name, v := range s.values {
		choices := v.Choices()
		choice := choices[len(choices)-1]
		_ = v.SetCurrent(choice)
		snapshot[name] = choice
	}
	klog.V(1).Infof("selected max subnet: %v", snapshot)
	return snapshot
}

// SetMin selects the smallest choice for every value and returns the
// resulting snapshot.
func (s *Space) SetMin() map[string]int {
	snapshot := make(map[string]int, len(s.values))
	for name, v := range s.values {
		choice := v.Choices()[0]
		_ = v.SetCurrent(choice)
		snapshot[name] = choice
	}
	klog.V(1).Infof("selected min subnet: %v", snapshot)
	return snapshot
}

// Set pins the given choices, typically a candidate found by search. Every
// name must be registered and every choice must be a candidate of its value.
// Choices are validated before any is applied, so a failed Set leaves the
// Space unchanged.
func (s *Space) Set(choices map[string]int) error {
	for name, choice := range choices {
		v, found := s.values[name]
		if !found {
			return errors.Errorf("mutable.Space: no value named %q (registered: %v)", name, s.Names())
		}
		if !slices.Contains(v.Choices(), choice) {
			return errors.Errorf("mutable.Space: value %q has no candidate choice %d (candidates are %v)",
				name, choice, v.Choices())
		}
	}
	for name, choice := range choices {
		_ = s.values[name].SetCurrent(choice)
	}
	klog.V(1).Infof("selected subnet: %v", choices)
	return nil
}

// Snapshot returns the current choice of every registered value.
func (s *Space) Snapshot() map[string]int {
	snapshot := make(map[string]int, len(s.values))
	for name, v := range s.values {
		snapshot[name] = v.Current()
	}
	return snapshot
}
