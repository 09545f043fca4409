// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// DropoutKind selects the implementation of the output dropout, applied to
// the whole attention path right before the caller's residual add.
type DropoutKind int

const (
	// DropoutElements zeroes individual elements independently: standard
	// dropout, layers.DropoutStatic.
	DropoutElements DropoutKind = iota

	// DropoutPath zeroes whole examples of the batch: stochastic depth,
	// layers.DropPath.
	DropoutPath
)

// DropoutConfig selects the output dropout layer and its rate. The zero
// value, DropoutElements at rate 0, disables it. Like all dropout in this
// package it only has an effect in training mode, and rate 0 is an exact
// identity.
type DropoutConfig struct {
	Kind DropoutKind
	Rate float64
}

// validate panics with a configuration error on an out-of-range rate or an
// unknown kind. Called when the configuration is set, before any graph node
// is built.
func (c DropoutConfig) validate() {
	if c.Rate < 0 || c.Rate >= 1 {
		panicConfigf("output dropout rate must be in [0, 1), got %g", c.Rate)
	}
	switch c.Kind {
	case DropoutElements, DropoutPath:
	default:
		panicConfigf("unknown output dropout kind %d", int(c.Kind))
	}
}

// apply builds the configured dropout over x. c must have been validated.
func (c DropoutConfig) apply(ctx *context.Context, x *Node) *Node {
	if c.Rate <= 0 {
		return x
	}
	if c.Kind == DropoutPath {
		return layers.DropPath(ctx, x, Scalar(x.Graph(), x.DType(), c.Rate))
	}
	return layers.DropoutStatic(ctx, x, c.Rate)
}
