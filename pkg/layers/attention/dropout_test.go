// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"fmt"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/stretchr/testify/require"
)

func TestDropoutConfigValidate(t *testing.T) {
	err := exceptions.TryCatch[error](func() { DropoutConfig{Rate: 1.0}.validate() })
	require.ErrorIs(t, err, ErrConfiguration)
	err = exceptions.TryCatch[error](func() { DropoutConfig{Rate: -0.1}.validate() })
	require.ErrorIs(t, err, ErrConfiguration)
	err = exceptions.TryCatch[error](func() { DropoutConfig{Kind: DropoutKind(7), Rate: 0.5}.validate() })
	require.ErrorIs(t, err, ErrConfiguration)

	require.NotPanics(t, func() { DropoutConfig{}.validate() })
	require.NotPanics(t, func() { DropoutConfig{Kind: DropoutPath, Rate: 0.9}.validate() })
}

func TestDropoutConfigIdentity(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Ones(g, shapes.Make(dtypes.Float32, 3, 3))
		// Rate 0 is an exact identity, whatever the kind.
		require.Same(t, x, DropoutConfig{}.apply(ctx, x))
		require.Same(t, x, DropoutConfig{Kind: DropoutPath}.apply(ctx, x))
		// Outside training mode a non-zero rate is an identity too.
		return ReduceAllSum(DropoutConfig{Kind: DropoutElements, Rate: 0.5}.apply(ctx, x))
	})
	require.Equal(t, float32(9), got.Value())
}

func TestDropoutConfigKinds(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetRNGStateFromSeed(42) // Always the same result.

	gotT := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		ones := Ones(g, shapes.Make(dtypes.Float32, 10_000, 8))
		masked := DropoutConfig{Kind: DropoutElements, Rate: 0.3}.apply(ctx, ones)
		require.NoError(t, masked.Shape().CheckDims(10_000, 8))
		zeros := ConvertDType(Equal(masked, ScalarZero(g, dtypes.Float32)), dtypes.Float32)
		return ReduceAllMean(zeros)
	})
	got := gotT.Value().(float32)
	fmt.Printf("DropoutElements at rate 0.3 zeroed %.1f%% of the elements\n", 100.0*got)
	require.InDelta(t, 0.3, float64(got), 0.02)

	gotT = context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		ones := Ones(g, shapes.Make(dtypes.Float32, 10_000, 8))
		masked := DropoutConfig{Kind: DropoutPath, Rate: 0.3}.apply(ctx, ones)
		// Stochastic depth masks whole examples: per-example sums are
		// all-or-nothing.
		perExample := ReduceSum(masked, 1)
		dropped := ConvertDType(Equal(perExample, ScalarZero(g, dtypes.Float32)), dtypes.Float32)
		return ReduceAllMean(dropped)
	})
	got = gotT.Value().(float32)
	fmt.Printf("DropoutPath at rate 0.3 dropped %.1f%% of the examples\n", 100.0*got)
	require.InDelta(t, 0.3, float64(got), 0.02)
}
