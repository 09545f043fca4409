// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/stretchr/testify/require"
)

func TestSliceOutputFeatures(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SliceOutputFeatures(4 of 6, headDims=2)",
		func(g *Graph) (inputs, outputs []*Node) {
			weight := IotaFull(g, shapes.Make(dtypes.Float32, 2, 6))
			bias := IotaFull(g, shapes.Make(dtypes.Float32, 6))
			w, b := SliceOutputFeatures(weight, bias, 4, 2)
			return []*Node{weight, bias}, []*Node{w, b}
		}, []any{
			[][]float32{{0, 1, 2, 3}, {6, 7, 8, 9}},
			[]float32{0, 1, 2, 3},
		}, 0)
}

func TestSliceOutputFeaturesAtMax(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "slice-at-max")
	weight := IotaFull(g, shapes.Make(dtypes.Float32, 2, 6))
	bias := IotaFull(g, shapes.Make(dtypes.Float32, 6))

	// The full width returns the parameters untouched, no Slice nodes.
	w, b := SliceOutputFeatures(weight, bias, 6, 2)
	require.Same(t, weight, w)
	require.Same(t, bias, b)

	w, b = SliceOutputFeatures(weight, nil, 6, 2)
	require.Same(t, weight, w)
	require.Nil(t, b)
}

func TestSliceOutputFeaturesRejections(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "slice-rejections")
	weight := IotaFull(g, shapes.Make(dtypes.Float32, 2, 6))
	bias := IotaFull(g, shapes.Make(dtypes.Float32, 6))

	for name, fn := range map[string]func(){
		"zero width":           func() { SliceOutputFeatures(weight, bias, 0, 2) },
		"beyond allocation":    func() { SliceOutputFeatures(weight, bias, 8, 2) },
		"not head aligned":     func() { SliceOutputFeatures(weight, bias, 3, 2) },
		"width below one head": func() { SliceOutputFeatures(weight, bias, 5, 8) },
		"bad head width":       func() { SliceOutputFeatures(weight, bias, 4, 0) },
	} {
		err := exceptions.TryCatch[error](fn)
		require.ErrorIs(t, err, ErrConfiguration, "case %q", name)
	}

	err := exceptions.TryCatch[error](func() { SliceOutputFeatures(bias, nil, 2, 2) })
	require.ErrorIs(t, err, ErrShapeMismatch) // rank-1 weight

	shortBias := IotaFull(g, shapes.Make(dtypes.Float32, 4))
	err = exceptions.TryCatch[error](func() { SliceOutputFeatures(weight, shortBias, 2, 2) })
	require.ErrorIs(t, err, ErrShapeMismatch)
}
