// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// RelativePositionTable holds a learned embedding table indexed by the
// clipped relative distance between a query position and a key position, one
// headDims sized embedding per head per distance. It implements the bias
// term of image relative position encoding (iRPE, see "Rethinking and
// Improving Relative Position Encoding for Vision Transformer",
// https://arxiv.org/abs/2107.14222): the attention layer adds a lookup from
// one table to the attention scores and a lookup from a second, independent
// table to the aggregated values.
//
// The table has 2*maxRelativePosition-1 rows, covering distances from
// -(maxRelativePosition-1) to maxRelativePosition-1. Distances beyond that
// horizon saturate to the boundary rows, so sequences longer than the
// horizon still produce valid, if coarser, bias.
//
// The embeddings are a context variable named "embeddings", shaped
// [2*maxRelativePosition-1, numHeads, headDims], created on first lookup in
// the scope of the context given at construction. Two tables built from the
// same context scope share the same embeddings.
type RelativePositionTable struct {
	ctx                 *context.Context
	maxRelativePosition int
	numHeads            int
	headDims            int
	dtype               dtypes.DType
}

// NewRelativePositionTable creates a relative position bias table for up to
// numHeads heads of width headDims. The embeddings variable is created
// lazily, on first lookup, in ctx's current scope.
//
// It panics if maxRelativePosition, numHeads or headDims is not positive.
func NewRelativePositionTable(ctx *context.Context, maxRelativePosition, numHeads, headDims int) *RelativePositionTable {
	if maxRelativePosition <= 0 {
		panicConfigf("relative position table requires maxRelativePosition > 0, got %d", maxRelativePosition)
	}
	if numHeads <= 0 {
		panicConfigf("relative position table requires numHeads > 0, got %d", numHeads)
	}
	if headDims <= 0 {
		panicConfigf("relative position table requires headDims > 0, got %d", headDims)
	}
	return &RelativePositionTable{
		ctx:                 ctx,
		maxRelativePosition: maxRelativePosition,
		numHeads:            numHeads,
		headDims:            headDims,
		dtype:               dtypes.Float32,
	}
}

// WithDType sets the dtype of the embeddings. The default is Float32.
func (t *RelativePositionTable) WithDType(dtype dtypes.DType) *RelativePositionTable {
	t.dtype = dtype
	return t
}

// Lookup returns the bias embeddings for every (query, key) position pair,
// shaped [queryLen, keyLen, numHeads, headDims]. Entry (i, j) is the table
// row for the clipped distance j-i. There is no batch axis; the caller
// broadcasts.
func (t *RelativePositionTable) Lookup(g *Graph, queryLen, keyLen int) *Node {
	return t.LookupHeads(g, queryLen, keyLen, t.numHeads)
}

// LookupHeads is Lookup truncated to the first numHeads heads, shaped
// [queryLen, keyLen, numHeads, headDims]. The head axis is sliced as a
// contiguous prefix, mirroring SliceOutputFeatures, so the bias served for
// head h is identical whatever the effective head count. With numHeads equal
// to the table's maximum it is exactly Lookup.
func (t *RelativePositionTable) LookupHeads(g *Graph, queryLen, keyLen, numHeads int) *Node {
	if queryLen <= 0 || keyLen <= 0 {
		panicShapef("relative position lookup requires positive lengths, got queryLen=%d, keyLen=%d",
			queryLen, keyLen)
	}
	if numHeads <= 0 || numHeads > t.numHeads {
		panicConfigf("relative position table holds %d heads, cannot serve %d", t.numHeads, numHeads)
	}
	table := t.embeddings(g)
	if numHeads < t.numHeads {
		table = Slice(table, AxisRange(), AxisRange(0, numHeads), AxisRange())
	}

	// Distance matrix: entry (i, j) is j-i clipped to the horizon and shifted
	// to a table row in [0, 2*maxRelativePosition-2].
	span := t.maxRelativePosition - 1
	rows := Iota(g, shapes.Make(dtypes.Int32, queryLen, keyLen), 0)
	cols := Iota(g, shapes.Make(dtypes.Int32, queryLen, keyLen), 1)
	distance := ClipScalar(Sub(cols, rows), float64(-span), float64(span))
	indices := InsertAxes(AddScalar(distance, span), -1)
	return Gather(table, indices)
}

func (t *RelativePositionTable) embeddings(g *Graph) *Node {
	rows := 2*t.maxRelativePosition - 1
	v := t.ctx.WithInitializer(initializers.RandomNormalFn(t.ctx, 0.02)).
		VariableWithShape("embeddings", shapes.Make(t.dtype, rows, t.numHeads, t.headDims))
	return v.ValueGraph(g)
}
