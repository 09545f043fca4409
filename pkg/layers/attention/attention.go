// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package attention implements multi-head self-attention whose width -- the
// number of heads and the embedding dimensions -- can be re-selected each
// time a graph is built, without re-allocating parameters.
//
// It is the attention building block for weight-sharing architecture search
// ("supernet" training) of transformers, as described in "AutoFormer:
// Searching Transformers for Visual Recognition",
// https://arxiv.org/abs/2107.00651: parameters are created once at their
// maximal width, and every narrower sub-network computes on a contiguous
// prefix of the same variables, so the gradients of a narrow step flow back
// into the shared prefix.
//
// MultiHeadAttention builds the layer at its fixed, maximal width.
// DynamicMultiHeadAttention builds the same computation with the widths
// resolved from mutable values (see package mutable) at graph build time.
// Both forms create identical variables on the context, so a supernet
// trained with the dynamic form can be rebuilt at any selected width with
// either, reusing the same weights.
//
// Attention scores and outputs are corrected by learned relative position
// encodings (RelativePositionTable), following "Rethinking and Improving
// Relative Position Encoding for Vision Transformer",
// https://arxiv.org/abs/2107.14222.
package attention

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/nn"
)

// scopeName is the context scope all variables of the layer are created
// under. The fixed-width and the dynamic builders use the same scope, which
// is what makes them share weights when built from the same context.
const scopeName = "MultiHeadAttention"

// config holds every setting of a multi-head self-attention layer. It is
// shared by the fixed-width and the dynamic builders, so converting between
// the two preserves the full configuration.
type config struct {
	embedDims int
	numHeads  int
	headDims  int
	inputDims int

	useQKVBias        bool
	useProjectionBias bool

	attnDropoutRate float64
	projDropoutRate float64
	outputDropout   DropoutConfig

	useRelativePosition bool
	maxRelativePosition int

	qkScale float64

	useValueShortcut bool
}

func newConfig(embedDims, numHeads int) config {
	if embedDims <= 0 || numHeads <= 0 {
		panicConfigf("embedDims (%d) and numHeads (%d) must be positive", embedDims, numHeads)
	}
	if embedDims%numHeads != 0 {
		panicConfigf("embedDims (%d) must be divisible by numHeads (%d)", embedDims, numHeads)
	}
	return config{
		embedDims:           embedDims,
		numHeads:            numHeads,
		headDims:            embedDims / numHeads,
		inputDims:           embedDims,
		useQKVBias:          true,
		useProjectionBias:   true,
		useRelativePosition: true,
		maxRelativePosition: 14,
	}
}

// validate checks the cross-setting constraints, the ones that cannot be
// checked at each individual setter.
func (c *config) validate() {
	if c.useValueShortcut && c.numHeads != 1 {
		panicConfigf("the value shortcut requires numHeads=1, got numHeads=%d", c.numHeads)
	}
}

// relativeTable returns the relative position table stored under the given
// scope. It is always created for the maximal number of heads; narrower
// selections read a head prefix of it at lookup time.
func (c *config) relativeTable(ctx *context.Context, scope string) *RelativePositionTable {
	return NewRelativePositionTable(ctx.In(scope), c.maxRelativePosition, c.numHeads, c.headDims)
}

// MultiHeadAttentionBuilder is a helper to build a multi-head self-attention
// computation at its fixed, maximal width. Create it with MultiHeadAttention,
// set the desired parameters, and when all is set, call Done.
type MultiHeadAttentionBuilder struct {
	ctx *context.Context
	x   *Node
	config
}

// MultiHeadAttention builds a multi-head self-attention layer over x, shaped
// `[batch, seq, inputDims]`, returning a node shaped `[batch, seq,
// embedDims]`.
//
// The layer projects x to queries, keys and values of numHeads heads of
// embedDims/numHeads dimensions each (embedDims must be divisible by
// numHeads), takes a softmax sum of the values weighted by the scaled
// query-key dot products, and projects the concatenated heads back to
// embedDims. Scores and outputs are corrected by learned relative position
// encodings, on by default, see UseRelativePosition.
//
// inputDims defaults to embedDims and can be changed with SetInputDims.
//
// The returned MultiHeadAttentionBuilder can be further configured, and the
// resulting Node is returned when MultiHeadAttentionBuilder.Done is called.
// Alternatively, MultiHeadAttentionBuilder.DoneWithCoefficients also returns
// the attention coefficients.
//
// The layer's variables are created at their maximal width under
// ctx.In("MultiHeadAttention"), and are the same variables a
// DynamicMultiHeadAttention creates on the same scope. See the package
// documentation for how the two forms share weights.
func MultiHeadAttention(ctx *context.Context, x *Node, embedDims, numHeads int) *MultiHeadAttentionBuilder {
	if x.Rank() != 3 {
		panicShapef("input rank is %d (shape=%s), but MultiHeadAttention requires rank-3 `[batch, seq, features]`",
			x.Rank(), x.Shape())
	}
	return &MultiHeadAttentionBuilder{
		ctx:    ctx.In(scopeName),
		x:      x,
		config: newConfig(embedDims, numHeads),
	}
}

// SetInputDims configures the number of features of the input, the last axis
// of x. It defaults to embedDims.
func (b *MultiHeadAttentionBuilder) SetInputDims(inputDims int) *MultiHeadAttentionBuilder {
	if inputDims <= 0 {
		panicConfigf("inputDims must be positive, got %d", inputDims)
	}
	b.inputDims = inputDims
	return b
}

// UseQKVBias defines whether the query, key and value projections take a
// bias term. Default is true.
func (b *MultiHeadAttentionBuilder) UseQKVBias(useBias bool) *MultiHeadAttentionBuilder {
	b.useQKVBias = useBias
	return b
}

// UseProjectionBias defines whether to use a bias term on the final output
// projection. Default is true.
func (b *MultiHeadAttentionBuilder) UseProjectionBias(useBias bool) *MultiHeadAttentionBuilder {
	b.useProjectionBias = useBias
	return b
}

// AttentionDropout defines how much dropout to use on the attention
// coefficients, after the softmax. If set to 0 or lower, it's simply
// disabled. Default is 0.
func (b *MultiHeadAttentionBuilder) AttentionDropout(rate float64) *MultiHeadAttentionBuilder {
	if rate >= 1 {
		panicConfigf("attention dropout rate %g >= 1 is undefined", rate)
	}
	b.attnDropoutRate = rate
	return b
}

// ProjectionDropout defines how much dropout to use on the output of the
// final projection. If set to 0 or lower, it's simply disabled. Default
// is 0.
func (b *MultiHeadAttentionBuilder) ProjectionDropout(rate float64) *MultiHeadAttentionBuilder {
	if rate >= 1 {
		panicConfigf("projection dropout rate %g >= 1 is undefined", rate)
	}
	b.projDropoutRate = rate
	return b
}

// OutputDropout sets the dropout applied to the output of the whole layer,
// after the projection dropout. Unlike the other dropouts it can also be
// configured as stochastic depth (DropoutPath), the usual choice when the
// layer sits inside a residual block. The zero DropoutConfig disables it,
// and it is disabled by default.
func (b *MultiHeadAttentionBuilder) OutputDropout(dropout DropoutConfig) *MultiHeadAttentionBuilder {
	dropout.validate()
	b.outputDropout = dropout
	return b
}

// UseRelativePosition defines whether learned relative position encodings
// are added to the attention scores (query side) and to the attention
// output (value side). Default is true.
func (b *MultiHeadAttentionBuilder) UseRelativePosition(use bool) *MultiHeadAttentionBuilder {
	b.useRelativePosition = use
	return b
}

// SetMaxRelativePosition configures the horizon of the relative position
// encodings: relative distances beyond it saturate to the boundary
// encoding. See RelativePositionTable. Default is 14.
func (b *MultiHeadAttentionBuilder) SetMaxRelativePosition(maxRelativePosition int) *MultiHeadAttentionBuilder {
	if maxRelativePosition <= 0 {
		panicConfigf("maxRelativePosition must be positive, got %d", maxRelativePosition)
	}
	b.maxRelativePosition = maxRelativePosition
	return b
}

// SetQKScale overrides the scaling of the query-key dot products, which
// defaults to 1/sqrt(headDims).
func (b *MultiHeadAttentionBuilder) SetQKScale(scale float64) *MultiHeadAttentionBuilder {
	if scale <= 0 {
		panicConfigf("qk scale must be positive, got %g", scale)
	}
	b.qkScale = scale
	return b
}

// UseValueShortcut adds the value projection, squeezed of its single head,
// to the output of the layer. It is used when the attention output feeds no
// other residual, e.g. in some mobile transformer blocks. It requires
// numHeads to be 1 (checked at Done), so that the value width matches the
// output width. Default is false.
func (b *MultiHeadAttentionBuilder) UseValueShortcut(use bool) *MultiHeadAttentionBuilder {
	b.useValueShortcut = use
	return b
}

// DoneWithCoefficients or Done should be called after all optional settings
// are configured. It returns both the attention output, shaped `[batch, seq,
// embedDims]`, and the attention coefficients used for the value mix (after
// attention dropout, if any), shaped `[batch, seq, numHeads, seq]`.
func (b *MultiHeadAttentionBuilder) DoneWithCoefficients() (output, coefficients *Node) {
	b.config.validate()
	return forward(b.ctx, b.x, &b.config, forwardDims{
		numHeads:  b.numHeads,
		innerDims: b.embedDims,
		outDims:   b.embedDims,
	})
}

// Done should be called after all optional settings are configured. It
// returns the attention output shaped `[batch, seq, embedDims]`. Use
// DoneWithCoefficients if the attention coefficients are also needed.
func (b *MultiHeadAttentionBuilder) Done() *Node {
	output, _ := b.DoneWithCoefficients()
	return output
}

// forwardDims is the width snapshot one forward graph is built with. The
// fixed-width builder always uses the maximal widths; the dynamic builder
// resolves them from its bound mutable values, once per Done call.
type forwardDims struct {
	numHeads  int // heads attending
	innerDims int // numHeads*headDims, the width of the attention body
	outDims   int // output features of the final projection
}

// forward builds the attention computation at the given widths. It is
// shared by the fixed-width and the dynamic builders: the only difference
// between the two is where dims comes from.
func forward(ctx *context.Context, x *Node, cfg *config, dims forwardDims) (output, coefficients *Node) {
	g := x.Graph()
	dtype := x.DType()
	if x.Shape().Dim(-1) != cfg.inputDims {
		panicShapef("input carries %d features (shape=%s), but the layer is configured for inputDims=%d",
			x.Shape().Dim(-1), x.Shape(), cfg.inputDims)
	}
	batchSize := x.Shape().Dim(0)
	seqLen := x.Shape().Dim(1)

	// Q, K and V projections: parameters span the maximal width, the
	// selected sub-network uses a contiguous prefix of their output features.
	project := func(scope string) *Node {
		weights, biases := projectionVars(ctx.In(scope), g, dtype, cfg.inputDims, cfg.embedDims, cfg.useQKVBias)
		weights, biases = SliceOutputFeatures(weights, biases, dims.innerDims, cfg.headDims)
		return Reshape(nn.Dense(x, weights, biases), batchSize, seqLen, dims.numHeads, cfg.headDims)
	}
	query := project("w_qs")
	key := project("w_ks")
	value := project("w_vs")

	scale := cfg.qkScale
	if scale <= 0 {
		scale = 1.0 / math.Sqrt(float64(cfg.headDims))
	}
	scores := MulScalar(Einsum("bqhd,bkhd->bqhk", query, key), scale)
	if cfg.useRelativePosition {
		relKeys := cfg.relativeTable(ctx, "rel_pos_embed_k").WithDType(dtype).
			LookupHeads(g, seqLen, seqLen, dims.numHeads)
		scores = Add(scores, MulScalar(Einsum("bqhd,qkhd->bqhk", query, relKeys), scale))
	}

	coefficients = Softmax(scores, -1)
	if cfg.attnDropoutRate > 0 && layers.IsDropoutActive(ctx, g) {
		coefficients = layers.DropoutStatic(ctx, coefficients, cfg.attnDropoutRate)
	}

	output = Einsum("bqhk,bkhd->bqhd", coefficients, value)
	if cfg.useRelativePosition {
		relValues := cfg.relativeTable(ctx, "rel_pos_embed_v").WithDType(dtype).
			LookupHeads(g, seqLen, seqLen, dims.numHeads)
		output = Add(output, Einsum("bqhk,qkhd->bqhd", coefficients, relValues))
	}
	output = Reshape(output, batchSize, seqLen, dims.innerDims)

	// Final projection back to the embedding: its input rows follow the
	// attention body width, its output columns the selected embedding width.
	projWeights, projBiases := projectionVars(ctx.In("proj"), g, dtype, cfg.embedDims, cfg.embedDims, cfg.useProjectionBias)
	projWeights, projBiases = SliceOutputFeatures(projWeights, projBiases, dims.outDims, cfg.headDims)
	if dims.innerDims < cfg.embedDims {
		projWeights = Slice(projWeights, AxisRange(0, dims.innerDims), AxisRange())
	}
	output = nn.Dense(output, projWeights, projBiases)
	if cfg.projDropoutRate > 0 && layers.IsDropoutActive(ctx, g) {
		output = layers.DropoutStatic(ctx, output, cfg.projDropoutRate)
	}
	output = cfg.outputDropout.apply(ctx, output)
	if cfg.useValueShortcut {
		output = Add(output, Squeeze(value, 2))
	}
	return output, coefficients
}

// projectionVars returns the graph nodes of one projection's parameters,
// created on first use at their maximal shape: weights shaped `[inFeatures,
// outFeatures]` and, if useBias, biases shaped `[outFeatures]` (nil
// otherwise).
func projectionVars(ctx *context.Context, g *Graph, dtype dtypes.DType, inFeatures, outFeatures int, useBias bool) (weights, biases *Node) {
	weights = ctx.VariableWithShape("weights", shapes.Make(dtype, inFeatures, outFeatures)).ValueGraph(g)
	if useBias {
		biases = ctx.VariableWithShape("biases", shapes.Make(dtype, outFeatures)).ValueGraph(g)
	}
	return
}
