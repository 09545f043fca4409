// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/supernet/pkg/mutable"
	"k8s.io/klog/v2"
)

// Mutable attributes of a DynamicMultiHeadAttention, for BindMutable.
const (
	// AttrNumHeads selects how many heads attend. Candidate choices must be
	// in [1, numHeads] for the numHeads given at construction.
	AttrNumHeads = "num_heads"

	// AttrEmbedDims selects the output width of the final projection.
	// Candidate choices must be multiples of headDims, at most the embedDims
	// given at construction.
	AttrEmbedDims = "embed_dims"
)

// DynamicMultiHeadAttentionBuilder is a helper to build a multi-head
// self-attention computation whose widths are selected by mutable values at
// graph build time. Create it with DynamicMultiHeadAttention (or
// DynamicFromStatic to carry over a fixed-width configuration), bind mutable
// values with BindMutable, and when all is set, call Done.
type DynamicMultiHeadAttentionBuilder struct {
	ctx      *context.Context
	x        *Node
	bindings map[string]mutable.Value
	config
}

// DynamicMultiHeadAttention builds a multi-head self-attention layer over x
// like MultiHeadAttention, but with the number of heads and the output
// embedding width re-selectable at every graph build.
//
// embedDims and numHeads are the maximal widths and size the underlying
// variables; the mutable values bound with BindMutable select the widths a
// particular graph computes with. Unbound attributes stay at their maximum.
// The head width headDims=embedDims/numHeads is fixed: selecting fewer heads
// drops the trailing head blocks of the projections, and selecting a
// narrower embedding drops trailing output features, so every sub-network
// computes on a contiguous prefix of the shared parameters and the maximal
// selection reproduces MultiHeadAttention exactly.
//
// A typical supernet training step samples the search space and then builds
// the step graph, e.g.:
//
//	heads := mutable.NewOneShot("blk0_heads", 2, 3, 4)
//	width := mutable.NewOneShot("blk0_width", 32, 48, 64)
//	space := mutable.NewSpace().Add(heads, width)
//	...
//	space.Sample(rng)
//	output := attention.DynamicMultiHeadAttention(ctx, x, 64, 4).
//		BindMutable(attention.AttrNumHeads, heads).
//		BindMutable(attention.AttrEmbedDims, width).
//		Done()
func DynamicMultiHeadAttention(ctx *context.Context, x *Node, embedDims, numHeads int) *DynamicMultiHeadAttentionBuilder {
	if x.Rank() != 3 {
		panicShapef("input rank is %d (shape=%s), but DynamicMultiHeadAttention requires rank-3 `[batch, seq, features]`",
			x.Rank(), x.Shape())
	}
	return &DynamicMultiHeadAttentionBuilder{
		ctx:      ctx.In(scopeName),
		x:        x,
		bindings: make(map[string]mutable.Value),
		config:   newConfig(embedDims, numHeads),
	}
}

// DynamicFromStatic returns a dynamic builder carrying the full
// configuration of a fixed-width one: same input, same context scope, same
// hyperparameters. No mutable values are bound yet.
//
// Weights are not copied by the conversion: variables live in the context,
// keyed by scope, so the converted layer reuses the static layer's variables
// when they exist -- e.g. when the static layer was already built on the
// same context -- and creates them at their maximal shapes otherwise. The
// conversion disables the context's reuse checks for that reason.
func DynamicFromStatic(static *MultiHeadAttentionBuilder) *DynamicMultiHeadAttentionBuilder {
	return &DynamicMultiHeadAttentionBuilder{
		ctx:      static.ctx.Checked(false),
		x:        static.x,
		bindings: make(map[string]mutable.Value),
		config:   static.config,
	}
}

// BindMutable binds a mutable value to one of the layer's mutable
// attributes, AttrNumHeads or AttrEmbedDims. The value's current choice is
// read once per Done call; re-binding an attribute replaces the previous
// binding.
//
// Every candidate choice is validated here, at bind time: head counts must
// be in [1, numHeads], embedding widths must be multiples of headDims and at
// most embedDims. AttrEmbedDims cannot be bound together with the value
// shortcut, whose output width is pinned to the value width.
func (b *DynamicMultiHeadAttentionBuilder) BindMutable(attr string, value mutable.Value) *DynamicMultiHeadAttentionBuilder {
	switch attr {
	case AttrNumHeads:
		for _, choice := range value.Choices() {
			if choice <= 0 || choice > b.numHeads {
				panicConfigf("mutable %q bound to %s: choice %d is outside [1, %d]",
					value.Name(), attr, choice, b.numHeads)
			}
		}
	case AttrEmbedDims:
		for _, choice := range value.Choices() {
			if choice <= 0 || choice > b.embedDims || choice%b.headDims != 0 {
				panicConfigf("mutable %q bound to %s: choice %d is not a multiple of headDims=%d in [%d, %d]",
					value.Name(), attr, choice, b.headDims, b.headDims, b.embedDims)
			}
		}
	default:
		panicConfigf("unknown mutable attribute %q (must be %q or %q)", attr, AttrNumHeads, AttrEmbedDims)
	}
	b.bindings[attr] = value
	return b
}

// SetInputDims configures the number of features of the input, the last axis
// of x. It defaults to embedDims.
func (b *DynamicMultiHeadAttentionBuilder) SetInputDims(inputDims int) *DynamicMultiHeadAttentionBuilder {
	if inputDims <= 0 {
		panicConfigf("inputDims must be positive, got %d", inputDims)
	}
	b.inputDims = inputDims
	return b
}

// UseQKVBias defines whether the query, key and value projections take a
// bias term. Default is true.
func (b *DynamicMultiHeadAttentionBuilder) UseQKVBias(useBias bool) *DynamicMultiHeadAttentionBuilder {
	b.useQKVBias = useBias
	return b
}

// UseProjectionBias defines whether to use a bias term on the final output
// projection. Default is true.
func (b *DynamicMultiHeadAttentionBuilder) UseProjectionBias(useBias bool) *DynamicMultiHeadAttentionBuilder {
	b.useProjectionBias = useBias
	return b
}

// AttentionDropout defines how much dropout to use on the attention
// coefficients, after the softmax. If set to 0 or lower, it's simply
// disabled. Default is 0.
func (b *DynamicMultiHeadAttentionBuilder) AttentionDropout(rate float64) *DynamicMultiHeadAttentionBuilder {
	if rate >= 1 {
		panicConfigf("attention dropout rate %g >= 1 is undefined", rate)
	}
	b.attnDropoutRate = rate
	return b
}

// ProjectionDropout defines how much dropout to use on the output of the
// final projection. If set to 0 or lower, it's simply disabled. Default
// is 0.
func (b *DynamicMultiHeadAttentionBuilder) ProjectionDropout(rate float64) *DynamicMultiHeadAttentionBuilder {
	if rate >= 1 {
		panicConfigf("projection dropout rate %g >= 1 is undefined", rate)
	}
	b.projDropoutRate = rate
	return b
}

// OutputDropout sets the dropout applied to the output of the whole layer,
// after the projection dropout. See
// MultiHeadAttentionBuilder.OutputDropout.
func (b *DynamicMultiHeadAttentionBuilder) OutputDropout(dropout DropoutConfig) *DynamicMultiHeadAttentionBuilder {
	dropout.validate()
	b.outputDropout = dropout
	return b
}

// UseRelativePosition defines whether learned relative position encodings
// are added to the attention scores (query side) and to the attention
// output (value side). Default is true.
func (b *DynamicMultiHeadAttentionBuilder) UseRelativePosition(use bool) *DynamicMultiHeadAttentionBuilder {
	b.useRelativePosition = use
	return b
}

// SetMaxRelativePosition configures the horizon of the relative position
// encodings: relative distances beyond it saturate to the boundary
// encoding. See RelativePositionTable. Default is 14.
func (b *DynamicMultiHeadAttentionBuilder) SetMaxRelativePosition(maxRelativePosition int) *DynamicMultiHeadAttentionBuilder {
	if maxRelativePosition <= 0 {
		panicConfigf("maxRelativePosition must be positive, got %d", maxRelativePosition)
	}
	b.maxRelativePosition = maxRelativePosition
	return b
}

// SetQKScale overrides the scaling of the query-key dot products, which
// defaults to 1/sqrt(headDims).
func (b *DynamicMultiHeadAttentionBuilder) SetQKScale(scale float64) *DynamicMultiHeadAttentionBuilder {
	if scale <= 0 {
		panicConfigf("qk scale must be positive, got %g", scale)
	}
	b.qkScale = scale
	return b
}

// UseValueShortcut adds the value projection, squeezed of its single head,
// to the output of the layer. It requires numHeads to be 1 and excludes an
// AttrEmbedDims binding (both checked at Done). Default is false.
func (b *DynamicMultiHeadAttentionBuilder) UseValueShortcut(use bool) *DynamicMultiHeadAttentionBuilder {
	b.useValueShortcut = use
	return b
}

// resolve reads the bound mutable values, once each, into the width snapshot
// the forward graph is built with.
func (b *DynamicMultiHeadAttentionBuilder) resolve() forwardDims {
	if b.useValueShortcut {
		if _, bound := b.bindings[AttrEmbedDims]; bound {
			panicConfigf("%s cannot be mutable when the value shortcut is enabled", AttrEmbedDims)
		}
	}
	numHeads := b.numHeads
	if value, bound := b.bindings[AttrNumHeads]; bound {
		numHeads = value.Current()
		if numHeads <= 0 || numHeads > b.numHeads {
			panicConfigf("mutable %q selected numHeads=%d, outside [1, %d]",
				value.Name(), numHeads, b.numHeads)
		}
	}
	outDims := b.embedDims
	if value, bound := b.bindings[AttrEmbedDims]; bound {
		outDims = value.Current()
		if outDims <= 0 || outDims > b.embedDims || outDims%b.headDims != 0 {
			panicConfigf("mutable %q selected embedDims=%d, not a multiple of headDims=%d in [%d, %d]",
				value.Name(), outDims, b.headDims, b.headDims, b.embedDims)
		}
	}
	dims := forwardDims{
		numHeads:  numHeads,
		innerDims: numHeads * b.headDims,
		outDims:   outDims,
	}
	klog.V(2).Infof("dynamic attention %q: numHeads=%d, innerDims=%d, outDims=%d",
		b.ctx.Scope(), dims.numHeads, dims.innerDims, dims.outDims)
	return dims
}

// DoneWithCoefficients or Done should be called after all optional settings
// are configured and mutable values are bound. It resolves the selected
// widths -- reading each bound mutable value exactly once, so a concurrent
// re-selection never splits one graph -- and returns both the attention
// output, shaped `[batch, seq, outDims]` for the selected embedding width,
// and the attention coefficients used for the value mix, shaped `[batch,
// seq, selectedHeads, seq]`.
func (b *DynamicMultiHeadAttentionBuilder) DoneWithCoefficients() (output, coefficients *Node) {
	b.config.validate()
	return forward(b.ctx, b.x, &b.config, b.resolve())
}

// Done should be called after all optional settings are configured and
// mutable values are bound. It returns the attention output shaped `[batch,
// seq, outDims]` for the selected embedding width. Use DoneWithCoefficients
// if the attention coefficients are also needed.
func (b *DynamicMultiHeadAttentionBuilder) Done() *Node {
	output, _ := b.DoneWithCoefficients()
	return output
}
