// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// SliceOutputFeatures returns views of a projection's weight and bias reduced
// to their first outFeatures output features.
//
// weight must be shaped [inFeatures, outFeaturesMax], the layout used by
// nn.Dense, and bias, if not nil, [outFeaturesMax]. Heads own contiguous
// headDims-wide blocks of output features, so taking the prefix keeps the
// first outFeatures/headDims heads intact and drops the trailing ones --
// never reordering, never selecting a sparse subset. outFeatures must be a
// positive multiple of headDims, at most outFeaturesMax.
//
// The returned nodes are slice views of the full tensors: nothing is copied
// and the source variables are never mutated. When outFeatures equals
// outFeaturesMax the inputs are returned unchanged. A nil bias yields a nil
// bias.
func SliceOutputFeatures(weight, bias *Node, outFeatures, headDims int) (*Node, *Node) {
	if weight.Rank() != 2 {
		panicShapef("SliceOutputFeatures requires a rank-2 weight shaped [inFeatures, outFeatures], got %s",
			weight.Shape())
	}
	maxFeatures := weight.Shape().Dimensions[1]
	if bias != nil {
		if bias.Rank() != 1 || bias.Shape().Dimensions[0] != maxFeatures {
			panicShapef("SliceOutputFeatures bias shaped %s does not match weight shaped %s",
				bias.Shape(), weight.Shape())
		}
	}
	if headDims <= 0 {
		panicConfigf("SliceOutputFeatures requires headDims > 0, got %d", headDims)
	}
	if outFeatures <= 0 {
		panicConfigf("cannot slice %d output features from weight shaped %s: the effective width must be positive",
			outFeatures, weight.Shape())
	}
	if outFeatures > maxFeatures {
		panicConfigf("cannot slice %d output features from weight shaped %s: only %d are allocated",
			outFeatures, weight.Shape(), maxFeatures)
	}
	if outFeatures%headDims != 0 {
		panicConfigf("cannot slice %d output features with headDims=%d: the effective width must be a multiple of the head width",
			outFeatures, headDims)
	}
	if outFeatures == maxFeatures {
		return weight, bias
	}
	weight = Slice(weight, AxisRange(), AxisRange(0, outFeatures))
	if bias != nil {
		bias = Slice(bias, AxisRange(0, outFeatures))
	}
	return weight, bias
}
