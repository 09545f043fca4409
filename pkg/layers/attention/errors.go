// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package attention

import "github.com/pkg/errors"

// The builders and graph building functions in this package report invalid
// use by panicking with an error wrapping one of the sentinels below, the
// same convention as GoMLX graph building (see pkg/support/exceptions).
// Catch with exceptions.TryCatch[error] and test with errors.Is.
var (
	// ErrConfiguration is wrapped by panics caused by invalid construction
	// parameters or by an invalid effective width requested at graph
	// building time.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrShapeMismatch is wrapped by panics caused by an input tensor
	// incompatible with the configured dimensions.
	ErrShapeMismatch = errors.New("shape mismatch")
)

func panicConfigf(format string, args ...any) {
	panic(errors.Wrapf(ErrConfiguration, format, args...))
}

func panicShapef(format string, args ...any) {
	panic(errors.Wrapf(ErrShapeMismatch, format, args...))
}
