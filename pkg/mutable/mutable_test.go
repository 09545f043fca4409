// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOneShot(t *testing.T) {
	heads := NewOneShot("num_heads", 3, 10, 5, 3)
	require.Equal(t, "num_heads", heads.Name())
	require.Equal(t, []int{3, 5, 10}, heads.Choices()) // sorted and deduplicated
	require.Equal(t, 10, heads.Current())              // starts at the maximum
	require.Equal(t, 10, heads.Max())
	require.Equal(t, 3, heads.Min())

	require.Panics(t, func() { NewOneShot("", 1) })
	require.Panics(t, func() { NewOneShot("empty") })
	require.Panics(t, func() { NewOneShot("negative", 4, -1) })
}

func TestOneShotSetCurrent(t *testing.T) {
	width := NewOneShot("embed_dims", 32, 48, 64)
	require.NoError(t, width.SetCurrent(48))
	require.Equal(t, 48, width.Current())

	// A failed set leaves the current choice unchanged.
	require.Error(t, width.SetCurrent(50))
	require.Equal(t, 48, width.Current())
}
