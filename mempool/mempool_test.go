// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMallocFreeRoundTrip(t *testing.T) {
	a := NewTieredAllocator([]int{64, 256, 1024})
	buf := a.Malloc(100)
	require.Len(t, *buf, 100)
	a.Free(buf)

	buf2 := a.Malloc(100)
	require.Len(t, *buf2, 100)
}

func TestAppendGrowsAcrossClasses(t *testing.T) {
	a := NewTieredAllocator([]int{8, 16})
	buf := a.Malloc(4)
	*buf = (*buf)[:0]
	buf = a.Append(buf, []byte("hello world")...)
	require.Equal(t, "hello world", string(*buf))
}

func TestMallocAboveLargestClassFallsBack(t *testing.T) {
	a := NewTieredAllocator([]int{8, 16})
	buf := a.Malloc(1024)
	require.Len(t, *buf, 1024)
}
