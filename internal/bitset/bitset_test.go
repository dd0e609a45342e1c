package bitset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClearIsSet(t *testing.T) {
	b := New(10)
	assert.False(t, b.IsSet(3))

	b.Set(3)
	assert.True(t, b.IsSet(3))

	b.Clear(3)
	assert.False(t, b.IsSet(3))
}

func TestSetAllClearAll(t *testing.T) {
	b := New(10)
	b.SetAll()
	assert.Equal(t, 10, b.Count())

	b.ClearAll()
	assert.Equal(t, 0, b.Count())
}

func TestCount(t *testing.T) {
	b := New(8)
	b.Set(0)
	b.Set(3)
	b.Set(7)
	assert.Equal(t, 3, b.Count())
}

func TestRangeVisitsSetBitsAscending(t *testing.T) {
	b := New(8)
	b.Set(5)
	b.Set(1)
	b.Set(6)

	var got []int
	b.Range(func(i int) bool {
		got = append(got, i)
		return true
	})
	assert.Equal(t, []int{1, 5, 6}, got)
}

func TestRangeStopsEarly(t *testing.T) {
	b := New(8)
	b.Set(1)
	b.Set(2)
	b.Set(3)

	var got []int
	b.Range(func(i int) bool {
		got = append(got, i)
		return i != 2
	})
	assert.Equal(t, []int{1, 2}, got)
}

// TestLenNotMultipleOf64 exercises maskTail's handling of a bit count that
// doesn't align to a 64-bit word boundary: SetAll must not leave spurious
// bits set past n, and Range/Count must agree with Len.
func TestLenNotMultipleOf64(t *testing.T) {
	b := New(70) // two words, second only 6 bits wide
	require.Equal(t, 70, b.Len())

	b.SetAll()
	assert.Equal(t, 70, b.Count())

	var maxSeen int
	b.Range(func(i int) bool {
		if i > maxSeen {
			maxSeen = i
		}
		return true
	})
	assert.Equal(t, 69, maxSeen)
}

func TestLenExactMultipleOf64(t *testing.T) {
	b := New(128)
	b.SetAll()
	assert.Equal(t, 128, b.Count())
}

func TestZeroLengthBitmap(t *testing.T) {
	b := New(0)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Count())
	b.SetAll()
	assert.Equal(t, 0, b.Count())
}

func TestNegativeLengthClampsToZero(t *testing.T) {
	b := New(-5)
	assert.Equal(t, 0, b.Len())
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	b := New(4)
	assert.Panics(t, func() { b.Set(4) })
	assert.Panics(t, func() { b.IsSet(-1) })
}
