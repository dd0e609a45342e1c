package mug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfDeterministic(t *testing.T) {
	buf := make([]byte, 16384)
	for i := range buf {
		buf[i] = byte(i)
	}

	assert.Equal(t, Of(buf), Of(buf))
}

func TestOfDiffers(t *testing.T) {
	a := make([]byte, 4096)
	b := make([]byte, 4096)
	b[2048] = 1

	assert.NotEqual(t, Of(a), Of(b))
}

func TestOfEmpty(t *testing.T) {
	assert.Equal(t, Of(nil), Of([]byte{}))
}

func TestOfOddLength(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7}
	assert.NotZero(t, Of(buf))
}
