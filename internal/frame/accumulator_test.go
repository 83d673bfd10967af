package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_AppendPeekConsume(t *testing.T) {
	acc := NewAccumulator(4)
	assert.Equal(t, 0, acc.Len())
	assert.Empty(t, acc.Peek(3))

	acc.Append([]byte("hello"))
	acc.Append(nil)
	acc.Append([]byte(" world"))
	assert.Equal(t, 11, acc.Len())
	assert.Equal(t, []byte("hel"), acc.Peek(3))
	assert.Equal(t, []byte("hello world"), acc.Peek(100), "peek clamps to buffered size")
	assert.Equal(t, 11, acc.Len(), "peek must not consume")

	require.NoError(t, acc.Consume(6))
	assert.Equal(t, []byte("world"), acc.Bytes())

	require.NoError(t, acc.Consume(5))
	assert.Equal(t, 0, acc.Len())
}

func TestAccumulator_ConsumeTooMuch(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Append([]byte{1, 2, 3})

	err := acc.Consume(4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, 3, acc.Len(), "failed consume leaves the buffer untouched")

	assert.ErrorIs(t, acc.Consume(-1), ErrInvariantViolation)
}

func TestAccumulator_CompactionPreservesOrder(t *testing.T) {
	acc := NewAccumulator(8)
	var want []byte
	next := byte(0)

	// Interleave appends and partial consumes so the consumed prefix is
	// reclaimed several times
	for round := 0; round < 50; round++ {
		chunk := make([]byte, round%7+1)
		for i := range chunk {
			chunk[i] = next
			next++
		}
		acc.Append(chunk)
		want = append(want, chunk...)

		n := acc.Len() / 2
		require.NoError(t, acc.Consume(n))
		want = want[n:]
		require.Equal(t, want, acc.Bytes(), "round %d", round)
	}
}

func TestAccumulator_Reset(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Append([]byte("partial"))
	acc.Reset()
	assert.Equal(t, 0, acc.Len())

	acc.Append([]byte("x"))
	assert.Equal(t, []byte("x"), acc.Bytes())
}
