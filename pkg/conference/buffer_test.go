package conference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleQueue_WrapAround(t *testing.T) {
	q := newSampleQueue(8)
	require.True(t, q.Write([]int16{1, 2, 3, 4, 5, 6}))
	assert.False(t, q.Write([]int16{7, 8, 9}), "запись целиком или ничего")
	assert.Equal(t, 6, q.Len())

	dst := make([]int16, 4)
	assert.Equal(t, 4, q.Read(dst))
	assert.Equal(t, []int16{1, 2, 3, 4}, dst)

	require.True(t, q.Write([]int16{7, 8, 9, 10, 11, 12}))
	assert.Equal(t, 8, q.Len())

	out := make([]int16, 10)
	n := q.Read(out)
	assert.Equal(t, 8, n)
	assert.Equal(t, []int16{5, 6, 7, 8, 9, 10, 11, 12}, out[:n])
	assert.Zero(t, q.Len())
}

func TestSampleQueue_Reset(t *testing.T) {
	q := newSampleQueue(4)
	q.Write([]int16{1, 2, 3})
	q.stale = 3
	q.Reset()
	assert.Zero(t, q.Len())
	assert.Zero(t, q.stale)
	assert.Equal(t, 4, q.Cap())
	assert.Zero(t, q.Read(make([]int16, 2)))
}
