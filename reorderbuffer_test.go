package rob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtxtLess(a, b *Context[int]) bool {
	if a == b {
		return false
	}
	if a.item < b.item {
		return true
	}
	if b.item < a.item {
		return false
	}
	return ptrLess(a, b)
}

func TestReorderBuffer_PopsInPriorityOrder(t *testing.T) {
	r := newReorderBuffer(testCtxtLess)
	items := []int{5, 1, 4, 2, 3}
	for _, v := range items {
		r.push(&Context[int]{item: v})
	}

	got := make([]int, 0, len(items))
	for !r.empty() {
		got = append(got, r.pop().item)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestReorderBuffer_EqualPrioritiesBreakTiesByPointer(t *testing.T) {
	r := newReorderBuffer(testCtxtLess)
	a := &Context[int]{item: 7}
	b := &Context[int]{item: 7}
	r.push(a)
	r.push(b)

	first := r.pop()
	second := r.pop()
	require.NotSame(t, first, second)
	assert.True(t, testCtxtLess(first, second))
}

func TestReorderBuffer_DrainAll(t *testing.T) {
	r := newReorderBuffer(testCtxtLess)
	r.push(&Context[int]{item: 3})
	r.push(&Context[int]{item: 1})
	r.push(&Context[int]{item: 2})

	drained := r.drainAll()
	assert.Len(t, drained, 3)
	assert.True(t, r.empty())
}
