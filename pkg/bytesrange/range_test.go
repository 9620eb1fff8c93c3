package bytesrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangesSortAndMerge(t *testing.T) {
	t.Run("nothing_to_merge", func(t *testing.T) {
		entries := Ranges{{Offset: 2, Length: 1}, {Offset: 0, Length: 1}}
		entries.SortAndMerge()
		assert.Equal(t, Ranges{{Offset: 0, Length: 1}, {Offset: 2, Length: 1}}, entries)
	})
	t.Run("merge_overlapping", func(t *testing.T) {
		entries := Ranges{{Offset: 2, Length: 3}, {Offset: 0, Length: 3}}
		entries.SortAndMerge()
		assert.Equal(t, Ranges{{Offset: 0, Length: 5}}, entries)
	})
	t.Run("merge_no_distance", func(t *testing.T) {
		entries := Ranges{{Offset: 2, Length: 2}, {Offset: 0, Length: 2}}
		entries.SortAndMerge()
		assert.Equal(t, Ranges{{Offset: 0, Length: 4}}, entries)
	})
}

func TestRangeExclude(t *testing.T) {
	assert.Equal(t,
		Ranges{{Offset: 0, Length: 1}, {Offset: 2, Length: 3}, {Offset: 6, Length: 4}},
		Range{Offset: 0, Length: 10}.Exclude(
			Range{Offset: 1, Length: 1},
			Range{Offset: 5, Length: 1},
		),
	)

	assert.Equal(t,
		Ranges{{Offset: 1, Length: 9}},
		Range{Offset: 0, Length: 10}.Exclude(Range{Offset: 0, Length: 1}),
	)

	assert.Equal(t,
		Ranges{{Offset: 0, Length: 10}},
		Range{Offset: 0, Length: 10}.Exclude(),
	)

	assert.Empty(t,
		Range{Offset: 0, Length: 10}.Exclude(Range{Offset: 0, Length: 10}),
	)

	assert.Empty(t,
		Range{Offset: 10, Length: 10}.Exclude(Range{Offset: 0, Length: 30}),
	)
}

func TestRangeIntersect(t *testing.T) {
	assert.True(t, Range{Offset: 0, Length: 10}.Intersect(Range{Offset: 5, Length: 10}))
	assert.False(t, Range{Offset: 0, Length: 10}.Intersect(Range{Offset: 10, Length: 10}))
	assert.False(t, Range{Offset: 0, Length: 0}.Intersect(Range{Offset: 0, Length: 10}))
}

func TestIsZeroFilled(t *testing.T) {
	for _, size := range []int{0, 1, 7, 8, 256, 4096} {
		b := make([]byte, size)
		assert.True(t, IsZeroFilled(b), "size %d", size)
		if size > 0 {
			b[size-1] = 1
			assert.False(t, IsZeroFilled(b), "size %d", size)
		}
	}
}
