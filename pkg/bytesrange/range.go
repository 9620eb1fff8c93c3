package bytesrange

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a generic physical/virtual address range: [Offset, Offset+Length).
type Range struct {
	Offset uint64
	Length uint64
}

func (r Range) String() string {
	return fmt.Sprintf(`{"Offset":"0x%x", "Length":"0x%x"}`, r.Offset, r.Length)
}

// End returns the exclusive end of the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Intersect reports whether r and cmp share at least one byte.
func (r Range) Intersect(cmp Range) bool {
	if r.Length == 0 || cmp.Length == 0 {
		return false
	}
	return r.Offset < cmp.End() && cmp.Offset < r.End()
}

// Exclude returns the pieces of r that remain after removing every byte
// covered by cuts. A range that no cut intersects comes back unchanged as
// the single piece.
func (r Range) Exclude(cuts ...Range) Ranges {
	remaining := Ranges{r}
	for _, cut := range cuts {
		var next Ranges
		for _, piece := range remaining {
			if !piece.Intersect(cut) {
				next = append(next, piece)
				continue
			}
			if cut.Offset > piece.Offset {
				next = append(next, Range{Offset: piece.Offset, Length: cut.Offset - piece.Offset})
			}
			if cut.End() < piece.End() {
				next = append(next, Range{Offset: cut.End(), Length: piece.End() - cut.End()})
			}
		}
		remaining = next
	}
	return remaining
}

// Ranges is a helper to manipulate multiple Range values at once.
type Ranges []Range

func (s Ranges) String() string {
	r := make([]string, 0, len(s))
	for _, oneRange := range s {
		r = append(r, oneRange.String())
	}
	return `[` + strings.Join(r, `, `) + `]`
}

// Sort sorts the slice by Offset.
func (s Ranges) Sort() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].Offset < s[j].Offset
	})
}

// MergeRanges merges ranges whose gap is at most mergeDistance.
//
// The input must already be sorted by Offset.
func MergeRanges(in Ranges, mergeDistance uint64) Ranges {
	if len(in) < 2 {
		return in
	}

	var result Ranges
	entry := in[0]
	for _, nextEntry := range in[1:] {
		if entry.Offset+entry.Length+mergeDistance >= nextEntry.Offset {
			entry.Length = (nextEntry.Offset - entry.Offset) + nextEntry.Length
			continue
		}
		result = append(result, entry)
		entry = nextEntry
	}
	result = append(result, entry)
	return result
}

// SortAndMerge sorts the slice by Offset and merges adjacent/overlapping
// ranges.
func (s *Ranges) SortAndMerge() {
	if len(*s) < 2 {
		return
	}
	s.Sort()
	*s = MergeRanges(*s, 0)
}

// IsIn reports whether index falls within any range.
func (s Ranges) IsIn(index uint64) bool {
	for _, r := range s {
		if r.Offset <= index && index < r.End() {
			return true
		}
	}
	return false
}
