package file

import (
	"math"
	"sort"
)

// byteRanges is the set of byte ranges written to an incoming transfer's sink,
// kept sorted and merged.
type byteRanges struct {
	spans []byteSpan
}

type byteSpan struct {
	start, end uint64
}

// add records [start, end), merging it with any overlapping or adjacent span.
func (r *byteRanges) add(start, end uint64) {
	if end <= start {
		return
	}
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].end >= start })
	j := i
	for j < len(r.spans) && r.spans[j].start <= end {
		if r.spans[j].start < start {
			start = r.spans[j].start
		}
		if r.spans[j].end > end {
			end = r.spans[j].end
		}
		j++
	}

	rest := append([]byteSpan{{start: start, end: end}}, r.spans[j:]...)
	r.spans = append(r.spans[:i], rest...)
}

// nextMissing returns the first offset at or after from that has not been
// written.
func (r *byteRanges) nextMissing(from uint64) uint64 {
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].end > from })
	if i < len(r.spans) && r.spans[i].start <= from {
		return r.spans[i].end
	}
	return from
}

// nextWritten returns the start of the first written span after from, or
// math.MaxUint64 if there is none. It bounds the gap that begins at from.
func (r *byteRanges) nextWritten(from uint64) uint64 {
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].start > from })
	if i < len(r.spans) {
		return r.spans[i].start
	}
	return math.MaxUint64
}

// size returns the number of distinct bytes written.
func (r *byteRanges) size() uint64 {
	var n uint64
	for _, s := range r.spans {
		n += s.end - s.start
	}
	return n
}
