package availability

import (
	"slices"
	"time"
)

// SubtractBlocks removes blocks (time off, closures) from [baseStart, baseEnd) and returns
// the remaining free windows in order.
func SubtractBlocks(baseStart, baseEnd time.Time, blocks []Interval) []Interval {
	if !baseEnd.After(baseStart) {
		return nil
	}
	var b []Interval
	for _, t := range blocks {
		// Clip to base interval.
		s := t.Start.UTC()
		e := t.End.UTC()
		if !e.After(baseStart) || !s.Before(baseEnd) {
			continue
		}
		if s.Before(baseStart) {
			s = baseStart
		}
		if e.After(baseEnd) {
			e = baseEnd
		}
		if e.After(s) {
			b = append(b, Interval{Start: s, End: e})
		}
	}
	if len(b) == 0 {
		return []Interval{{Start: baseStart, End: baseEnd}}
	}

	slices.SortFunc(b, func(x, y Interval) int {
		if c := x.Start.Compare(y.Start); c != 0 {
			return c
		}
		return x.End.Compare(y.End)
	})
	merged := make([]Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}

	var out []Interval
	cursor := baseStart
	for _, m := range merged {
		if m.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if baseEnd.After(cursor) {
		out = append(out, Interval{Start: cursor, End: baseEnd})
	}
	return out
}
