package availability

import (
	"iter"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Candidates yields start times on a step grid anchored at windowStart, for as long as a
// booking of length duration still ends by windowEnd. Each range over the sequence starts
// again from windowStart.
func Candidates(windowStart, windowEnd time.Time, duration, step time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
			if !yield(t) {
				return
			}
		}
	}
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

func containedInAny(start, end time.Time, windows []Interval) bool {
	for _, w := range windows {
		if !start.Before(w.Start) && !end.After(w.End) {
			return true
		}
	}
	return false
}
