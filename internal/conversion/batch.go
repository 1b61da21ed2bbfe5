package conversion

import "sort"

// Run is a block of consecutive register addresses read in one request.
type Run struct {
	Start int
	Count int
}

// GroupAddresses collapses addresses into maximal runs of consecutive values.
// The input is sorted and deduplicated on a copy.
func GroupAddresses(addrs []int) []Run {
	if len(addrs) == 0 {
		return nil
	}
	sorted := append([]int(nil), addrs...)
	sort.Ints(sorted)

	var runs []Run
	current := Run{Start: sorted[0], Count: 1}
	for _, addr := range sorted[1:] {
		last := current.Start + current.Count - 1
		switch {
		case addr == last:
			continue
		case addr == last+1:
			current.Count++
		default:
			runs = append(runs, current)
			current = Run{Start: addr, Count: 1}
		}
	}
	return append(runs, current)
}

// SplitRuns cuts every run into chunks of at most max registers. max <= 0
// leaves the runs untouched.
func SplitRuns(runs []Run, max int) []Run {
	if max <= 0 {
		return runs
	}
	out := make([]Run, 0, len(runs))
	for _, r := range runs {
		for start, left := r.Start, r.Count; left > 0; {
			n := left
			if n > max {
				n = max
			}
			out = append(out, Run{Start: start, Count: n})
			start += n
			left -= n
		}
	}
	return out
}
