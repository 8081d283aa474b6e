package dedup

import "time"

// DefaultWindowSize bounds how much data a single discovery search scans.
const DefaultWindowSize = 10 * time.Minute

// Window is a half-open time range [Earliest, Latest).
type Window struct {
	Earliest time.Time
	Latest   time.Time
}

// Windows splits [start, end) into consecutive windows of size; the last one
// is truncated at end. A non-positive size yields a single window.
func Windows(start, end time.Time, size time.Duration) []Window {
	if !end.After(start) {
		return []Window{}
	}
	if size <= 0 {
		return []Window{{Earliest: start, Latest: end}}
	}

	var windows []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Earliest: cur, Latest: next})
		cur = next
	}
	return windows
}
