package cachecore

// RangeBounds converts Redis-style LRANGE indexes into a half-open slice window
// over a list of length n. ok is false when the window is empty.
func RangeBounds(n, start, stop int64) (lo, hi int64, ok bool) {
	if n <= 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop + 1, true
}
