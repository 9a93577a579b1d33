package signals

// Size returns the byte footprint of a signal: len(key) + len(value).
func Size(s Signal) int64 {
	return int64(len(s.Key) + len(s.Value))
}

// TotalSize sums Size over xs. It is 0 for an empty collection.
func TotalSize(xs []Signal) int64 {
	var total int64
	for _, s := range xs {
		total += Size(s)
	}
	return total
}

// MaxSize returns the largest Size in xs, or 0 if xs is empty.
func MaxSize(xs []Signal) int64 {
	var m int64
	for i, s := range xs {
		if sz := Size(s); i == 0 || sz > m {
			m = sz
		}
	}
	return m
}

// MinSize returns the smallest Size in xs, or 0 if xs is empty.
func MinSize(xs []Signal) int64 {
	var m int64
	for i, s := range xs {
		if sz := Size(s); i == 0 || sz < m {
			m = sz
		}
	}
	return m
}
