package batch

// Partition splits items into contiguous chunks of at most size elements.
// The last chunk may be smaller. An empty input or size < 1 yields no chunks.
// Chunks share the backing array of items.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 || size < 1 {
		return [][]T{}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}
