// Package ring provides a fixed-capacity FIFO that overwrites its oldest entry.
package ring

// Buffer holds at most Cap() items. Push is O(1); once full, each Push evicts
// the oldest item. A Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest item
	size  int
}

// New returns an empty buffer. Capacities below 1 are raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v and reports whether an older item was evicted.
func (b *Buffer[T]) Push(v T) bool {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return false
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return true
}

// Len is the number of stored items.
func (b *Buffer[T]) Len() int { return b.size }

// Cap is the fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// At returns the i-th item counting from the oldest. It panics when out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Last returns the newest item.
func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Slice copies the items oldest first.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Do calls fn for each item from newest to oldest until fn returns false.
func (b *Buffer[T]) Do(fn func(T) bool) {
	for i := b.size - 1; i >= 0; i-- {
		if !fn(b.items[(b.head+i)%len(b.items)]) {
			return
		}
	}
}

// DropOldestWhile removes items from the old end while pred holds and returns
// how many were removed.
func (b *Buffer[T]) DropOldestWhile(pred func(T) bool) int {
	var zero T
	n := 0
	for b.size > 0 && pred(b.items[b.head]) {
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
		n++
	}
	return n
}
