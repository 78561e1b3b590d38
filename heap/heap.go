// Package heap provides a generic binary min-heap and a bounded variant
// that retains only the largest items seen, used for top-N indexes such
// as slow operation tracking.
package heap

type Heap[T any] struct {
	items []T
	less  func(a, b T) bool
}

func New[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{less: less}
}

func (h *Heap[T]) Len() int {
	return len(h.items)
}

func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	index := len(h.items) - 1
	for index > 0 {
		parent := (index - 1) / 2
		if !h.less(h.items[index], h.items[parent]) {
			break
		}
		h.items[index], h.items[parent] = h.items[parent], h.items[index]
		index = parent
	}
}

func (h *Heap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

func (h *Heap[T]) Pop() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	h.sink(0)
	return top, true
}

func (h *Heap[T]) sink(index int) {
	size := len(h.items)
	for {
		left, right := 2*index+1, 2*index+2
		least := index
		if left < size && h.less(h.items[left], h.items[least]) {
			least = left
		}
		if right < size && h.less(h.items[right], h.items[least]) {
			least = right
		}
		if least == index {
			return
		}
		h.items[index], h.items[least] = h.items[least], h.items[index]
		index = least
	}
}

// Drain pops every item, smallest first.
func (h *Heap[T]) Drain() []T {
	result := make([]T, 0, len(h.items))
	for {
		item, found := h.Pop()
		if !found {
			return result
		}
		result = append(result, item)
	}
}

// Bounded keeps the cap largest items pushed into it. Internally a
// min-heap whose root is the smallest retained item, evicted when a
// larger one arrives.
type Bounded[T any] struct {
	heap *Heap[T]
	cap  int
}

func NewBounded[T any](cap int, less func(a, b T) bool) *Bounded[T] {
	return &Bounded[T]{
		heap: New(less),
		cap:  cap,
	}
}

func (b *Bounded[T]) Len() int {
	return b.heap.Len()
}

func (b *Bounded[T]) Push(item T) {
	if b.heap.Len() < b.cap {
		b.heap.Push(item)
		return
	}
	smallest, found := b.heap.Peek()
	if !found || b.heap.less(item, smallest) {
		return
	}
	b.heap.Pop()
	b.heap.Push(item)
}

// Sorted returns the retained items, largest first, without disturbing
// the heap.
func (b *Bounded[T]) Sorted() []T {
	scratch := &Heap[T]{items: append([]T(nil), b.heap.items...), less: b.heap.less}
	ascending := scratch.Drain()
	for i, j := 0, len(ascending)-1; i < j; i, j = i+1, j-1 {
		ascending[i], ascending[j] = ascending[j], ascending[i]
	}
	return ascending
}
