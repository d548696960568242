// Package ring provides an array-backed ordered container with an explicit
// rotation operation, used for the round-robin queues of the scheduler.
package ring

const minCapacity = 8

// Ring is a double-ended queue over a circular buffer. The zero value is an
// empty ring ready to use. It is not safe for concurrent use.
type Ring[T comparable] struct {
	buf   []T
	head  int
	count int
}

func (r *Ring[T]) Len() int { return r.count }

// PushBack appends v at the tail.
func (r *Ring[T]) PushBack(v T) {
	if r.count == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
}

// Front returns the head element.
func (r *Ring[T]) Front() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[r.head], true
}

// At returns the i-th element counted from the head.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ring: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// PopFront removes and returns the head element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// RotateLeft moves the head element to the tail.
func (r *Ring[T]) RotateLeft() {
	if r.count < 2 {
		return
	}
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	v, _ := r.PopFront()
	r.PushBack(v)
}

// Index returns the position of v counted from the head, or -1.
func (r *Ring[T]) Index(v T) int {
	for i := 0; i < r.count; i++ {
		if r.buf[(r.head+i)%len(r.buf)] == v {
			return i
		}
	}
	return -1
}

func (r *Ring[T]) Contains(v T) bool { return r.Index(v) >= 0 }

// Remove deletes the first occurrence of v, keeping the order of the rest.
func (r *Ring[T]) Remove(v T) bool {
	i := r.Index(v)
	if i < 0 {
		return false
	}
	n := len(r.buf)
	for j := i; j < r.count-1; j++ {
		r.buf[(r.head+j)%n] = r.buf[(r.head+j+1)%n]
	}
	var zero T
	r.buf[(r.head+r.count-1)%n] = zero
	r.count--
	return true
}

// Each visits elements from head to tail until fn returns false.
func (r *Ring[T]) Each(fn func(v T) bool) {
	for i := 0; i < r.count; i++ {
		if !fn(r.buf[(r.head+i)%len(r.buf)]) {
			return
		}
	}
}

// Values returns a copy of the elements from head to tail.
func (r *Ring[T]) Values() []T {
	out := make([]T, 0, r.count)
	r.Each(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}

func (r *Ring[T]) grow() {
	size := len(r.buf) * 2
	if size < minCapacity {
		size = minCapacity
	}
	buf := make([]T, size)
	for i := 0; i < r.count; i++ {
		buf[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = buf
	r.head = 0
}
