package containers

import "errors"

var (
	ErrRingFull  = errors.New("ring is full")
	ErrRingEmpty = errors.New("ring is empty")
)

// Ring is a fixed capacity FIFO queue.
type Ring[T any] struct {
	data       []T
	size       int
	readIndex  int
	writeIndex int
	count      int
}

// Create a new Ring
func NewRing[T any](size int) *Ring[T] {
	return &Ring[T]{
		data: make([]T, size),
		size: size,
	}
}

// Enqueue adds an element to the queue
func (r *Ring[T]) Enqueue(value T) error {
	if r.IsFull() {
		return ErrRingFull
	}

	r.data[r.writeIndex] = value
	r.writeIndex = (r.writeIndex + 1) % r.size
	r.count++
	return nil
}

// Push enqueues value, dropping the oldest element when the ring is full.
func (r *Ring[T]) Push(value T) {
	if r.IsFull() {
		_, _ = r.Dequeue()
	}
	_ = r.Enqueue(value)
}

// Dequeue removes and returns the front element in the queue
func (r *Ring[T]) Dequeue() (T, error) {
	var zero T
	if r.IsEmpty() {
		return zero, ErrRingEmpty
	}

	value := r.data[r.readIndex]
	r.data[r.readIndex] = zero
	r.readIndex = (r.readIndex + 1) % r.size
	r.count--
	return value, nil
}

// Peek returns the front element without removing it
func (r *Ring[T]) Peek() (T, error) {
	if r.IsEmpty() {
		var zero T
		return zero, ErrRingEmpty
	}
	return r.data[r.readIndex], nil
}

// Each calls fn for every element from oldest to newest.
func (r *Ring[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.data[(r.readIndex+i)%r.size])
	}
}

func (r *Ring[T]) Len() int {
	return r.count
}

// IsEmpty checks if the queue is empty
func (r *Ring[T]) IsEmpty() bool {
	return r.count == 0
}

// IsFull checks if the queue is full
func (r *Ring[T]) IsFull() bool {
	return r.count == r.size
}
