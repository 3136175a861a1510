// Package queueing provides the bounded FIFOs that decouple the host side of
// the controller from the device side.
package queueing

import (
	"github.com/sarchlab/ddr2ctrl/sim/hooking"
)

// HookPosBufPush marks when an element is pushed into the buffer.
var HookPosBufPush = &hooking.HookPos{Name: "Buffer Push"}

// HookPosBufPop marks when an element is popped from the buffer.
var HookPosBufPop = &hooking.HookPos{Name: "Buffer Pop"}

// HookPosBufReject marks a push that was refused because the buffer is full.
var HookPosBufReject = &hooking.HookPos{Name: "Buffer Reject"}

// A Queue is the view of a Buffer that does not depend on the element type.
type Queue interface {
	Name() string
	Capacity() int
	Size() int
}

// A Buffer is a bounded FIFO. A push to a full buffer is refused and the
// element is not stored.
type Buffer[T any] interface {
	hooking.Hookable

	Name() string
	CanPush() bool
	TryPush(e T) bool
	Pop() (T, bool)
	Peek() (T, bool)
	Capacity() int
	Size() int
	Free() int
	Clear()
}

// BufferBuilder is a builder for Buffer.
type BufferBuilder struct {
	capacity int
}

// MakeBufferBuilder creates a BufferBuilder with a capacity of 1.
func MakeBufferBuilder() BufferBuilder {
	return BufferBuilder{capacity: 1}
}

// WithCapacity defines the capacity of the buffer.
func (b BufferBuilder) WithCapacity(capacity int) BufferBuilder {
	b.capacity = capacity
	return b
}

// BuildBuffer builds a new Buffer of element type T. It is a function rather
// than a method because Go methods cannot carry type parameters.
func BuildBuffer[T any](b BufferBuilder, name string) Buffer[T] {
	if b.capacity <= 0 {
		panic("buffer capacity must be positive")
	}

	return &bufferImpl[T]{
		name:     name,
		capacity: b.capacity,
		elements: make([]T, b.capacity),
	}
}

// bufferImpl stores elements in a circular slice so that push and pop never
// allocate.
type bufferImpl[T any] struct {
	hooking.HookableBase

	name     string
	capacity int
	elements []T
	head     int
	size     int
}

func (b *bufferImpl[T]) Name() string {
	return b.name
}

func (b *bufferImpl[T]) CanPush() bool {
	return b.size < b.capacity
}

func (b *bufferImpl[T]) TryPush(e T) bool {
	if b.size >= b.capacity {
		b.invoke(HookPosBufReject, e)
		return false
	}

	b.elements[(b.head+b.size)%b.capacity] = e
	b.size++

	b.invoke(HookPosBufPush, e)

	return true
}

func (b *bufferImpl[T]) Pop() (T, bool) {
	var zero T

	if b.size == 0 {
		return zero, false
	}

	e := b.elements[b.head]
	b.elements[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.size--

	b.invoke(HookPosBufPop, e)

	return e, true
}

func (b *bufferImpl[T]) Peek() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}

	return b.elements[b.head], true
}

func (b *bufferImpl[T]) Capacity() int {
	return b.capacity
}

func (b *bufferImpl[T]) Size() int {
	return b.size
}

func (b *bufferImpl[T]) Free() int {
	return b.capacity - b.size
}

func (b *bufferImpl[T]) Clear() {
	var zero T
	for i := range b.elements {
		b.elements[i] = zero
	}

	b.head = 0
	b.size = 0
}

func (b *bufferImpl[T]) invoke(pos *hooking.HookPos, e T) {
	if b.NumHooks() == 0 {
		return
	}

	b.InvokeHook(hooking.HookCtx{
		Domain: b,
		Pos:    pos,
		Item:   e,
	})
}
