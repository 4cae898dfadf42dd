package containers

import (
	"errors"
	"testing"
)

func TestRingFIFO(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if err := r.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := r.Enqueue(4); !errors.Is(err, ErrRingFull) {
		t.Errorf("expected ErrRingFull, got %v", err)
	}
	for want := 1; want <= 3; want++ {
		got, err := r.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	if _, err := r.Dequeue(); !errors.Is(err, ErrRingEmpty) {
		t.Errorf("expected ErrRingEmpty, got %v", err)
	}
}

func TestRingPushOverwritesOldest(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)

	var got []int
	r.Each(func(v int) { got = append(got, v) })
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}
	if v, _ := r.Peek(); v != 2 {
		t.Errorf("expected peek 2, got %d", v)
	}
}
