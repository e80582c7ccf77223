package scheduler

import "time"

// delayedTask is one entry in the delayed-task min-heap.
type delayedTask struct {
	deadline time.Time
	task     Task
	canceled bool
	index    int
}

// delayedHeap implements container/heap.Interface, ordered by deadline.
type delayedHeap []*delayedTask

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	item := x.(*delayedTask)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
