package natsrpc

import (
	"container/heap"
	"sync"
)

// callQueue holds accepted calls until a worker is free. Higher priorities
// run first; equal priorities run in arrival order.
type callQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  queuedCalls
	seq    uint64
	closed bool
}

type queuedCall struct {
	priority uint8
	seq      uint64
	run      func()
}

func newCallQueue() *callQueue {
	q := &callQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push queues run. It reports false once the queue is closed.
func (q *callQueue) push(priority uint8, run func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	heap.Push(&q.items, &queuedCall{priority: priority, seq: q.seq, run: run})
	q.cond.Signal()
	return true
}

// pop blocks for the next call. After close it keeps returning queued calls
// and reports false when none are left.
func (q *callQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*queuedCall).run, true
}

func (q *callQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *callQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type queuedCalls []*queuedCall

func (h queuedCalls) Len() int { return len(h) }

func (h queuedCalls) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h queuedCalls) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *queuedCalls) Push(x any) { *h = append(*h, x.(*queuedCall)) }

func (h *queuedCalls) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
