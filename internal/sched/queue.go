package sched

import (
	"container/heap"
)

// loadQueue orders pending loads by priority bucket, FIFO within a
// bucket via a monotone sequence number. Strict preemption of running
// loads is deliberately not provided; a lower-priority load may occupy
// a slot for at most one slot-cycle while a critical one waits.
type loadQueue []*load

var _ heap.Interface = (*loadQueue)(nil)

func (q loadQueue) Len() int { return len(q) }

func (q loadQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q loadQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *loadQueue) Push(x any) {
	l := x.(*load)
	l.heapIndex = len(*q)
	*q = append(*q, l)
}

func (q *loadQueue) Pop() any {
	old := *q
	n := len(old)
	l := old[n-1]
	old[n-1] = nil
	l.heapIndex = -1
	*q = old[:n-1]
	return l
}
