package scheduler

import (
	"smart-prefetch/models"
)

// entry is a candidate waiting for a concurrency slot.
type entry struct {
	cand  models.PredictionCandidate
	seq   uint64
	retry bool
	index int
}

// queue implements heap.Interface: higher priority first, then the order
// of submission.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].cand.Priority != q[j].cand.Priority {
		return q[i].cand.Priority > q[j].cand.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x interface{}) {
	n := len(*q)
	item := x.(*entry)
	item.index = n
	*q = append(*q, item)
}

func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	// Popped entries are no longer in the heap; heap.Fix must not see them.
	item.index = -1
	*q = old[0 : n-1]
	return item
}
