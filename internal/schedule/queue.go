package schedule

import (
	"container/heap"

	"github.com/david/grant-scraper/internal/models"
)

// pqItem wraps a pending job with its heap index so Cancel can remove it.
type pqItem struct {
	job   *models.Job
	index int
}

// pendingQueue orders jobs by priority (higher first), then by earlier
// scheduled-at within equal priority.
type pendingQueue []*pqItem

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	a, b := q[i].job, q[j].job
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ScheduledAt.Before(b.ScheduledAt)
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pendingQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *pendingQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (q *pendingQueue) push(job *models.Job) *pqItem {
	item := &pqItem{job: job}
	heap.Push(q, item)
	return item
}

func (q *pendingQueue) remove(item *pqItem) {
	if item.index >= 0 {
		heap.Remove(q, item.index)
	}
}
