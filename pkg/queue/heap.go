package queue

import (
	"time"

	"github.com/darianrosebrook/agent-agency-sub007/pkg/models"
)

// item is one heap entry. The effective priority is computed once at
// enqueue; the sequence number makes ordering total.
type item struct {
	state     *models.TaskState
	effective float64
	seq       uint64
	index     int
}

// taskHeap orders items by effective priority descending, created-at
// ascending, and finally arrival sequence. It implements heap.Interface.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.effective != b.effective {
		return a.effective > b.effective
	}
	at, bt := a.state.Task.CreatedAt, b.state.Task.CreatedAt
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// effectivePriority computes the ordering key for a task under the given
// policy. FIFO maps earlier arrival to a higher key; deadline boosts the
// task priority by up to 10 as the effective deadline approaches within
// a 24h window.
func effectivePriority(policy models.QueuePolicy, task *models.Task, now time.Time) float64 {
	switch policy {
	case models.QueuePolicyFIFO:
		return -float64(task.CreatedAt.UnixMilli())
	case models.QueuePolicyDeadline:
		urgency := models.Clamp(1-task.EffectiveDeadline().Sub(now).Hours()/24, 0, 1)
		return float64(task.Priority) + urgency*10
	default:
		return float64(task.Priority)
	}
}
