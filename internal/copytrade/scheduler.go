package copytrade

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/betbot/edgebot/pkg/sigchan"
)

// DelayQueue 按到期时间排序的延迟任务队列。
//
// 单协程调度循环 + 最小堆，定时器只对最近到期的任务生效；
// 不为每个任务占用一个睡眠协程，入队方也绝不阻塞。
type DelayQueue struct {
	mu   sync.Mutex
	h    taskHeap
	wake *sigchan.Chan
}

type task struct {
	due time.Time
	fn  func()
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// NewDelayQueue 创建延迟队列
func NewDelayQueue() *DelayQueue {
	return &DelayQueue{
		wake: sigchan.New(1),
	}
}

// Schedule 注册一个在 due 时刻执行的任务（非阻塞）
func (q *DelayQueue) Schedule(due time.Time, fn func()) {
	if q == nil || fn == nil {
		return
	}
	q.mu.Lock()
	heap.Push(&q.h, &task{due: due, fn: fn})
	q.mu.Unlock()
	q.wake.Emit()
}

// Len 当前待执行任务数
func (q *DelayQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Run 调度循环（阻塞，通常在独立协程中运行直到 ctx 取消）
func (q *DelayQueue) Run(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.h) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.wake.C():
				continue
			}
		}

		next := q.h[0]
		wait := time.Until(next.due)
		if wait <= 0 {
			heap.Pop(&q.h)
			q.mu.Unlock()
			next.fn()
			continue
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake.C():
			// 有更早的任务入队，重新计算等待
			timer.Stop()
		case <-timer.C:
		}
	}
}
