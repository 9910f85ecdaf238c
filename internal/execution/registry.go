package execution

import (
	"fmt"
	"sync"
)

// ErrMarketBusy 表示该市场已有一个非终态订单在途。
// 用于 reject 策略：同市场的第二个提案被直接拒绝。
var ErrMarketBusy = fmt.Errorf("market has an order in flight")

// InflightPolicy 同市场在途订单冲突时的处理策略
type InflightPolicy string

const (
	PolicyReject InflightPolicy = "reject" // 直接拒绝第二个提案
	PolicyQueue  InflightPolicy = "queue"  // 排队，待在途订单终态后处理
)

// marketRegistry 维护“每市场至多一个非终态订单”的串行化不变式。
//
// 风控的敞口检查跨市场读取同一快照；若同市场允许并发在途订单，
// 后评估的那个会基于前一个尚未入账的快照通过检查。槽位在订单
// 到达终态前不释放，从根上排除这种陈旧快照竞态。
type marketRegistry struct {
	mu      sync.Mutex
	busy    map[string]bool
	waiting map[string][]*request
	policy  InflightPolicy
}

func newMarketRegistry(policy InflightPolicy) *marketRegistry {
	if policy == "" {
		policy = PolicyReject
	}
	return &marketRegistry{
		busy:    make(map[string]bool),
		waiting: make(map[string][]*request),
		policy:  policy,
	}
}

// Admit 尝试占用市场槽位。
// 返回 admitted=true 表示可立即处理；
// admitted=false 且 err=nil 表示已排队（queue 策略）；
// err=ErrMarketBusy 表示被拒绝（reject 策略）。
func (r *marketRegistry) Admit(marketID string, q *request) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.busy[marketID] {
		r.busy[marketID] = true
		return true, nil
	}
	if r.policy == PolicyQueue {
		r.waiting[marketID] = append(r.waiting[marketID], q)
		return false, nil
	}
	return false, ErrMarketBusy
}

// Release 释放槽位；如有排队请求则弹出下一个（槽位保持占用）
func (r *marketRegistry) Release(marketID string) *request {
	r.mu.Lock()
	defer r.mu.Unlock()

	if queue := r.waiting[marketID]; len(queue) > 0 {
		next := queue[0]
		r.waiting[marketID] = queue[1:]
		if len(r.waiting[marketID]) == 0 {
			delete(r.waiting, marketID)
		}
		return next
	}
	delete(r.busy, marketID)
	return nil
}

// DrainWaiting 取出所有排队请求（关闭时统一拒绝）
func (r *marketRegistry) DrainWaiting() []*request {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*request
	for id, queue := range r.waiting {
		out = append(out, queue...)
		delete(r.waiting, id)
	}
	return out
}
