package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen 表示熔断器已打开，禁止继续交易。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreaker 执行错误熔断器。
//
// 执行引擎在每次提交前走快路径检查；连续执行错误达到阈值后熔断，
// 需人工经由控制面 Resume 恢复。快路径全部使用原子变量，不加锁。
// 约定：阈值 <= 0 表示关闭自动熔断（仍可手动 Halt）。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors    atomic.Int64
	maxConsecutiveErrors atomic.Int64
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(maxConsecutiveErrors int64) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.maxConsecutiveErrors.Store(maxConsecutiveErrors)
	return cb
}

// Halt 手动熔断（人工介入或检测到严重异常）
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// IsHalted 返回当前是否处于熔断状态
func (cb *CircuitBreaker) IsHalted() bool {
	if cb == nil {
		return false
	}
	return cb.halted.Load()
}

// AllowTrading 快路径检查是否允许交易
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}

	return nil
}

// OnSuccess 在一次关键执行成功后调用，清空连续错误计数
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

// OnError 在一次关键执行失败后调用，累计连续错误计数
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// ConsecutiveErrors 当前连续错误计数
func (cb *CircuitBreaker) ConsecutiveErrors() int64 {
	if cb == nil {
		return 0
	}
	return cb.consecutiveErrors.Load()
}
