package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// Thresholds 信号阈值
type Thresholds struct {
	MinEdge       decimal.Decimal // 最小边际（绝对值）
	MinConfidence decimal.Decimal // 最小置信度
}

// Generate 把 (市场价格, 模型概率, 置信度) 转换为方向性交易提案。
//
// 纯函数、无副作用：边际/阈值判断只存在于这里。
// 返回 nil 表示不产生提案。阈值判断为闭区间（恰好等于阈值视为通过）。
// 方向规则：模型概率高于市场价格买 YES，低于买 NO。
func Generate(market *domain.Market, modelProb, confidence decimal.Decimal, th Thresholds, now time.Time) *domain.TradeProposal {
	if market == nil {
		return nil
	}

	edge := modelProb.Sub(market.Price)

	if confidence.LessThan(th.MinConfidence) {
		return nil
	}
	if edge.Abs().LessThan(th.MinEdge) {
		return nil
	}
	// 边际为零没有方向，不构成提案
	if edge.Sign() == 0 {
		return nil
	}

	dir := domain.DirectionTakeYes
	if edge.Sign() < 0 {
		dir = domain.DirectionTakeNo
	}

	return &domain.TradeProposal{
		Market:     market,
		Direction:  dir,
		ModelProb:  modelProb,
		Confidence: confidence,
		Edge:       edge,
		Source:     domain.ProposalSourceScan,
		CreatedAt:  now,
	}
}
