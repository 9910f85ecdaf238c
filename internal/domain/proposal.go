package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalSource 提案来源
type ProposalSource string

const (
	ProposalSourceScan   ProposalSource = "scan"   // 市场扫描
	ProposalSourceCopy   ProposalSource = "copy"   // 跟单
	ProposalSourceIngest ProposalSource = "ingest" // 外部信号接入
)

// Direction 交易方向（买入哪一侧）
type Direction string

const (
	DirectionTakeYes Direction = "take-yes" // 买 YES（模型概率高于市场价格）
	DirectionTakeNo  Direction = "take-no"  // 买 NO（模型概率低于市场价格）
)

// TradeProposal 交易提案
// 由 Signal Generator 或 Copy-Trade Monitor 创建，创建后不可变；
// 重新评估时用新提案替换，不做原地修改。
type TradeProposal struct {
	Market      *Market         // 市场快照引用
	Direction   Direction       // 方向
	ModelProb   decimal.Decimal // 模型概率（跟单来源为零值）
	Confidence  decimal.Decimal // 置信度（0-1）
	Edge        decimal.Decimal // 带符号边际 = 模型概率 - 市场价格
	Source      ProposalSource  // 来源
	RawNotional decimal.Decimal // 跟单来源的原始下单金额（observedSize × copyRatio；scan 来源为 0）
	CreatedAt   time.Time       // 创建时间
}

// EdgeMagnitude 返回边际的绝对值（下游仓位计算使用）
func (p *TradeProposal) EdgeMagnitude() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Edge.Abs()
}

// SizedProposal 已计算仓位的提案
// 不变式: Size >= 0；Size = 0 表示“不交易”。
type SizedProposal struct {
	Proposal   *TradeProposal  // 原始提案
	Size       decimal.Decimal // 仓位金额（货币单位）
	Multiplier decimal.Decimal // 实际应用的综合乘数（复利 × sqrt 缩放 × 回撤）
}
