package exchange

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/ports"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{422, false},
	}
	for _, c := range cases {
		err := classifyStatus(c.code, "body")
		if got := ports.IsTransient(err); got != c.transient {
			t.Errorf("code=%d: transient=%v want=%v", c.code, got, c.transient)
		}
		if got := ports.IsPermanent(err); got == c.transient {
			t.Errorf("code=%d: 分类必须二选一", c.code)
		}
	}
}

func TestClassifyTransportError_AlwaysTransient(t *testing.T) {
	if !ports.IsTransient(classifyTransportError(context.DeadlineExceeded)) {
		t.Error("超时应分类为瞬时错误")
	}
}

func TestPaper_FillsAtLimitPrice(t *testing.T) {
	p := NewPaper()
	order := &domain.Order{
		ID:         "o1",
		MarketID:   "m1",
		Direction:  domain.DirectionTakeYes,
		Size:       decimal.NewFromInt(80),
		PriceLimit: decimal.NewFromFloat(0.40),
	}

	handle, err := p.Submit(context.Background(), order, nil)
	if err != nil {
		t.Fatalf("Submit 失败: %v", err)
	}
	fills, err := p.PollFills(context.Background(), handle)
	if err != nil || len(fills) != 1 {
		t.Fatalf("应有一笔模拟成交: fills=%d err=%v", len(fills), err)
	}
	if !fills[0].Notional().Equal(order.Size) {
		t.Errorf("成交金额应等于下单金额: got=%s want=%s", fills[0].Notional(), order.Size)
	}
	if !fills[0].Price.Equal(order.PriceLimit) {
		t.Errorf("成交价应为限价: got=%s", fills[0].Price)
	}
}
