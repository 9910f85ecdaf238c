package signing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// 任意有效的 secp256k1 测试私钥（无资金）
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func mkOrder() *domain.Order {
	return &domain.Order{
		ID:             "o1",
		IdempotencyKey: "abc123",
		MarketID:       "m1",
		Direction:      domain.DirectionTakeYes,
		Size:           decimal.NewFromInt(80),
		PriceLimit:     decimal.NewFromFloat(0.40),
		CreatedAt:      time.Unix(0, 1700000000000000000),
	}
}

func TestSigner_ProducesRecoverableSignature(t *testing.T) {
	s, err := NewFromHex(testKey, 137)
	if err != nil {
		t.Fatalf("NewFromHex 失败: %v", err)
	}

	sig, err := s.Sign(context.Background(), mkOrder())
	if err != nil {
		t.Fatalf("Sign 失败: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("签名长度错误: got=%d want=65", len(sig))
	}
}

func TestSigner_DeterministicForSameOrder(t *testing.T) {
	s, _ := NewFromHex(testKey, 137)

	sig1, err1 := s.Sign(context.Background(), mkOrder())
	sig2, err2 := s.Sign(context.Background(), mkOrder())
	if err1 != nil || err2 != nil {
		t.Fatalf("Sign 失败: %v %v", err1, err2)
	}
	if string(sig1) != string(sig2) {
		t.Error("同一订单内容的签名应确定")
	}

	// 不同幂等键 → 不同签名
	other := mkOrder()
	other.IdempotencyKey = "different"
	sig3, _ := s.Sign(context.Background(), other)
	if string(sig1) == string(sig3) {
		t.Error("不同订单内容的签名应不同")
	}
}

func TestNewFromHex_RejectsInvalidKey(t *testing.T) {
	if _, err := NewFromHex("not-a-key", 137); err == nil {
		t.Error("无效私钥应报错")
	}
}
