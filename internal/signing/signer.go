package signing

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/edgebot/internal/domain"
)

const (
	domainName    = "EdgeBot Exchange"
	domainVersion = "1"
)

// Signer EIP712 订单签名器（实现 ports.Signer）。
// 签名失败是永久性错误：同一内容重签没有意义。
type Signer struct {
	privateKey *ecdsa.PrivateKey
	chainID    int64
}

// NewFromHex 从十六进制私钥创建签名器
func NewFromHex(hexKey string, chainID int64) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &Signer{privateKey: privateKey, chainID: chainID}, nil
}

// Address 签名地址
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey)
}

// Sign 对订单内容构建 EIP712 签名
func (s *Signer) Sign(_ context.Context, order *domain.Order) ([]byte, error) {
	if order == nil {
		return nil, fmt.Errorf("order is nil")
	}

	domainSep := apitypes.TypedDataDomain{
		Name:    domainName,
		Version: domainVersion,
		ChainId: math.NewHexOrDecimal256(s.chainID),
	}

	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"Order": {
			{Name: "maker", Type: "address"},
			{Name: "market", Type: "string"},
			{Name: "direction", Type: "string"},
			{Name: "size", Type: "string"},
			{Name: "priceLimit", Type: "string"},
			{Name: "idempotencyKey", Type: "string"},
			{Name: "createdAt", Type: "uint256"},
		},
	}

	message := map[string]interface{}{
		"maker":          s.Address().Hex(),
		"market":         order.MarketID,
		"direction":      string(order.Direction),
		"size":           order.Size.String(),
		"priceLimit":     order.PriceLimit.String(),
		"idempotencyKey": order.IdempotencyKey,
		"createdAt":      big.NewInt(order.CreatedAt.UnixNano()),
	}

	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: "Order",
		Domain:      domainSep,
		Message:     message,
	}

	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("计算域分隔符失败: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("计算消息哈希失败: %w", err)
	}

	// 最终哈希：\x19\x01 + domainSeparator + messageHash
	rawData := []byte("\x19\x01")
	rawData = append(rawData, domainHash...)
	rawData = append(rawData, messageHash...)
	hash := crypto.Keccak256Hash(rawData)

	// crypto.Sign 返回 65 字节：r(32) + s(32) + v(1)
	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	return signature, nil
}
