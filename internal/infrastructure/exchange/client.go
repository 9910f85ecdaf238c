package exchange

import (
	"context"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/ports"
)

// Client 交易所执行客户端（实现 ports.Exchange）。
//
// 错误分类驱动执行引擎的重试策略：
//   - 超时 / 连接错误 / 429 / 5xx → TransientError（原幂等键重试）
//   - 其余 4xx → PermanentError（拒单，不重试）
type Client struct {
	client *resty.Client
}

// New 创建交易所客户端
func New(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(30 * time.Second)
	// 重试交给执行引擎：引擎需要在重试间观察退避与预算，
	// 客户端内部不再叠加一层 resty 重试
	return &Client{client: client}
}

type submitPayload struct {
	IdempotencyKey string `json:"idempotency_key"`
	MarketID       string `json:"market_id"`
	Direction      string `json:"direction"`
	Size           string `json:"size"`
	PriceLimit     string `json:"price_limit"`
	Signature      string `json:"signature"`
}

type submitResponse struct {
	Handle string `json:"handle"`
}

// Submit 提交签名订单，返回交易所侧句柄
func (c *Client) Submit(ctx context.Context, order *domain.Order, signature []byte) (string, error) {
	var out submitResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", order.IdempotencyKey).
		SetBody(submitPayload{
			IdempotencyKey: order.IdempotencyKey,
			MarketID:       order.MarketID,
			Direction:      string(order.Direction),
			Size:           order.Size.String(),
			PriceLimit:     order.PriceLimit.String(),
			Signature:      "0x" + hex.EncodeToString(signature),
		}).
		SetResult(&out).
		Post("/orders")
	if err != nil {
		return "", classifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return "", classifyStatus(resp.StatusCode(), resp.String())
	}
	if out.Handle == "" {
		return "", ports.Permanent(errors.New("exchange returned empty handle"))
	}
	return out.Handle, nil
}

type fillPayload struct {
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // unix 纳秒
}

// PollFills 轮询累计成交
func (c *Client) PollFills(ctx context.Context, handle string) ([]domain.Fill, error) {
	var payload []fillPayload
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/orders/" + handle + "/fills")
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if !resp.IsSuccess() {
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}

	fills := make([]domain.Fill, 0, len(payload))
	for _, p := range payload {
		qty, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return nil, ports.Permanent(errors.Wrap(err, "parse fill quantity"))
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, ports.Permanent(errors.Wrap(err, "parse fill price"))
		}
		fills = append(fills, domain.Fill{
			Quantity:  qty,
			Price:     price,
			Timestamp: time.Unix(0, p.Timestamp),
		})
	}
	return fills, nil
}

// Cancel 取消订单
func (c *Client) Cancel(ctx context.Context, handle string) (bool, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete("/orders/" + handle)
	if err != nil {
		return false, classifyTransportError(err)
	}
	if resp.StatusCode() == 404 || resp.StatusCode() == 409 {
		// 订单已不存在或已终态，取消无事可做
		return false, nil
	}
	if !resp.IsSuccess() {
		return false, classifyStatus(resp.StatusCode(), resp.String())
	}
	return true, nil
}

// classifyTransportError 传输层错误一律视为瞬时（网络抖动/超时）
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ports.Transient(errors.Wrap(err, "exchange transport"))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.Transient(errors.Wrap(err, "exchange timeout"))
	}
	return ports.Transient(errors.Wrap(err, "exchange request"))
}

// classifyStatus HTTP 状态码到错误分类的映射
func classifyStatus(code int, body string) error {
	err := errors.Errorf("exchange http %d: %s", code, body)
	if code == 429 || code >= 500 {
		return ports.Transient(err)
	}
	return ports.Permanent(err)
}

