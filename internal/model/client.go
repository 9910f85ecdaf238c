package model

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// Client 外部概率模型客户端（实现 ports.ProbabilityModel）。
// 估计服务是部署期关注点：未配置 URL 时返回 ok=false，
// 扫描路径静默停用，跟单路径不受影响。
type Client struct {
	client *resty.Client
}

// New 创建模型客户端；url 为空返回可用但永不给出估计的客户端
func New(url string) *Client {
	if url == "" {
		return &Client{}
	}
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(url, "/")).
			SetTimeout(15 * time.Second).
			SetRetryCount(2),
	}
}

type estimatePayload struct {
	Probability string `json:"probability"`
	Confidence  string `json:"confidence"`
	Known       bool   `json:"known"` // false：模型对该市场无估计
}

// Estimate 查询模型对市场的概率估计
func (c *Client) Estimate(ctx context.Context, market *domain.Market) (decimal.Decimal, decimal.Decimal, bool, error) {
	if c == nil || c.client == nil || market == nil {
		return decimal.Zero, decimal.Zero, false, nil
	}

	var payload estimatePayload
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/estimate/" + market.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, errors.Wrap(err, "query model")
	}
	if resp.StatusCode() == 404 {
		return decimal.Zero, decimal.Zero, false, nil
	}
	if !resp.IsSuccess() {
		return decimal.Zero, decimal.Zero, false, errors.Errorf("query model: http %d", resp.StatusCode())
	}
	if !payload.Known {
		return decimal.Zero, decimal.Zero, false, nil
	}

	prob, err := decimal.NewFromString(payload.Probability)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, errors.Wrap(err, "parse probability")
	}
	confidence, err := decimal.NewFromString(payload.Confidence)
	if err != nil {
		return decimal.Zero, decimal.Zero, false, errors.Wrap(err, "parse confidence")
	}
	return prob, confidence, true, nil
}
