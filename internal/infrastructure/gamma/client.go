package gamma

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/pkg/logger"
)

// Client 市场数据客户端（实现 ports.MarketDataProvider）
type Client struct {
	client *resty.Client
}

// New 创建市场数据客户端
func New(baseURL string) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})

	return &Client{client: client}
}

// marketPayload 市场数据接口的返回格式
type marketPayload struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Price     string `json:"price"`
	Liquidity string `json:"liquidity"`
	Volume    string `json:"volume"`
	EndDate   string `json:"end_date"` // RFC3339，可为空（关闭时间未知）
}

// GetActiveMarkets 拉取当前活跃市场列表
func (c *Client) GetActiveMarkets(ctx context.Context) ([]*domain.Market, error) {
	var payload []marketPayload
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("active", "true").
		SetQueryParam("closed", "false").
		SetResult(&payload).
		Get("/markets")
	if err != nil {
		return nil, errors.Wrap(err, "fetch active markets")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("fetch active markets: http %d: %s", resp.StatusCode(), resp.String())
	}

	markets := make([]*domain.Market, 0, len(payload))
	for _, p := range payload {
		m, err := p.toDomain()
		if err != nil {
			logger.Warnf("[gamma] 跳过无法解析的市场: id=%s err=%v", p.ID, err)
			continue
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// GetMarket 按 ID 获取单个市场快照（不存在时返回 nil, nil）
func (c *Client) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	var payload marketPayload
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(fmt.Sprintf("/markets/%s", id))
	if err != nil {
		return nil, errors.Wrapf(err, "fetch market %s", id)
	}
	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("fetch market %s: http %d", id, resp.StatusCode())
	}
	return payload.toDomain()
}

func (p marketPayload) toDomain() (*domain.Market, error) {
	if p.ID == "" {
		return nil, errors.New("market id is empty")
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, errors.Wrap(err, "parse price")
	}

	m := &domain.Market{
		ID:       p.ID,
		Question: p.Question,
		Price:    price,
	}
	if p.Liquidity != "" {
		if m.Liquidity, err = decimal.NewFromString(p.Liquidity); err != nil {
			return nil, errors.Wrap(err, "parse liquidity")
		}
	}
	if p.Volume != "" {
		if m.Volume, err = decimal.NewFromString(p.Volume); err != nil {
			return nil, errors.Wrap(err, "parse volume")
		}
	}
	if p.EndDate != "" {
		closesAt, err := time.Parse(time.RFC3339, p.EndDate)
		if err != nil {
			return nil, errors.Wrap(err, "parse end_date")
		}
		m.ClosesAt = closesAt
	}
	return m, nil
}
