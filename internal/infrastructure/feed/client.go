package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/pkg/logger"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	readTimeout   = 90 * time.Second
)

// Client 跟单成交流客户端（实现 ports.CopyFeed）。
//
// 连接断开时按指数退避自动重连并重新订阅；重连窗口内的消息
// 可能重复投递，去重由消费方（Copy-Trade Monitor）负责。
type Client struct {
	url     string
	traders []string
}

// New 创建成交流客户端
func New(url string, traders []string) *Client {
	return &Client{url: url, traders: traders}
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Traders []string `json:"traders"`
}

type fillMessage struct {
	TraderID  string `json:"trader_id"`
	TradeID   string `json:"trade_id"`
	MarketID  string `json:"market_id"`
	Direction string `json:"direction"`
	Size      string `json:"size"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // unix 纳秒
}

// Stream 打开成交流；返回的通道在 ctx 取消后关闭
func (c *Client) Stream(ctx context.Context) (<-chan domain.CopiedFill, error) {
	out := make(chan domain.CopiedFill, 64)
	go c.run(ctx, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, out chan<- domain.CopiedFill) {
	defer close(out)

	backoff := reconnectBase
	for ctx.Err() == nil {
		if err := c.consume(ctx, out); err != nil && ctx.Err() == nil {
			logger.Warnf("[feed] 连接中断，%v 后重连: %v", backoff, err)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase
	}
}

// consume 维持单条连接：订阅后持续读消息直至出错或 ctx 取消
func (c *Client) consume(ctx context.Context, out chan<- domain.CopiedFill) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial feed")
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Traders: c.traders}); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	logger.Infof("[feed] 已连接并订阅 %d 个 trader", len(c.traders))

	// ctx 取消时主动关闭连接解除阻塞读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read feed")
		}

		fill, ok := c.decode(data)
		if !ok {
			continue
		}
		select {
		case out <- fill:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) decode(data []byte) (domain.CopiedFill, bool) {
	var msg fillMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debugf("[feed] 跳过无法解析的消息: %v", err)
		return domain.CopiedFill{}, false
	}
	if msg.TradeID == "" || msg.TraderID == "" {
		return domain.CopiedFill{}, false
	}

	size, err := decimal.NewFromString(msg.Size)
	if err != nil {
		logger.Warnf("[feed] 成交份额解析失败: trade=%s err=%v", msg.TradeID, err)
		return domain.CopiedFill{}, false
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		logger.Warnf("[feed] 成交价格解析失败: trade=%s err=%v", msg.TradeID, err)
		return domain.CopiedFill{}, false
	}

	return domain.CopiedFill{
		TraderID:        msg.TraderID,
		ExternalTradeID: msg.TradeID,
		MarketID:        msg.MarketID,
		Direction:       domain.Direction(msg.Direction),
		Size:            size,
		Price:           price,
		Timestamp:       msg.Timestamp,
	}, true
}
