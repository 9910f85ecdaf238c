package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/betbot/edgebot/internal/events"
	"github.com/betbot/edgebot/pkg/logger"
)

const queueSize = 128

// Telegram 通知器（实现 ports.Notifier）。
//
// 火忘式：Notify 只入队，发送由独立协程完成；队列满时丢弃并记日志。
// 通知失败绝不传播进决策/执行路径。
type Telegram struct {
	client *resty.Client
	chatID string
	queue  chan string
}

// NewTelegram 创建 Telegram 通知器；token 为空返回 nil（调用方按 nil-safe 处理）
func NewTelegram(token, chatID string) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		client: resty.New().
			SetBaseURL("https://api.telegram.org/bot" + token).
			SetTimeout(15 * time.Second).
			SetRetryCount(2),
		chatID: chatID,
		queue:  make(chan string, queueSize),
	}
}

// Start 启动发送协程（阻塞直至 ctx 取消）
func (t *Telegram) Start(ctx context.Context) {
	if t == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			t.send(ctx, text)
		}
	}
}

// Notify 入队一条通知（非阻塞，队列满时丢弃）
func (t *Telegram) Notify(_ context.Context, ev events.Event) {
	if t == nil || ev == nil {
		return
	}
	select {
	case t.queue <- ev.Describe():
	default:
		logger.Warnf("[notify] 通知队列已满，丢弃: %s", ev.Describe())
	}
}

func (t *Telegram) send(ctx context.Context, text string) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		}).
		Post("/sendMessage")
	if err != nil {
		logger.Warnf("[notify] 发送失败: %v", err)
		return
	}
	if !resp.IsSuccess() {
		logger.Warnf("[notify] 发送失败: http %d: %s", resp.StatusCode(), resp.String())
	}
}

// String 便于日志输出
func (t *Telegram) String() string {
	if t == nil {
		return "telegram(disabled)"
	}
	return fmt.Sprintf("telegram(chat=%s)", t.chatID)
}
