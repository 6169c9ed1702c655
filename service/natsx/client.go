package natsx

import (
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Client 薄封装：失败补偿队列用 Core 模式即可，重试语义由发布方负责
type Client struct {
	nc *nats.Conn
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

// Publish 发送一条带 Nats-Msg-Id 的消息；消费侧配合幂等中间件去重
func (c *Client) Publish(subject, msgID string, data []byte) error {
	m := nats.NewMsg(subject)
	m.Data = data
	if msgID != "" {
		m.Header.Set("Nats-Msg-Id", msgID)
	}
	return c.nc.PublishMsg(m)
}

// Handler 消费回调
type Handler func(subject string, header map[string]string, data []byte) error

// Middleware 消费中间件
type Middleware func(Handler) Handler

// SubscribeQueue 队列组订阅（同组内负载均衡）
func (c *Client) SubscribeQueue(subject, queue string, h Handler, mws ...Middleware) (*nats.Subscription, error) {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return c.nc.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		hdr := make(map[string]string, len(m.Header))
		for k := range m.Header {
			hdr[k] = m.Header.Get(k)
		}
		_ = h(m.Subject, hdr, m.Data)
	})
}
