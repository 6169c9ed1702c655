package timeline

import (
	"IMStore/logger"
	"IMStore/service/natsx"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// QueueFanoutReplay 补偿消费队列组；多节点共摊重放
const QueueFanoutReplay = "im-timeline-replay"

// StartDeadLetterReplay 订阅死信主题，把放弃的扇出任务重新排队。
// 消费端挂幂等中间件：同一死信被重复投递只重放一次。
func StartDeadLetterReplay(c *natsx.Client, w *Writer) (*nats.Subscription, error) {
	handler := func(subject string, header map[string]string, data []byte) error {
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			logger.Error("dead letter replay decode failed", zap.Error(err))
			return nil // 坏消息不 nack，丢弃
		}
		t.Attempt = 0 // 重放从头计重试预算
		logger.Infof("replaying fanout task user=%d message=%s kind=%s", t.UserID, t.MessageID, t.Kind)
		w.enqueue(t)
		return nil
	}
	return c.SubscribeQueue(SubjectFanoutDead, QueueFanoutReplay, handler,
		natsx.IdemMiddleware(natsx.NewMemIdem(time.Hour), time.Hour))
}
