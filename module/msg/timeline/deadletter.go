package timeline

import (
	"IMStore/logger"
	"IMStore/service/natsx"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// SubjectFanoutDead 重试耗尽任务的补偿主题
const SubjectFanoutDead = "im.timeline.fanout.dead"

// NatsDeadLetter 把放弃的扇出任务转投 NATS，由离线补偿进程消费重放。
// 返回值可直接作 WithDeadLetter 的入参。
func NatsDeadLetter(c *natsx.Client) func(Task) {
	return func(t Task) {
		data, err := json.Marshal(&t)
		if err != nil {
			logger.Error("dead letter marshal failed",
				zap.String("messageID", t.MessageID), zap.Error(err))
			return
		}
		// msgID 去重键：同一 (收件人, 消息, 类型) 只补偿一次
		msgID := fmt.Sprintf("%d|%s|%s", t.UserID, t.MessageID, t.Kind)
		if err := c.Publish(SubjectFanoutDead, msgID, data); err != nil {
			logger.Error("dead letter publish failed",
				zap.String("messageID", t.MessageID), zap.Int64("userID", t.UserID), zap.Error(err))
		}
	}
}
