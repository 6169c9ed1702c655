package kafka

import (
	"IMStore/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// 下游主题：搜索索引、统计/审计管道都从这里消费。
const (
	TopicMessageEvents = "im_message_events"
)

// SendKeyed 以 key 发送（HashPartitioner 下同 key 保序）。
func SendKeyed(topic, key string, payload []byte) error {
	if Producer == nil {
		return ErrProducerNotReady
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := Producer.SendMessage(msg)
	if err != nil {
		logger.Error("kafka send failed",
			zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return err
	}
	logger.Debug("kafka send ok",
		zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}
