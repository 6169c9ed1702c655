package service

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/service/kafka"
	"encoding/json"
	"sync"
)

// Publisher 写路径对下游的事件出口。发布失败不回滚消息——主存为准，
// 下游靠补偿对账追平。
type Publisher interface {
	Publish(ev *chatmodel.MessageEvent) error
}

// KafkaPublisher key=conversation_id，同会话事件在消费侧保序
type KafkaPublisher struct {
	Topic string
}

func NewKafkaPublisher() *KafkaPublisher {
	return &KafkaPublisher{Topic: kafka.TopicMessageEvents}
}

func (p *KafkaPublisher) Publish(ev *chatmodel.MessageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return kafka.SendKeyed(p.Topic, ev.ConversationID, data)
}

// MemPublisher 测试用：收集事件
type MemPublisher struct {
	mu     sync.Mutex
	events []*chatmodel.MessageEvent
}

func NewMemPublisher() *MemPublisher { return &MemPublisher{} }

func (p *MemPublisher) Publish(ev *chatmodel.MessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *ev
	p.events = append(p.events, &cp)
	return nil
}

func (p *MemPublisher) Events() []*chatmodel.MessageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*chatmodel.MessageEvent, len(p.events))
	copy(out, p.events)
	return out
}

// NoopPublisher 下游管道未接入时的占位
type NoopPublisher struct{}

func (NoopPublisher) Publish(*chatmodel.MessageEvent) error { return nil }
