package model

// 下游事件类型（搜索索引/统计管道消费）
const (
	EventMessageAppended = "message.appended"
	EventStatusChanged   = "message.status_changed"
)

// MessageEvent 写路径对下游广播的轻量事件；key=conversation_id 保证
// 同会话事件在消费侧有序。
type MessageEvent struct {
	Type           string `json:"type"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Seq            int64  `json:"seq"`
	FromUserID     int64  `json:"fromUserId"`
	MessageType    int32  `json:"messageType,omitempty"`
	Status         int32  `json:"status"`
	Timestamp      int64  `json:"timestamp"` // Unix ms
}
