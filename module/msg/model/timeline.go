package model

import "time"

// TimelineEntry 收件人侧投影，落在 timeline_xx（按 user_id 哈希）。
// (user_id, message_id) 唯一；与消息主体独立存储，主体撤回/删除时
// 只同步状态，不级联删除。
type TimelineEntry struct {
	UserID         int64          `bson:"user_id"`
	ConversationID string         `bson:"conversation_id"`
	MessageID      string         `bson:"message_id"`
	Seq            int64          `bson:"seq"`
	MessageType    int32          `bson:"message_type"`
	FromUserID     int64          `bson:"from_user_id"`
	Content        map[string]any `bson:"content,omitempty"` // 内容摘要，非全文
	Status         int32          `bson:"status"`
	Timestamp      time.Time      `bson:"timestamp"`
	IsRead         bool           `bson:"is_read"`
	IsPinned       bool           `bson:"is_pinned"`
	Extra          map[string]any `bson:"extra,omitempty"`
}

const (
	TLFieldUserID         = "user_id"
	TLFieldConversationID = "conversation_id"
	TLFieldMessageID      = "message_id"
	TLFieldSeq            = "seq"
	TLFieldStatus         = "status"
	TLFieldTimestamp      = "timestamp"
	TLFieldIsRead         = "is_read"
)

const summaryTextLimit = 120

// TimelineFrom 从消息主体构造投影；文本只保留前 summaryTextLimit 字符。
func TimelineFrom(m *MessageModel, userID int64) *TimelineEntry {
	summary := make(map[string]any, 1)
	if m.Content != nil {
		if txt, ok := m.Content["text"].(string); ok {
			r := []rune(txt)
			if len(r) > summaryTextLimit {
				txt = string(r[:summaryTextLimit])
			}
			summary["text"] = txt
		}
	}
	return &TimelineEntry{
		UserID:         userID,
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		Seq:            m.Seq,
		MessageType:    m.MessageType,
		FromUserID:     m.FromUserID,
		Content:        summary,
		Status:         m.Status,
		Timestamp:      m.CreatedAt,
	}
}
