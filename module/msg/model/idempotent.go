package model

import "time"

const CollMessageIdempotent = "message_idempotent"

// 幂等占位状态：先占位（PENDING）再写消息，写成后提交（COMMITTED）。
const (
	IdemStatusPending   int32 = 0
	IdemStatusCommitted int32 = 1
)

// IdempotencyRecord client_msg_id → (message_id, seq) 映射，写成后不再更新。
// created_at 上挂 TTL 索引（默认7天），过期后同一 client_msg_id 视为新消息——
// 这是既定的幂等窗口取舍，不是缺陷。
type IdempotencyRecord struct {
	ClientMsgID    string    `bson:"client_msg_id"` // 唯一键
	MessageID      string    `bson:"message_id"`
	ConversationID string    `bson:"conversation_id"`
	Seq            int64     `bson:"seq"`
	FromUserID     int64     `bson:"from_user_id"`
	Status         int32     `bson:"status"`
	CreatedAt      time.Time `bson:"created_at"`
}

const (
	IdemFieldClientMsgID    = "client_msg_id"
	IdemFieldMessageID      = "message_id"
	IdemFieldConversationID = "conversation_id"
	IdemFieldSeq            = "seq"
	IdemFieldStatus         = "status"
	IdemFieldCreatedAt      = "created_at"
)
