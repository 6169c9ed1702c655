package model

import "time"

const CollConversationSequence = "conversation_sequence"

// ConversationSequence 每个会话一条，current_seq 为最后一次发出的序号。
// 只允许发号器通过原子 $inc 修改 current_seq，任何组件不得直写。
type ConversationSequence struct {
	ConversationID string    `bson:"conversation_id"` // 唯一键
	CurrentSeq     int64     `bson:"current_seq"`
	MessageCount   int64     `bson:"message_count"`
	LastMessageAt  time.Time `bson:"last_message_at"`
	Frozen         bool      `bson:"frozen,omitempty"` // 管理冻结：冻结期间拒绝发号
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

const (
	SeqFieldConversationID = "conversation_id"
	SeqFieldCurrentSeq     = "current_seq"
	SeqFieldMessageCount   = "message_count"
	SeqFieldLastMessageAt  = "last_message_at"
	SeqFieldFrozen         = "frozen"
	SeqFieldCreatedAt      = "created_at"
	SeqFieldUpdatedAt      = "updated_at"
)
