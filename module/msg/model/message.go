package model

import "time"

// ===== 常量 =====
//
// 消息状态机：0→1→2→3 只进不退；4/5 任意状态可达，且为吸收态（到达后不再变更）。
const (
	StatusSending   int32 = 0 // 发送中
	StatusSent      int32 = 1 // 已发送
	StatusDelivered int32 = 2 // 已送达
	StatusRead      int32 = 3 // 已读
	StatusRecalled  int32 = 4 // 撤回（终态）
	StatusDeleted   int32 = 5 // 删除（终态）
)

// 消息类型：1-文本 2-图片 3-语音 4-视频 5-文件 6-位置 7-名片 8-表情 9-引用 10-撤回 11-系统通知
// 12~20 预留给业务扩展。
const (
	MsgTypeText     int32 = 1
	MsgTypeImage    int32 = 2
	MsgTypeVoice    int32 = 3
	MsgTypeVideo    int32 = 4
	MsgTypeFile     int32 = 5
	MsgTypeLocation int32 = 6
	MsgTypeCard     int32 = 7
	MsgTypeEmoji    int32 = 8
	MsgTypeQuote    int32 = 9
	MsgTypeRevoke   int32 = 10
	MsgTypeSystem   int32 = 11

	MsgTypeMin int32 = 1
	MsgTypeMax int32 = 20
)

// ===== 存储结构 =====

// EditRecord 编辑历史（append-only，按时间正序追加）
type EditRecord struct {
	Content  map[string]any `bson:"content"`
	EditedAt time.Time      `bson:"edited_at"`
	EditorID int64          `bson:"editor_id"`
}

// MessageModel 消息主体，落在 message_xx 哈希分片。
// (conversation_id, seq) 在分片内唯一且稠密递增；message_id 全局唯一（雪花）。
type MessageModel struct {
	MessageID      string `bson:"message_id"`
	ConversationID string `bson:"conversation_id"`
	Seq            int64  `bson:"seq"`
	FromUserID     int64  `bson:"from_user_id"`
	MessageType    int32  `bson:"message_type"`

	Content map[string]any `bson:"content"` // 结构化内容；撤回/删除后置空
	Status  int32          `bson:"status"`

	ClientMsgID  string       `bson:"client_msg_id,omitempty"` // 客户端幂等token
	ReplyToMsgID string       `bson:"reply_to_msg_id,omitempty"`
	Mentions     []int64      `bson:"mentions,omitempty"`
	EditHistory  []EditRecord `bson:"edit_history,omitempty"`
	Extra        map[string]any `bson:"extra,omitempty"`

	CreatedAt time.Time `bson:"created_at"` // 不可变
	UpdatedAt time.Time `bson:"updated_at"`
}

// 字段名常量（查询/更新里用，避免手写字符串漂移）
const (
	MsgFieldMessageID      = "message_id"
	MsgFieldConversationID = "conversation_id"
	MsgFieldSeq            = "seq"
	MsgFieldFromUserID     = "from_user_id"
	MsgFieldMessageType    = "message_type"
	MsgFieldContent        = "content"
	MsgFieldStatus         = "status"
	MsgFieldClientMsgID    = "client_msg_id"
	MsgFieldCreatedAt      = "created_at"
	MsgFieldUpdatedAt      = "updated_at"
)

// IsTerminalStatus 撤回/删除为吸收态
func IsTerminalStatus(s int32) bool {
	return s == StatusRecalled || s == StatusDeleted
}

// CanTransition 状态只进不退；终态可从任意非终态进入
func CanTransition(from, to int32) bool {
	if IsTerminalStatus(from) {
		return false
	}
	if IsTerminalStatus(to) {
		return true
	}
	return to > from && to <= StatusRead
}

// ForwardStatuses 返回允许迁移到 to 的全部前置状态（CAS 过滤用）
func ForwardStatuses(to int32) []int32 {
	out := make([]int32, 0, 4)
	for s := StatusSending; s <= StatusDeleted; s++ {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// ValidMessageType 类型枚举范围校验
func ValidMessageType(t int32) bool {
	return t >= MsgTypeMin && t <= MsgTypeMax
}
