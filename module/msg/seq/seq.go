package seq

import (
	"IMStore/tools/errs"
	"context"
)

// DB 抽象：生产实现 Mongo（db.go）；内存实现（db_mem.go）供测试
type DB interface {
	// IncrSeq 原子 +1 并返回新值；记录不存在时在同一原子操作内创建
	// （并发下恰好一个创建者胜出）。会话冻结时返回 ConversationNotWritable。
	IncrSeq(ctx context.Context, conversationID string) (int64, error)
	Current(ctx context.Context, conversationID string) (int64, error)
	SetFrozen(ctx context.Context, conversationID string, frozen bool) error
}

// Sequencer 会话内发号器。号一经发出即被消耗：下游写失败时调用方必须
// 重新取号，严禁拿旧号重试（空洞可接受，撞号不可接受）。
type Sequencer struct {
	db DB
}

func New(db DB) *Sequencer { return &Sequencer{db: db} }

// NextSeq 取下一个会话内序号，严格递增、并发安全。
func (s *Sequencer) NextSeq(ctx context.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return 0, errs.ErrValidation.WrapMsg("empty conversation id")
	}
	return s.db.IncrSeq(ctx, conversationID)
}

// Current 只读水位（监控/对账用，不参与发号）
func (s *Sequencer) Current(ctx context.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return 0, errs.ErrValidation.WrapMsg("empty conversation id")
	}
	return s.db.Current(ctx, conversationID)
}

// Freeze 管理冻结：冻结后 NextSeq 一律拒绝
func (s *Sequencer) Freeze(ctx context.Context, conversationID string) error {
	return s.db.SetFrozen(ctx, conversationID, true)
}

func (s *Sequencer) Unfreeze(ctx context.Context, conversationID string) error {
	return s.db.SetFrozen(ctx, conversationID, false)
}
