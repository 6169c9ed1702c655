package store

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"IMStore/tools/errs"
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DB 抽象：生产实现 Mongo（db.go）；内存实现（db_mem.go）供测试
type DB interface {
	// Insert 纯插入，永不覆盖；(conversation_id, seq) 撞唯一键时错误可被
	// IsUniqueSeqErr 识别
	Insert(ctx context.Context, partition string, m *chatmodel.MessageModel) error
	IsUniqueSeqErr(err error) bool
	IsTransientErr(err error) bool

	FindBySeqRange(ctx context.Context, partition, conversationID string, fromSeq, toSeq, limit int64) ([]*chatmodel.MessageModel, error)
	// FindByID 不存在时返回 (nil, nil)
	FindByID(ctx context.Context, partition, messageID string) (*chatmodel.MessageModel, error)
	// UpdateStatusCAS 仅当当前状态在 allowedFrom 内时更新；nullContent 时同时置空内容
	UpdateStatusCAS(ctx context.Context, partition, messageID string, allowedFrom []int32, to int32, nullContent bool) (bool, error)
}

// Store 消息主存。分区由 Router 在写入时一次性确定，之后永不迁移。
type Store struct {
	db            DB
	router        *router.Router
	maxRetries    uint64
	retryInterval time.Duration
}

type Option func(*Store)

func WithMaxRetries(n uint64) Option { return func(s *Store) { s.maxRetries = n } }
func WithRetryInterval(d time.Duration) Option { return func(s *Store) { s.retryInterval = d } }

func New(db DB, r *router.Router, opts ...Option) *Store {
	s := &Store{
		db:            db,
		router:        r,
		maxRetries:    4,
		retryInterval: 50 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append 追加消息。seq 必须来自发号器；撞号说明发号器被绕过了，按请求级
// 致命处理，绝不重试也绝不覆盖。
func (s *Store) Append(ctx context.Context, m *chatmodel.MessageModel) error {
	if m == nil {
		return errs.ErrValidation.WrapMsg("nil message")
	}
	if m.MessageID == "" || m.ConversationID == "" || m.Seq <= 0 {
		return errs.ErrValidation.WrapMsg("incomplete message", "messageID", m.MessageID)
	}
	partition := s.router.MessagePartition(m.ConversationID)

	op := func() error {
		err := s.db.Insert(ctx, partition, m)
		if err == nil {
			return nil
		}
		if s.db.IsUniqueSeqErr(err) {
			return backoff.Permanent(errs.ErrSequenceConflict.WrapMsg(
				"duplicate (conversation_id, seq)",
				"conversationID", m.ConversationID, "seq", m.Seq))
		}
		if s.db.IsTransientErr(err) {
			return err // 退避后重试
		}
		return backoff.Permanent(errs.ErrTransientStorage.WrapMsg(err.Error(), "partition", partition))
	}

	err := backoff.Retry(op, s.newBackOff(ctx))
	if err == nil {
		return nil
	}
	if errs.IsCode(err, errs.SequenceConflict) {
		return err
	}
	return errs.ErrUnavailable.WrapMsg(err.Error(), "partition", partition, "op", "Append")
}

// UpdateStatus 前向状态迁移；撤回/删除额外置空内容但保留行（审计需要）。
func (s *Store) UpdateStatus(ctx context.Context, conversationID, messageID string, to int32) error {
	if conversationID == "" || messageID == "" {
		return errs.ErrValidation.WrapMsg("empty key", "messageID", messageID)
	}
	allowed := chatmodel.ForwardStatuses(to)
	if len(allowed) == 0 {
		return errs.ErrStatusTransition.WrapMsg("no valid source state", "to", to)
	}
	partition := s.router.MessagePartition(conversationID)
	nullContent := chatmodel.IsTerminalStatus(to)

	ok, err := s.db.UpdateStatusCAS(ctx, partition, messageID, allowed, to, nullContent)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg(err.Error(), "op", "UpdateStatus")
	}
	if ok {
		return nil
	}
	// CAS 没命中：区分“不存在”与“状态不允许”
	cur, err := s.db.FindByID(ctx, partition, messageID)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg(err.Error(), "op", "UpdateStatus.FindByID")
	}
	if cur == nil {
		return errs.ErrNotFound.WrapMsg("message not found", "messageID", messageID)
	}
	return errs.ErrStatusTransition.WrapMsg("transition denied",
		"from", cur.Status, "to", to, "messageID", messageID)
}

// ListBySeqRange [fromSeq, toSeq] 升序拉取
func (s *Store) ListBySeqRange(ctx context.Context, conversationID string, fromSeq, toSeq, limit int64) ([]*chatmodel.MessageModel, error) {
	if conversationID == "" {
		return nil, errs.ErrValidation.WrapMsg("empty conversation id")
	}
	if fromSeq <= 0 || toSeq < fromSeq {
		return nil, errs.ErrValidation.WrapMsg("bad seq range", "from", fromSeq, "to", toSeq)
	}
	partition := s.router.MessagePartition(conversationID)
	out, err := s.db.FindBySeqRange(ctx, partition, conversationID, fromSeq, toSeq, limit)
	if err != nil {
		return nil, errs.ErrUnavailable.WrapMsg(err.Error(), "op", "ListBySeqRange")
	}
	return out, nil
}

// GetByID message_id 点查。没有全局二级索引，按分区扇出逐个点查，
// 命中即止——冷路径（按ID撤回/审计），O(分区数) 次索引点查可接受。
func (s *Store) GetByID(ctx context.Context, messageID string) (*chatmodel.MessageModel, error) {
	if messageID == "" {
		return nil, errs.ErrValidation.WrapMsg("empty message id")
	}
	for i := 0; i < s.router.PartitionCount(); i++ {
		m, err := s.db.FindByID(ctx, s.router.MessagePartitionAt(i), messageID)
		if err != nil {
			return nil, errs.ErrUnavailable.WrapMsg(err.Error(), "op", "GetByID")
		}
		if m != nil {
			return m, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("message not found", "messageID", messageID)
}

func (s *Store) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInterval
	eb.MaxElapsedTime = 0 // 次数上限由 WithMaxRetries 控制
	return backoff.WithContext(backoff.WithMaxRetries(eb, s.maxRetries), ctx)
}
