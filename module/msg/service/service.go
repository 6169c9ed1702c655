package service

import (
	"IMStore/logger"
	"IMStore/module/msg/idem"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/seq"
	"IMStore/module/msg/store"
	"IMStore/module/msg/timeline"
	"IMStore/tools/errs"
	"IMStore/tools/ids"
	"context"
	"time"

	"go.uber.org/zap"
)

// SendRequest 一次消息提交。ClientMsgID 可空：空则不做幂等去重，
// 每次提交都是新消息。
type SendRequest struct {
	ConversationID string
	FromUserID     int64
	MessageType    int32
	Content        map[string]any
	ClientMsgID    string
	ReplyToMsgID   string
	Mentions       []int64
	Extra          map[string]any
	Recipients     []int64
}

// SendResult Duplicate=true 表示幂等命中，(MessageID, Seq) 是首次写入的结果
type SendResult struct {
	MessageID string
	Seq       int64
	Duplicate bool
}

// Auditor 敏感操作（撤回/删除/冻结）落审计流水；nil 则不审计
type Auditor interface {
	RecordAudit(ctx context.Context, a *chatmodel.AccessAudit) error
}

// Service 消息写路径编排：发号 → 落库 → 扇出 → 广播。
// 落库成功即算成功；扇出与事件是异步尽力投递，失败各走补偿。
type Service struct {
	seq     *seq.Sequencer
	guard   *idem.Guard
	store   *store.Store
	fanout  *timeline.Writer
	pub     Publisher
	auditor Auditor
}

type Option func(*Service)

func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }

func New(sq *seq.Sequencer, g *idem.Guard, st *store.Store, fo *timeline.Writer, pub Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = NoopPublisher{}
	}
	s := &Service{seq: sq, guard: g, store: st, fanout: fo, pub: pub}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send 提交一条消息。同一 ClientMsgID 在幂等窗口内重复提交，
// 返回首次写入的 (message_id, seq)，不产生新行。
func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}

	reserved := false
	if req.ClientMsgID != "" {
		res, err := s.guard.TryAcquire(ctx, &chatmodel.IdempotencyRecord{
			ClientMsgID:    req.ClientMsgID,
			ConversationID: req.ConversationID,
			FromUserID:     req.FromUserID,
		})
		if err != nil {
			return nil, err
		}
		if res.Outcome == idem.Hit {
			return &SendResult{
				MessageID: res.Existing.MessageID,
				Seq:       res.Existing.Seq,
				Duplicate: true,
			}, nil
		}
		reserved = true
	}

	seqNo, err := s.seq.NextSeq(ctx, req.ConversationID)
	if err != nil {
		s.release(ctx, reserved, req.ClientMsgID)
		return nil, err
	}

	now := time.Now()
	m := &chatmodel.MessageModel{
		MessageID:      ids.GenerateMsgID(),
		ConversationID: req.ConversationID,
		Seq:            seqNo,
		FromUserID:     req.FromUserID,
		MessageType:    req.MessageType,
		Content:        req.Content,
		Status:         chatmodel.StatusSent,
		ClientMsgID:    req.ClientMsgID,
		ReplyToMsgID:   req.ReplyToMsgID,
		Mentions:       req.Mentions,
		Extra:          req.Extra,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Append(ctx, m); err != nil {
		// 号已消耗，作废；重试方拿新号重来
		logger.Error("append failed, seq discarded",
			zap.String("conversationID", req.ConversationID),
			zap.Int64("seq", seqNo), zap.Error(err))
		s.release(ctx, reserved, req.ClientMsgID)
		return nil, err
	}

	if reserved {
		// 提交失败不回滚消息：行已持久化，窗口过期前重复提交会
		// 自旋等到超时后放行为新消息，属可接受的降级
		if err := s.guard.Commit(ctx, req.ClientMsgID, m.MessageID, m.Seq); err != nil {
			logger.Warn("idempotency commit failed",
				zap.String("clientMsgID", req.ClientMsgID), zap.Error(err))
		}
	}

	s.fanout.FanOut(m, req.Recipients)
	s.publish(&chatmodel.MessageEvent{
		Type:           chatmodel.EventMessageAppended,
		MessageID:      m.MessageID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		FromUserID:     m.FromUserID,
		MessageType:    m.MessageType,
		Status:         m.Status,
		Timestamp:      now.UnixMilli(),
	})

	return &SendResult{MessageID: m.MessageID, Seq: m.Seq}, nil
}

// Recall 撤回：主存置终态并清内容，再异步补写各收件人投影。
func (s *Service) Recall(ctx context.Context, operatorID int64, conversationID, messageID string, recipients []int64) error {
	if err := s.setStatus(ctx, conversationID, messageID, recipients, chatmodel.StatusRecalled); err != nil {
		return err
	}
	s.audit(ctx, operatorID, "recall", messageID)
	return nil
}

// Delete 逻辑删除，行保留（审计需要）
func (s *Service) Delete(ctx context.Context, operatorID int64, conversationID, messageID string, recipients []int64) error {
	if err := s.setStatus(ctx, conversationID, messageID, recipients, chatmodel.StatusDeleted); err != nil {
		return err
	}
	s.audit(ctx, operatorID, "delete", messageID)
	return nil
}

func (s *Service) MarkDelivered(ctx context.Context, conversationID, messageID string, recipients []int64) error {
	return s.setStatus(ctx, conversationID, messageID, recipients, chatmodel.StatusDelivered)
}

func (s *Service) MarkRead(ctx context.Context, conversationID, messageID string, recipients []int64) error {
	return s.setStatus(ctx, conversationID, messageID, recipients, chatmodel.StatusRead)
}

func (s *Service) setStatus(ctx context.Context, conversationID, messageID string, recipients []int64, to int32) error {
	if err := s.store.UpdateStatus(ctx, conversationID, messageID, to); err != nil {
		return err
	}
	s.fanout.PropagateStatus(messageID, recipients, to)
	s.publish(&chatmodel.MessageEvent{
		Type:           chatmodel.EventStatusChanged,
		MessageID:      messageID,
		ConversationID: conversationID,
		Status:         to,
		Timestamp:      time.Now().UnixMilli(),
	})
	return nil
}

// History [fromSeq, toSeq] 升序拉取会话历史
func (s *Service) History(ctx context.Context, conversationID string, fromSeq, toSeq, limit int64) ([]*chatmodel.MessageModel, error) {
	return s.store.ListBySeqRange(ctx, conversationID, fromSeq, toSeq, limit)
}

func (s *Service) Get(ctx context.Context, messageID string) (*chatmodel.MessageModel, error) {
	return s.store.GetByID(ctx, messageID)
}

// Freeze 管理冻结会话：冻结期间一切新消息被拒
func (s *Service) Freeze(ctx context.Context, conversationID string) error {
	return s.seq.Freeze(ctx, conversationID)
}

func (s *Service) Unfreeze(ctx context.Context, conversationID string) error {
	return s.seq.Unfreeze(ctx, conversationID)
}

func (s *Service) audit(ctx context.Context, operatorID int64, action, messageID string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.RecordAudit(ctx, &chatmodel.AccessAudit{
		OperatorID: operatorID,
		Action:     action,
		Resource:   messageID,
	}); err != nil {
		logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) release(ctx context.Context, reserved bool, clientMsgID string) {
	if !reserved {
		return
	}
	if err := s.guard.Release(ctx, clientMsgID); err != nil {
		logger.Warn("idempotency release failed",
			zap.String("clientMsgID", clientMsgID), zap.Error(err))
	}
}

func (s *Service) publish(ev *chatmodel.MessageEvent) {
	if err := s.pub.Publish(ev); err != nil {
		logger.Warn("event publish failed",
			zap.String("type", ev.Type), zap.String("messageID", ev.MessageID), zap.Error(err))
	}
}

func validateSend(req *SendRequest) error {
	if req == nil || req.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("empty conversation id")
	}
	if req.FromUserID <= 0 {
		return errs.ErrValidation.WrapMsg("invalid sender", "fromUserID", req.FromUserID)
	}
	if !chatmodel.ValidMessageType(req.MessageType) {
		return errs.ErrValidation.WrapMsg("invalid message type", "messageType", req.MessageType)
	}
	if len(req.Recipients) == 0 {
		return errs.ErrValidation.WrapMsg("no recipients")
	}
	return nil
}
