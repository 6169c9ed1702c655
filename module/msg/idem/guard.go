package idem

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/tools/errs"
	"context"
	"time"
)

// DB 抽象：Mongo 实现见 db.go，内存实现见 db_mem.go
type DB interface {
	// InsertPending 以 client_msg_id 唯一键原子占位
	InsertPending(ctx context.Context, rec *chatmodel.IdempotencyRecord) error
	IsDuplicateErr(err error) bool
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, clientMsgID string) (*chatmodel.IdempotencyRecord, error)
	// Commit 占位升级为已提交映射，写入 message_id/seq
	Commit(ctx context.Context, clientMsgID, messageID string, seq int64) error
	Delete(ctx context.Context, clientMsgID string) error
}

type Outcome int

const (
	Reserved Outcome = iota // 占位成功，调用方继续走写路径
	Hit                     // 幂等命中，直接返回原 (message_id, seq)
)

type Result struct {
	Outcome  Outcome
	Existing *chatmodel.IdempotencyRecord // Hit 时有值
}

// Guard 幂等卫兵。重复提交不是错误：命中即返回首次写入的结果。
// 占位→写消息→提交 两阶段；并发重复提交时输家自旋等赢家提交。
type Guard struct {
	db      DB
	cache   Cache // 可为 nil：直读 DB
	window  time.Duration
	poll    time.Duration
	waitMax time.Duration
}

type Option func(*Guard)

func WithCache(c Cache) Option { return func(g *Guard) { g.cache = c } }
func WithWindow(d time.Duration) Option { return func(g *Guard) { g.window = d } }
func WithPollInterval(d time.Duration) Option { return func(g *Guard) { g.poll = d } }
func WithWaitMax(d time.Duration) Option { return func(g *Guard) { g.waitMax = d } }

func New(db DB, opts ...Option) *Guard {
	g := &Guard{
		db:      db,
		window:  7 * 24 * time.Hour,
		poll:    20 * time.Millisecond,
		waitMax: 3 * time.Second,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) Window() time.Duration { return g.window }

// TryAcquire 占位或命中。client_msg_id 为空属调用方校验遗漏，这里直接拒绝。
func (g *Guard) TryAcquire(ctx context.Context, rec *chatmodel.IdempotencyRecord) (*Result, error) {
	if rec == nil || rec.ClientMsgID == "" {
		return nil, errs.ErrValidation.WrapMsg("empty client msg id")
	}

	if g.cache != nil {
		if hit, _ := g.cache.Get(ctx, rec.ClientMsgID); hit != nil {
			return &Result{Outcome: Hit, Existing: hit}, nil
		}
	}

	deadline := time.Now().Add(g.waitMax)
	for {
		pending := *rec
		pending.Status = chatmodel.IdemStatusPending
		pending.MessageID = ""
		pending.Seq = 0
		pending.CreatedAt = time.Now()

		err := g.db.InsertPending(ctx, &pending)
		if err == nil {
			return &Result{Outcome: Reserved}, nil
		}
		if !g.db.IsDuplicateErr(err) {
			return nil, errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "InsertPending")
		}

		// 撞唯一键：别人先占了。已提交 → 命中；还在 PENDING → 等赢家提交
		existing, gerr := g.db.Get(ctx, rec.ClientMsgID)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil && existing.Status == chatmodel.IdemStatusCommitted {
			g.cacheSet(ctx, existing)
			return &Result{Outcome: Hit, Existing: existing}, nil
		}
		// existing == nil：赢家失败后释放了占位，回头重抢

		if time.Now().After(deadline) {
			return nil, errs.ErrTransientStorage.WrapMsg("pending reservation not committed in time",
				"clientMsgID", rec.ClientMsgID)
		}
		timer := time.NewTimer(g.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.ErrTransientStorage.WrapMsg(ctx.Err().Error())
		case <-timer.C:
		}
	}
}

// Commit 写路径成功后落正式映射；每次成功写恰好调用一次
func (g *Guard) Commit(ctx context.Context, clientMsgID, messageID string, seq int64) error {
	if err := g.db.Commit(ctx, clientMsgID, messageID, seq); err != nil {
		return err
	}
	if g.cache != nil {
		rec, err := g.db.Get(ctx, clientMsgID)
		if err == nil && rec != nil {
			g.cacheSet(ctx, rec)
		}
	}
	return nil
}

// Release 写路径失败时撤掉占位，让重试方重新来过
func (g *Guard) Release(ctx context.Context, clientMsgID string) error {
	return g.db.Delete(ctx, clientMsgID)
}

func (g *Guard) cacheSet(ctx context.Context, rec *chatmodel.IdempotencyRecord) {
	if g.cache != nil {
		_ = g.cache.Set(ctx, rec, g.window)
	}
}
