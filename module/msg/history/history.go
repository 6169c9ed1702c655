package history

import (
	"IMStore/logger"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"IMStore/tools/errs"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DB 历史流水只需要追加写；分区按月轮转，首写前确保存在。
type DB interface {
	Insert(ctx context.Context, partition string, doc any) error
	EnsurePartition(ctx context.Context, partition string) error
}

// Recorder 时间桶流水写入。分区名由事件时间直接算出，
// 跨月不需要任何协调；ensured 缓存避免每条写都去建表。
type Recorder struct {
	db DB

	mu      sync.Mutex
	ensured map[string]bool

	now func() time.Time
}

func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db, ensured: make(map[string]bool), now: time.Now}
}

func (r *Recorder) RecordPresence(ctx context.Context, p *chatmodel.PresenceHistory) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = r.now()
	}
	return r.write(ctx, router.PresencePartition(p.Timestamp), p)
}

func (r *Recorder) RecordPerformance(ctx context.Context, p *chatmodel.ClientPerformance) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = r.now()
	}
	return r.write(ctx, router.PerformancePartition(p.Timestamp), p)
}

func (r *Recorder) RecordAudit(ctx context.Context, a *chatmodel.AccessAudit) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now()
	}
	return r.write(ctx, router.AuditPartition(a.Timestamp), a)
}

func (r *Recorder) write(ctx context.Context, partition string, doc any) error {
	if err := r.ensure(ctx, partition); err != nil {
		return errs.WrapMsg(err, "ensure history partition failed", "partition", partition)
	}
	if err := r.db.Insert(ctx, partition, doc); err != nil {
		logger.Warn("history write failed", zap.String("partition", partition), zap.Error(err))
		return errs.ErrTransientStorage.WrapMsg("history insert failed", "partition", partition)
	}
	return nil
}

func (r *Recorder) ensure(ctx context.Context, partition string) error {
	r.mu.Lock()
	ok := r.ensured[partition]
	r.mu.Unlock()
	if ok {
		return nil
	}
	if err := r.db.EnsurePartition(ctx, partition); err != nil {
		return err
	}
	r.mu.Lock()
	r.ensured[partition] = true
	r.mu.Unlock()
	return nil
}
