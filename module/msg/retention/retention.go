package retention

import (
	"IMStore/global"
	"IMStore/logger"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"IMStore/tools/errs"
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// DB 归档/清扫需要的存储操作；生产实现 Mongo（db.go），内存实现供测试。
type DB interface {
	// ListOlderThan 取分区内 created_at < cutoff 的消息（只取活跃行，终态除外的过滤在调用方）
	ListOlderThan(ctx context.Context, partition string, cutoff time.Time, limit int64) ([]*chatmodel.MessageModel, error)
	// InsertArchive message_id 分区内唯一；重复归档返回 (false, nil)
	InsertArchive(ctx context.Context, partition string, rec *chatmodel.ArchiveRecord) (bool, error)
	DeleteByIDs(ctx context.Context, partition string, messageIDs []string) (int64, error)
	// DeleteOlderThan 按时间字段整批删除，时间桶分区的清扫用
	DeleteOlderThan(ctx context.Context, partition, timeField string, cutoff time.Time) (int64, error)
	// ListPartitions 按前缀枚举既有分区（collection 名）
	ListPartitions(ctx context.Context, prefix string) ([]string, error)
	// EnsurePartition 建分区 + 索引；已存在是 no-op
	EnsurePartition(ctx context.Context, partition string) error
	DropPartition(ctx context.Context, partition string) error
}

// SweepStats 一轮清扫的结果统计
type SweepStats struct {
	Archived int64 // 迁入归档的消息数
	Pruned   int64 // 从热分区删除的消息数
	Partial  bool  // 有分区失败被跳过
}

// Manager 归档与保留清扫。copy-then-prune：先写归档再删热行，
// 中途崩溃最多留下双份（归档唯一键吸掉重放），绝不丢。
type Manager struct {
	db        DB
	router    *router.Router
	cfg       global.RetentionConfig
	batchSize int64
	now       func() time.Time
}

type Option func(*Manager)

func WithBatchSize(n int64) Option { return func(m *Manager) { m.batchSize = n } }
func WithNowFunc(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

func New(db DB, r *router.Router, cfg global.RetentionConfig, opts ...Option) *Manager {
	m := &Manager{
		db:        db,
		router:    r,
		cfg:       cfg,
		batchSize: 500,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ArchiveSweep 遍历所有消息热分区，把超过归档窗口的消息按 created_at
// 归桶搬进 message_archive_YYYYMM，随后从热分区删除。逐分区推进，
// 单个分区失败不阻断其余分区。
func (m *Manager) ArchiveSweep(ctx context.Context) (SweepStats, error) {
	cutoff := m.now().AddDate(0, 0, -m.cfg.MessageArchiveDays)
	var stats SweepStats
	var merr *multierror.Error

	for i := 0; i < m.router.PartitionCount(); i++ {
		partition := m.router.MessagePartitionAt(i)
		archived, pruned, err := m.sweepPartition(ctx, partition, cutoff)
		stats.Archived += archived
		stats.Pruned += pruned
		if err != nil {
			stats.Partial = true
			logger.Error("archive sweep partition failed",
				zap.String("partition", partition), zap.Error(err))
			merr = multierror.Append(merr, errs.WrapMsg(err, "archive sweep failed", "partition", partition))
		}
	}
	if stats.Archived > 0 || stats.Pruned > 0 {
		logger.Infof("archive sweep done: archived=%d pruned=%d partial=%v",
			stats.Archived, stats.Pruned, stats.Partial)
	}
	return stats, merr.ErrorOrNil()
}

func (m *Manager) sweepPartition(ctx context.Context, partition string, cutoff time.Time) (archived, pruned int64, err error) {
	for {
		msgs, err := m.db.ListOlderThan(ctx, partition, cutoff, m.batchSize)
		if err != nil {
			return archived, pruned, err
		}
		if len(msgs) == 0 {
			return archived, pruned, nil
		}

		archivedAt := m.now()
		done := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			bucket := router.ArchivePartition(msg.CreatedAt)
			if err := m.db.EnsurePartition(ctx, bucket); err != nil {
				return archived, pruned, err
			}
			inserted, err := m.db.InsertArchive(ctx, bucket, chatmodel.ArchiveFrom(msg, archivedAt))
			if err != nil {
				// 失败的行留在热分区，下一轮重试；已成功的照常删
				logger.Warn("archive insert failed, will retry next sweep",
					zap.String("messageID", msg.MessageID), zap.Error(err))
				continue
			}
			if inserted {
				archived++
			}
			done = append(done, msg.MessageID)
		}
		if len(done) == 0 {
			// 整批都没归档成功，留到下一轮，避免原地打转
			return archived, pruned, errs.ErrTransientStorage.WrapMsg("archive batch made no progress",
				"partition", partition)
		}
		n, err := m.db.DeleteByIDs(ctx, partition, done)
		if err != nil {
			return archived, pruned, err
		}
		pruned += n
		if int64(len(msgs)) < m.batchSize {
			return archived, pruned, nil
		}
	}
}

// ExpireArchives 删除 archived_at 超过归档保留窗口的行。
// TTL 索引在线上兜底，这里是可主动触发、可观测的同义操作。
func (m *Manager) ExpireArchives(ctx context.Context) (int64, error) {
	cutoff := m.now().AddDate(0, 0, -m.cfg.ArchiveRetentionDays)
	return m.expirePrefix(ctx, router.PrefixArchive, chatmodel.ArchiveFieldArchivedAt, cutoff)
}

// SweepCategories 按各自窗口清扫性能/在线状态/审计时间桶。
func (m *Manager) SweepCategories(ctx context.Context) (int64, error) {
	now := m.now()
	var total int64
	var merr *multierror.Error
	for _, c := range []struct {
		prefix string
		days   int
	}{
		{router.PrefixPerformance, m.cfg.MetricsRetentionDays},
		{router.PrefixPresence, m.cfg.PresenceRetentionDays},
		{router.PrefixAudit, m.cfg.AuditRetentionDays},
	} {
		n, err := m.expirePrefix(ctx, c.prefix, chatmodel.HistoryFieldTimestamp, now.AddDate(0, 0, -c.days))
		total += n
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return total, merr.ErrorOrNil()
}

// expirePrefix 对前缀下每个时间桶分区删过期行；整桶过期直接 drop。
// 桶名 YYYYMM 自带上界：桶月份整体早于 cutoff 月时桶内不可能有存活行。
func (m *Manager) expirePrefix(ctx context.Context, prefix, timeField string, cutoff time.Time) (int64, error) {
	parts, err := m.db.ListPartitions(ctx, prefix)
	if err != nil {
		return 0, errs.WrapMsg(err, "list partitions failed", "prefix", prefix)
	}
	cutoffBucket := router.TimeBucket(cutoff)
	var total int64
	var merr *multierror.Error
	for _, p := range parts {
		bucket := p[len(prefix):]
		if bucket < cutoffBucket {
			if err := m.db.DropPartition(ctx, p); err != nil {
				merr = multierror.Append(merr, errs.WrapMsg(err, "drop partition failed", "partition", p))
			} else {
				logger.Infof("dropped expired partition %s", p)
			}
			continue
		}
		n, err := m.db.DeleteOlderThan(ctx, p, timeField, cutoff)
		total += n
		if err != nil {
			merr = multierror.Append(merr, errs.WrapMsg(err, "expire partition failed", "partition", p))
		}
	}
	return total, merr.ErrorOrNil()
}

// EnsureUpcomingPartitions 预建当月与下月的时间桶分区，避开月切时的
// 首写建表竞争。哈希分区是固定集合，一并确保。
func (m *Manager) EnsureUpcomingPartitions(ctx context.Context) error {
	now := m.now()
	next := now.AddDate(0, 1, 0)
	var merr *multierror.Error
	for _, t := range []time.Time{now, next} {
		for _, p := range []string{
			router.ArchivePartition(t),
			router.PresencePartition(t),
			router.PerformancePartition(t),
			router.AuditPartition(t),
		} {
			if err := m.db.EnsurePartition(ctx, p); err != nil {
				merr = multierror.Append(merr, errs.WrapMsg(err, "ensure partition failed", "partition", p))
			}
		}
	}
	for i := 0; i < m.router.PartitionCount(); i++ {
		if err := m.db.EnsurePartition(ctx, m.router.MessagePartitionAt(i)); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// RunPeriodic 周期执行全套维护；interval<=0 用默认 1h。阻塞直到 ctx 取消。
func (m *Manager) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ArchiveSweep(ctx); err != nil {
				logger.Error("periodic archive sweep", zap.Error(err))
			}
			if _, err := m.ExpireArchives(ctx); err != nil {
				logger.Error("periodic archive expire", zap.Error(err))
			}
			if _, err := m.SweepCategories(ctx); err != nil {
				logger.Error("periodic category sweep", zap.Error(err))
			}
			if err := m.EnsureUpcomingPartitions(ctx); err != nil {
				logger.Error("periodic ensure partitions", zap.Error(err))
			}
		}
	}
}
