package router

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// 分区名前缀，与建库脚本一致；任何组件都能由 key+scheme 直接算出目标分区，
// 不需要查表。
const (
	PrefixMessage     = "message_"
	PrefixTimeline    = "timeline_"
	PrefixArchive     = "message_archive_"
	PrefixPresence    = "presence_history_"
	PrefixPerformance = "client_performance_"
	PrefixAudit       = "data_access_audit_"
)

// Router 纯函数路由。哈希方案对 key 稳定：换哈希函数或分片数属于数据迁移，
// 绝不允许对既有数据静默重算。
type Router struct {
	partitions int
}

func New(partitionCount int) *Router {
	if partitionCount < 1 {
		partitionCount = 1
	}
	return &Router{partitions: partitionCount}
}

func (r *Router) PartitionCount() int { return r.partitions }

// MessagePartition 会话ID → message_NN
func (r *Router) MessagePartition(conversationID string) string {
	return PrefixMessage + r.bucket(conversationID)
}

// TimelinePartition 用户ID → timeline_NN
func (r *Router) TimelinePartition(userID int64) string {
	return PrefixTimeline + r.bucket(strconv.FormatInt(userID, 10))
}

// MessagePartitionAt 按下标取分区名（message_id 跨分区点查时遍历用）
func (r *Router) MessagePartitionAt(i int) string {
	return PrefixMessage + pad(i)
}

// TimelinePartitionAt 按下标取时间线分区名（建表/巡检遍历用）
func (r *Router) TimelinePartitionAt(i int) string {
	return PrefixTimeline + pad(i)
}

func (r *Router) bucket(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return pad(int(h.Sum32() % uint32(r.partitions)))
}

func pad(i int) string {
	return fmt.Sprintf("%02d", i)
}

// ---- 时间分桶方案（与哈希方案并列，按实体类别二选一） ----

// TimeBucket UTC 年月，YYYYMM
func TimeBucket(t time.Time) string {
	return t.UTC().Format("200601")
}

func ArchivePartition(createdAt time.Time) string {
	return PrefixArchive + TimeBucket(createdAt)
}

func PresencePartition(t time.Time) string {
	return PrefixPresence + TimeBucket(t)
}

func PerformancePartition(t time.Time) string {
	return PrefixPerformance + TimeBucket(t)
}

func AuditPartition(t time.Time) string {
	return PrefixAudit + TimeBucket(t)
}
