package global

import (
	"IMStore/tools/errs"
)

// RetentionConfig 存储侧外部可配参数（分片数 + 各类保留窗口）。
// 默认值与线上建库脚本保持一致，改分片数属于迁移操作，禁止热改。
type RetentionConfig struct {
	HashPartitionCount    int // 哈希分片数（message_xx / timeline_xx）
	MessageArchiveDays    int // 热消息归档窗口
	ArchiveRetentionDays  int // 归档后 TTL
	IdempotencyWindowDays int // client_msg_id 去重窗口
	MetricsRetentionDays  int // 客户端性能数据
	PresenceRetentionDays int // 在线状态历史
	AuditRetentionDays    int // 访问审计日志
}

func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		HashPartitionCount:    32,
		MessageArchiveDays:    180,
		ArchiveRetentionDays:  180,
		IdempotencyWindowDays: 7,
		MetricsRetentionDays:  30,
		PresenceRetentionDays: 90,
		AuditRetentionDays:    365,
	}
}

func (c RetentionConfig) Validate() error {
	if c.HashPartitionCount < 1 {
		return errs.ErrValidation.WrapMsg("hash partition count must be >= 1", "got", c.HashPartitionCount)
	}
	for _, v := range []struct {
		name string
		days int
	}{
		{"messageArchiveDays", c.MessageArchiveDays},
		{"archiveRetentionDays", c.ArchiveRetentionDays},
		{"idempotencyWindowDays", c.IdempotencyWindowDays},
		{"metricsRetentionDays", c.MetricsRetentionDays},
		{"presenceRetentionDays", c.PresenceRetentionDays},
		{"auditRetentionDays", c.AuditRetentionDays},
	} {
		if v.days <= 0 {
			return errs.ErrValidation.WrapMsg("retention window must be positive", "field", v.name)
		}
	}
	return nil
}

// AppConfig 节点级配置；网关/数据节点共用一份。
type AppConfig struct {
	NodeID    string
	Retention RetentionConfig
}

var Global = AppConfig{
	NodeID:    "msg_data_node_01",
	Retention: DefaultRetention(),
}
