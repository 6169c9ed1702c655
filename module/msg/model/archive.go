package model

import "time"

// ArchiveRecord 归档副本 = 消息主体 + archived_at，落在 message_archive_YYYYMM
// （按 created_at 归桶）。archived_at 上有 TTL 索引，到期自动清除。
// message_id 在归档分区内唯一，重复归档是 no-op。
type ArchiveRecord struct {
	MessageModel `bson:",inline"`
	ArchivedAt   time.Time `bson:"archived_at"`
}

const ArchiveFieldArchivedAt = "archived_at"

func ArchiveFrom(m *MessageModel, archivedAt time.Time) *ArchiveRecord {
	cp := *m
	return &ArchiveRecord{MessageModel: cp, ArchivedAt: archivedAt}
}
