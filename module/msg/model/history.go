package model

import "time"

// 时间分桶类历史数据：与消息主流解耦，仅共用路由契约与保留清扫。

// PresenceHistory 在线状态变更流水，落 presence_history_YYYYMM。
type PresenceHistory struct {
	UserID       int64     `bson:"user_id"`
	DeviceID     string    `bson:"device_id"`
	NodeID       string    `bson:"node_id"`
	PresenceType int32     `bson:"presence_type"`
	NewStatus    int32     `bson:"new_status"`
	Timestamp    time.Time `bson:"timestamp"`
}

// ClientPerformance 客户端性能采样，落 client_performance_YYYYMM。
type ClientPerformance struct {
	UserID    int64          `bson:"user_id"`
	DeviceID  string         `bson:"device_id"`
	Metric    string         `bson:"metric"`
	Value     float64        `bson:"value"`
	Extra     map[string]any `bson:"extra,omitempty"`
	Timestamp time.Time      `bson:"timestamp"`
}

// AccessAudit 数据访问审计，落 data_access_audit_YYYYMM。
type AccessAudit struct {
	OperatorID int64     `bson:"operator_id"`
	Action     string    `bson:"action"`
	Resource   string    `bson:"resource"`
	Detail     string    `bson:"detail,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
}

const HistoryFieldTimestamp = "timestamp"
