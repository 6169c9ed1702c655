package history

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"context"
	"testing"
	"time"
)

func TestRecordRoutesToTimeBucket(t *testing.T) {
	db := NewMemDB()
	r := NewRecorder(db)
	ctx := context.Background()

	ts := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	if err := r.RecordPresence(ctx, &chatmodel.PresenceHistory{
		UserID: 1001, DeviceID: "dev_1", NewStatus: 1, Timestamp: ts,
	}); err != nil {
		t.Fatalf("RecordPresence: %v", err)
	}
	if err := r.RecordPerformance(ctx, &chatmodel.ClientPerformance{
		UserID: 1001, Metric: "rtt_ms", Value: 42, Timestamp: ts,
	}); err != nil {
		t.Fatalf("RecordPerformance: %v", err)
	}
	if err := r.RecordAudit(ctx, &chatmodel.AccessAudit{
		OperatorID: 9001, Action: "export", Resource: "conv_1", Timestamp: ts,
	}); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}

	if db.Count(router.PresencePartition(ts)) != 1 {
		t.Fatal("presence row missing from month bucket")
	}
	if db.Count(router.PerformancePartition(ts)) != 1 {
		t.Fatal("performance row missing from month bucket")
	}
	if db.Count(router.AuditPartition(ts)) != 1 {
		t.Fatal("audit row missing from month bucket")
	}
}

func TestRecordFillsTimestamp(t *testing.T) {
	db := NewMemDB()
	r := NewRecorder(db)

	p := &chatmodel.PresenceHistory{UserID: 1001}
	if err := r.RecordPresence(context.Background(), p); err != nil {
		t.Fatalf("RecordPresence: %v", err)
	}
	if p.Timestamp.IsZero() {
		t.Fatal("zero timestamp should be filled with now")
	}
}

func TestEnsurePartitionCached(t *testing.T) {
	db := NewMemDB()
	r := NewRecorder(db)
	ctx := context.Background()

	ts := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := r.RecordAudit(ctx, &chatmodel.AccessAudit{
			OperatorID: 9001, Action: "read", Resource: "conv_1", Timestamp: ts,
		}); err != nil {
			t.Fatalf("RecordAudit #%d: %v", i, err)
		}
	}
	if db.EnsureCalls() != 1 {
		t.Fatalf("ensure should be cached per partition, got %d calls", db.EnsureCalls())
	}
}

func TestMonthRolloverNewBucket(t *testing.T) {
	db := NewMemDB()
	r := NewRecorder(db)
	ctx := context.Background()

	aug := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	sep := time.Date(2026, 9, 1, 0, 1, 0, 0, time.UTC)
	_ = r.RecordAudit(ctx, &chatmodel.AccessAudit{OperatorID: 1, Action: "a", Resource: "x", Timestamp: aug})
	_ = r.RecordAudit(ctx, &chatmodel.AccessAudit{OperatorID: 1, Action: "a", Resource: "x", Timestamp: sep})

	if db.Count(router.AuditPartition(aug)) != 1 || db.Count(router.AuditPartition(sep)) != 1 {
		t.Fatal("rows not split across month buckets")
	}
	if db.EnsureCalls() != 2 {
		t.Fatalf("want 2 ensure calls across rollover, got %d", db.EnsureCalls())
	}
}
