package retention

import (
	"IMStore/global"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"context"
	"testing"
	"time"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func msgAgeDays(id string, days int) *chatmodel.MessageModel {
	created := testNow.AddDate(0, 0, -days)
	return &chatmodel.MessageModel{
		MessageID:      id,
		ConversationID: "conv_1",
		Seq:            1,
		FromUserID:     1001,
		MessageType:    chatmodel.MsgTypeText,
		Content:        map[string]any{"text": "old"},
		Status:         chatmodel.StatusRead,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func newManager(db DB, r *router.Router) *Manager {
	return New(db, r, global.DefaultRetention(), WithNowFunc(func() time.Time { return testNow }))
}

func TestArchiveSweepMovesOldMessages(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	old := msgAgeDays("msg_old", 200)
	fresh := msgAgeDays("msg_fresh", 10)
	hot := r.MessagePartition(old.ConversationID)
	db.SeedMessage(hot, old)
	db.SeedMessage(hot, fresh)

	stats, err := m.ArchiveSweep(ctx)
	if err != nil {
		t.Fatalf("ArchiveSweep: %v", err)
	}
	if stats.Archived != 1 || stats.Pruned != 1 {
		t.Fatalf("want archived=1 pruned=1, got %+v", stats)
	}
	// 新消息留在热分区
	if db.Count(hot) != 1 {
		t.Fatalf("hot partition should keep fresh message, count=%d", db.Count(hot))
	}
	// 归档桶按 created_at 归月
	bucket := router.ArchivePartition(old.CreatedAt)
	if db.Count(bucket) != 1 {
		t.Fatalf("archive bucket %s should hold 1 record, got %d", bucket, db.Count(bucket))
	}
}

func TestArchiveSweepIdempotent(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	old := msgAgeDays("msg_old", 200)
	hot := r.MessagePartition(old.ConversationID)
	db.SeedMessage(hot, old)

	if _, err := m.ArchiveSweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	// 模拟 copy 成功 prune 失败后的重放：热行复活
	db.SeedMessage(hot, old)
	stats, err := m.ArchiveSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if stats.Archived != 0 {
		t.Fatalf("replay should not double archive, got %+v", stats)
	}
	if stats.Pruned != 1 {
		t.Fatalf("replay should still prune the hot row, got %+v", stats)
	}
	bucket := router.ArchivePartition(old.CreatedAt)
	if db.Count(bucket) != 1 {
		t.Fatalf("archive bucket should have exactly 1 record, got %d", db.Count(bucket))
	}
}

func TestArchiveSweepPartitionFailureIsolated(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	// 两条老消息落到不同热分区
	a := msgAgeDays("msg_a", 200)
	a.ConversationID = "conv_a"
	b := msgAgeDays("msg_b", 200)
	b.ConversationID = "conv_b"
	partA := r.MessagePartition("conv_a")
	partB := r.MessagePartition("conv_b")
	if partA == partB {
		t.Skip("conversations hashed to same partition")
	}
	db.SeedMessage(partA, a)
	db.SeedMessage(partB, b)
	db.FailPartition(partA)

	stats, err := m.ArchiveSweep(ctx)
	if err == nil {
		t.Fatal("want error from failed partition")
	}
	if !stats.Partial {
		t.Fatalf("want partial flag, got %+v", stats)
	}
	// 健康分区照常推进
	if stats.Archived != 1 || stats.Pruned != 1 {
		t.Fatalf("healthy partition should be swept, got %+v", stats)
	}
	if db.Count(partB) != 0 {
		t.Fatalf("healthy partition not pruned, count=%d", db.Count(partB))
	}
}

func TestExpireArchives(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	// 同一桶里一条到期一条未到期
	bucket := router.PrefixArchive + router.TimeBucket(testNow)
	expired := chatmodel.ArchiveFrom(msgAgeDays("msg_x", 400), testNow.AddDate(0, 0, -200))
	live := chatmodel.ArchiveFrom(msgAgeDays("msg_y", 400), testNow.AddDate(0, 0, -10))
	_, _ = db.InsertArchive(ctx, bucket, expired)
	_, _ = db.InsertArchive(ctx, bucket, live)

	n, err := m.ExpireArchives(ctx)
	if err != nil {
		t.Fatalf("ExpireArchives: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 expired, got %d", n)
	}
	if db.Count(bucket) != 1 {
		t.Fatalf("live archive row lost, count=%d", db.Count(bucket))
	}
}

func TestExpireDropsWholeOldBuckets(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	oldBucket := router.PrefixArchive + "202401" // 远早于保留窗口
	_, _ = db.InsertArchive(ctx, oldBucket,
		chatmodel.ArchiveFrom(msgAgeDays("msg_z", 900), testNow.AddDate(0, 0, -800)))

	if _, err := m.ExpireArchives(ctx); err != nil {
		t.Fatalf("ExpireArchives: %v", err)
	}
	if db.HasPartition(oldBucket) {
		t.Fatal("fully expired bucket should be dropped")
	}
}

func TestSweepCategoriesWindows(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)
	ctx := context.Background()

	bucket := router.TimeBucket(testNow)
	// metrics 窗口 30d：40d 前的过期，10d 前的保留
	db.SeedHistory(router.PrefixPerformance+bucket, testNow.AddDate(0, 0, -40))
	db.SeedHistory(router.PrefixPerformance+bucket, testNow.AddDate(0, 0, -10))
	// presence 窗口 90d：40d 前的保留
	db.SeedHistory(router.PrefixPresence+bucket, testNow.AddDate(0, 0, -40))
	// audit 窗口 365d：200d 前的保留
	db.SeedHistory(router.PrefixAudit+bucket, testNow.AddDate(0, 0, -200))

	n, err := m.SweepCategories(ctx)
	if err != nil {
		t.Fatalf("SweepCategories: %v", err)
	}
	if n != 1 {
		t.Fatalf("want exactly 1 row expired (old metric), got %d", n)
	}
	if db.Count(router.PrefixPerformance+bucket) != 1 {
		t.Fatal("fresh metric row lost")
	}
	if db.Count(router.PrefixPresence+bucket) != 1 {
		t.Fatal("presence row inside window lost")
	}
	if db.Count(router.PrefixAudit+bucket) != 1 {
		t.Fatal("audit row inside window lost")
	}
}

func TestEnsureUpcomingPartitions(t *testing.T) {
	db := NewMemDB()
	r := router.New(4)
	m := newManager(db, r)

	if err := m.EnsureUpcomingPartitions(context.Background()); err != nil {
		t.Fatalf("EnsureUpcomingPartitions: %v", err)
	}
	next := testNow.AddDate(0, 1, 0)
	for _, p := range []string{
		router.ArchivePartition(testNow),
		router.ArchivePartition(next),
		router.PresencePartition(next),
		router.PerformancePartition(next),
		router.AuditPartition(next),
	} {
		if !db.HasPartition(p) {
			t.Fatalf("partition %s not created", p)
		}
	}
	for i := 0; i < r.PartitionCount(); i++ {
		if !db.HasPartition(r.MessagePartitionAt(i)) {
			t.Fatalf("hash partition %s not created", r.MessagePartitionAt(i))
		}
	}
}
