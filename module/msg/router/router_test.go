package router

import (
	"strings"
	"testing"
	"time"
)

func TestMessagePartitionStable(t *testing.T) {
	r := New(32)
	first := r.MessagePartition("conv_1")
	for i := 0; i < 100; i++ {
		if got := r.MessagePartition("conv_1"); got != first {
			t.Fatalf("partition not stable: %s vs %s", got, first)
		}
	}
	// 不同实例（模拟跨进程）结果一致
	if got := New(32).MessagePartition("conv_1"); got != first {
		t.Fatalf("partition differs across router instances: %s vs %s", got, first)
	}
}

func TestMessagePartitionRange(t *testing.T) {
	r := New(32)
	keys := []string{"conv_1", "conv_2", "grp_10086", "p2p:1:2", "x"}
	for _, k := range keys {
		p := r.MessagePartition(k)
		if !strings.HasPrefix(p, PrefixMessage) {
			t.Fatalf("bad prefix: %s", p)
		}
		if len(p) != len(PrefixMessage)+2 {
			t.Fatalf("bad partition name: %s", p)
		}
	}
}

func TestTimelinePartitionStable(t *testing.T) {
	r := New(32)
	a := r.TimelinePartition(10001)
	b := r.TimelinePartition(10001)
	if a != b {
		t.Fatalf("timeline partition not stable: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, PrefixTimeline) {
		t.Fatalf("bad prefix: %s", a)
	}
}

func TestPartitionAtCoversAllBuckets(t *testing.T) {
	r := New(4)
	seen := map[string]bool{}
	// 大量 key 下每个分区名都必须在 MessagePartitionAt 的枚举范围内
	for i := 0; i < 1000; i++ {
		seen[r.MessagePartition("conv_"+string(rune('a'+i%26)))] = true
	}
	valid := map[string]bool{}
	for i := 0; i < r.PartitionCount(); i++ {
		valid[r.MessagePartitionAt(i)] = true
	}
	for p := range seen {
		if !valid[p] {
			t.Fatalf("partition %s outside enumerable range", p)
		}
	}
}

func TestTimeBucket(t *testing.T) {
	ts := time.Date(2025, 3, 15, 23, 59, 0, 0, time.UTC)
	if got := TimeBucket(ts); got != "202503" {
		t.Fatalf("TimeBucket = %s, want 202503", got)
	}
	if got := ArchivePartition(ts); got != "message_archive_202503" {
		t.Fatalf("ArchivePartition = %s", got)
	}
	if got := PresencePartition(ts); got != "presence_history_202503" {
		t.Fatalf("PresencePartition = %s", got)
	}
	if got := PerformancePartition(ts); got != "client_performance_202503" {
		t.Fatalf("PerformancePartition = %s", got)
	}
	if got := AuditPartition(ts); got != "data_access_audit_202503" {
		t.Fatalf("AuditPartition = %s", got)
	}
	// 非 UTC 时区按 UTC 归桶
	loc := time.FixedZone("UTC+8", 8*3600)
	edge := time.Date(2025, 4, 1, 7, 0, 0, 0, loc) // UTC 2025-03-31 23:00
	if got := TimeBucket(edge); got != "202503" {
		t.Fatalf("TimeBucket not UTC based: %s", got)
	}
}

func TestSingletonPartitionCount(t *testing.T) {
	r := New(1)
	if got := r.MessagePartition("anything"); got != "message_00" {
		t.Fatalf("single partition routing = %s", got)
	}
}
