package retention

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

type memRow struct {
	msg  *chatmodel.MessageModel
	rec  *chatmodel.ArchiveRecord
	hist time.Time // 时间桶类历史行只关心时间字段
}

// MemDB 内存实现；failPartitions 指定清扫时报错的分区，验证失败隔离
type MemDB struct {
	mu             sync.Mutex
	parts          map[string][]memRow
	failPartitions map[string]bool
}

func NewMemDB() *MemDB {
	return &MemDB{
		parts:          make(map[string][]memRow),
		failPartitions: make(map[string]bool),
	}
}

var errMemPartitionDown = errors.New("partition unavailable (injected)")

func (d *MemDB) FailPartition(partition string) {
	d.mu.Lock()
	d.failPartitions[partition] = true
	d.mu.Unlock()
}

// SeedMessage 测试铺数据：直接写入热分区
func (d *MemDB) SeedMessage(partition string, m *chatmodel.MessageModel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *m
	d.parts[partition] = append(d.parts[partition], memRow{msg: &cp})
}

// SeedHistory 测试铺数据：时间桶行
func (d *MemDB) SeedHistory(partition string, ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parts[partition] = append(d.parts[partition], memRow{hist: ts})
}

func (d *MemDB) Count(partition string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.parts[partition])
}

func (d *MemDB) HasPartition(partition string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.parts[partition]
	return ok
}

func (d *MemDB) ListOlderThan(ctx context.Context, partition string, cutoff time.Time, limit int64) ([]*chatmodel.MessageModel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPartitions[partition] {
		return nil, errMemPartitionDown
	}
	var out []*chatmodel.MessageModel
	for _, r := range d.parts[partition] {
		if r.msg != nil && r.msg.CreatedAt.Before(cutoff) {
			cp := *r.msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemDB) InsertArchive(ctx context.Context, partition string, rec *chatmodel.ArchiveRecord) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPartitions[partition] {
		return false, errMemPartitionDown
	}
	for _, r := range d.parts[partition] {
		if r.rec != nil && r.rec.MessageID == rec.MessageID {
			return false, nil
		}
	}
	cp := *rec
	d.parts[partition] = append(d.parts[partition], memRow{rec: &cp})
	return true, nil
}

func (d *MemDB) DeleteByIDs(ctx context.Context, partition string, messageIDs []string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPartitions[partition] {
		return 0, errMemPartitionDown
	}
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}
	var kept []memRow
	var n int64
	for _, r := range d.parts[partition] {
		if r.msg != nil && ids[r.msg.MessageID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	d.parts[partition] = kept
	return n, nil
}

func (d *MemDB) DeleteOlderThan(ctx context.Context, partition, timeField string, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failPartitions[partition] {
		return 0, errMemPartitionDown
	}
	var kept []memRow
	var n int64
	for _, r := range d.parts[partition] {
		var ts time.Time
		switch {
		case r.rec != nil:
			ts = r.rec.ArchivedAt
		case r.msg != nil:
			ts = r.msg.CreatedAt
		default:
			ts = r.hist
		}
		if ts.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	d.parts[partition] = kept
	return n, nil
}

func (d *MemDB) ListPartitions(ctx context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for p := range d.parts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *MemDB) EnsurePartition(ctx context.Context, partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.parts[partition]; !ok {
		d.parts[partition] = []memRow{}
	}
	return nil
}

func (d *MemDB) DropPartition(ctx context.Context, partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.parts, partition)
	return nil
}
