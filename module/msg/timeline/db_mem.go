package timeline

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"errors"
	"sync"
)

var errMemTransient = errors.New("transient timeline error (injected)")

type memKey struct {
	userID    int64
	messageID string
}

// MemDB 内存实现；failNext 注入瞬时失败验证重试收敛
type MemDB struct {
	mu       sync.Mutex
	parts    map[string]map[memKey]*chatmodel.TimelineEntry
	failNext int
}

func NewMemDB() *MemDB {
	return &MemDB{parts: make(map[string]map[memKey]*chatmodel.TimelineEntry)}
}

func (d *MemDB) FailNextWrites(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *MemDB) Upsert(ctx context.Context, partition string, e *chatmodel.TimelineEntry) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return false, errMemTransient
	}
	p := d.parts[partition]
	if p == nil {
		p = make(map[memKey]*chatmodel.TimelineEntry)
		d.parts[partition] = p
	}
	k := memKey{userID: e.UserID, messageID: e.MessageID}
	if _, ok := p[k]; ok {
		return false, nil // 重复写 no-op
	}
	cp := *e
	p[k] = &cp
	return true, nil
}

func (d *MemDB) UpdateStatus(ctx context.Context, partition string, userID int64, messageID string, status int32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return false, errMemTransient
	}
	if p, ok := d.parts[partition]; ok {
		if e, ok := p[memKey{userID: userID, messageID: messageID}]; ok {
			e.Status = status
			if status == chatmodel.StatusRead {
				e.IsRead = true
			}
			return true, nil
		}
	}
	return false, nil
}

// EntriesFor 测试辅助：某用户全部投影
func (d *MemDB) EntriesFor(userID int64) []*chatmodel.TimelineEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*chatmodel.TimelineEntry
	for _, p := range d.parts {
		for k, e := range p {
			if k.userID == userID {
				cp := *e
				out = append(out, &cp)
			}
		}
	}
	return out
}

// CountForMessage 测试辅助：某消息的投影总数
func (d *MemDB) CountForMessage(messageID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.parts {
		for k := range p {
			if k.messageID == messageID {
				n++
			}
		}
	}
	return n
}
