package seq

import (
	"IMStore/tools/errs"
	"context"
	"sync"
	"time"
)

type memRecord struct {
	current int64
	count   int64
	frozen  bool
	lastAt  time.Time
}

// MemDB 内存实现，单进程测试用；语义与 Mongo 版对齐
type MemDB struct {
	mu   sync.Mutex
	recs map[string]*memRecord
}

func NewMemDB() *MemDB {
	return &MemDB{recs: make(map[string]*memRecord)}
}

func (d *MemDB) IncrSeq(ctx context.Context, conversationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.ErrTransientStorage.WrapMsg(err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.recs[conversationID]
	if !ok {
		r = &memRecord{}
		d.recs[conversationID] = r
	}
	if r.frozen {
		return 0, errs.ErrConversationNotWritable.WrapMsg("conversation frozen", "conversationID", conversationID)
	}
	r.current++
	r.count++
	r.lastAt = time.Now()
	return r.current, nil
}

func (d *MemDB) Current(ctx context.Context, conversationID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.recs[conversationID]; ok {
		return r.current, nil
	}
	return 0, nil
}

func (d *MemDB) SetFrozen(ctx context.Context, conversationID string, frozen bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.recs[conversationID]
	if !ok {
		r = &memRecord{}
		d.recs[conversationID] = r
	}
	r.frozen = frozen
	return nil
}
