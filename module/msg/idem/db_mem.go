package idem

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"errors"
	"sync"
	"time"
)

var errDupClientMsgID = errors.New("unique client_msg_id violated")

// MemDB 内存实现；window 模拟 TTL（过期记录视同不存在）
type MemDB struct {
	mu     sync.Mutex
	recs   map[string]*chatmodel.IdempotencyRecord
	window time.Duration
}

func NewMemDB(window time.Duration) *MemDB {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &MemDB{recs: make(map[string]*chatmodel.IdempotencyRecord), window: window}
}

func (d *MemDB) expired(rec *chatmodel.IdempotencyRecord) bool {
	return time.Since(rec.CreatedAt) > d.window
}

func (d *MemDB) InsertPending(ctx context.Context, rec *chatmodel.IdempotencyRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.recs[rec.ClientMsgID]; ok && !d.expired(old) {
		return errDupClientMsgID
	}
	cp := *rec
	d.recs[rec.ClientMsgID] = &cp
	return nil
}

func (d *MemDB) IsDuplicateErr(err error) bool {
	return errors.Is(err, errDupClientMsgID)
}

func (d *MemDB) Get(ctx context.Context, clientMsgID string) (*chatmodel.IdempotencyRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.recs[clientMsgID]
	if !ok || d.expired(rec) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (d *MemDB) Commit(ctx context.Context, clientMsgID, messageID string, seq int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.recs[clientMsgID]; ok {
		rec.MessageID = messageID
		rec.Seq = seq
		rec.Status = chatmodel.IdemStatusCommitted
	}
	return nil
}

func (d *MemDB) Delete(ctx context.Context, clientMsgID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.recs, clientMsgID)
	return nil
}
