package store

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	errUniqueSeq    = errors.New("unique (conversation_id, seq) violated")
	errMemTransient = errors.New("transient storage error (injected)")
)

// MemDB 内存实现；failInserts 可注入瞬时失败验证退避重试
type MemDB struct {
	mu          sync.Mutex
	parts       map[string]map[string]*chatmodel.MessageModel          // partition -> message_id -> msg
	bySeq       map[string]map[string]map[int64]*chatmodel.MessageModel // partition -> conv -> seq -> msg
	failInserts int
}

func NewMemDB() *MemDB {
	return &MemDB{
		parts: make(map[string]map[string]*chatmodel.MessageModel),
		bySeq: make(map[string]map[string]map[int64]*chatmodel.MessageModel),
	}
}

// FailNextInserts 注入 n 次瞬时失败
func (d *MemDB) FailNextInserts(n int) {
	d.mu.Lock()
	d.failInserts = n
	d.mu.Unlock()
}

func (d *MemDB) Insert(ctx context.Context, partition string, m *chatmodel.MessageModel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failInserts > 0 {
		d.failInserts--
		return errMemTransient
	}
	conv := d.bySeq[partition]
	if conv == nil {
		conv = make(map[string]map[int64]*chatmodel.MessageModel)
		d.bySeq[partition] = conv
	}
	seqs := conv[m.ConversationID]
	if seqs == nil {
		seqs = make(map[int64]*chatmodel.MessageModel)
		conv[m.ConversationID] = seqs
	}
	if _, ok := seqs[m.Seq]; ok {
		return errUniqueSeq
	}
	byID := d.parts[partition]
	if byID == nil {
		byID = make(map[string]*chatmodel.MessageModel)
		d.parts[partition] = byID
	}
	cp := *m
	seqs[m.Seq] = &cp
	byID[m.MessageID] = &cp
	return nil
}

func (d *MemDB) IsUniqueSeqErr(err error) bool { return errors.Is(err, errUniqueSeq) }
func (d *MemDB) IsTransientErr(err error) bool { return errors.Is(err, errMemTransient) }

func (d *MemDB) FindBySeqRange(ctx context.Context, partition, conversationID string, fromSeq, toSeq, limit int64) ([]*chatmodel.MessageModel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*chatmodel.MessageModel
	if conv, ok := d.bySeq[partition]; ok {
		for s, m := range conv[conversationID] {
			if s >= fromSeq && s <= toSeq {
				cp := *m
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *MemDB) FindByID(ctx context.Context, partition, messageID string) (*chatmodel.MessageModel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if byID, ok := d.parts[partition]; ok {
		if m, ok := byID[messageID]; ok {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *MemDB) UpdateStatusCAS(ctx context.Context, partition, messageID string, allowedFrom []int32, to int32, nullContent bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byID, ok := d.parts[partition]
	if !ok {
		return false, nil
	}
	m, ok := byID[messageID]
	if !ok {
		return false, nil
	}
	for _, from := range allowedFrom {
		if m.Status == from {
			m.Status = to
			m.UpdatedAt = time.Now()
			if nullContent {
				m.Content = nil
			}
			return true, nil
		}
	}
	return false, nil
}
