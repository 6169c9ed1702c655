package history

import (
	"context"
	"sync"
)

type MemDB struct {
	mu      sync.Mutex
	parts   map[string][]any
	ensures int
}

func NewMemDB() *MemDB {
	return &MemDB{parts: make(map[string][]any)}
}

func (d *MemDB) Insert(ctx context.Context, partition string, doc any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parts[partition] = append(d.parts[partition], doc)
	return nil
}

func (d *MemDB) EnsurePartition(ctx context.Context, partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensures++
	if _, ok := d.parts[partition]; !ok {
		d.parts[partition] = []any{}
	}
	return nil
}

func (d *MemDB) Count(partition string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.parts[partition])
}

func (d *MemDB) EnsureCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensures
}
