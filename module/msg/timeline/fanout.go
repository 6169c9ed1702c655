package timeline

import (
	"IMStore/logger"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DB 抽象：生产实现 Mongo（db.go）；内存实现（db_mem.go）供测试
type DB interface {
	// Upsert (user_id, message_id) 唯一；重复写同一条是 no-op，返回 false
	Upsert(ctx context.Context, partition string, e *chatmodel.TimelineEntry) (inserted bool, err error)
	// UpdateStatus 返回是否匹配到既有投影；matched=false 交给调用方当可重试失败
	UpdateStatus(ctx context.Context, partition string, userID int64, messageID string, status int32) (matched bool, err error)
}

// 状态补写先于投影落地时回队重试，等 entry 任务写完
var errEntryPending = errors.New("timeline entry not written yet")

const (
	taskEntry  = "entry"
	taskStatus = "status"
)

// Task 一次收件人级写入。失败重试以 Task 为粒度，至少一次投递 +
// 存储层 no-op 去重 = 最终恰好一条。
type Task struct {
	Kind      string                   `json:"kind"`
	Entry     *chatmodel.TimelineEntry `json:"entry,omitempty"`
	UserID    int64                    `json:"userId"`
	MessageID string                   `json:"messageId"`
	Status    int32                    `json:"status,omitempty"`
	Attempt   int                      `json:"attempt"`
}

// Writer 时间线扇出。消息以主存落库为准，扇出永不反悔写路径：
// 单个收件人失败进异步重试，耗尽后走死信钩子，绝不上抛。
type Writer struct {
	db     DB
	router *router.Router

	jobs     chan Task
	inflight sync.WaitGroup // 逻辑任务：终局（成功/放弃）才 Done
	workerWG sync.WaitGroup

	maxAttempts int
	retryBase   time.Duration
	opTimeout   time.Duration
	deadLetter  func(Task) // 可选：重试耗尽后的外部补偿通道

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

type Option func(*Writer)

func WithMaxAttempts(n int) Option { return func(w *Writer) { w.maxAttempts = n } }
func WithRetryBase(d time.Duration) Option { return func(w *Writer) { w.retryBase = d } }
func WithOpTimeout(d time.Duration) Option { return func(w *Writer) { w.opTimeout = d } }
func WithDeadLetter(fn func(Task)) Option { return func(w *Writer) { w.deadLetter = fn } }

func NewWriter(db DB, r *router.Router, workers, queueLen int, opts ...Option) *Writer {
	if workers <= 0 {
		workers = 4
	}
	if queueLen <= 0 {
		queueLen = 1024
	}
	w := &Writer{
		db:          db,
		router:      r,
		jobs:        make(chan Task, queueLen),
		maxAttempts: 5,
		retryBase:   50 * time.Millisecond,
		opTimeout:   5 * time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	for i := 0; i < workers; i++ {
		w.workerWG.Add(1)
		go w.worker()
	}
	return w
}

// FanOut 为每个收件人投一条投影写任务；非法 userID 跳过并记日志。
func (w *Writer) FanOut(m *chatmodel.MessageModel, recipients []int64) {
	for _, uid := range recipients {
		if uid <= 0 {
			logger.Warn("fanout skip invalid recipient",
				zap.Int64("userID", uid), zap.String("messageID", m.MessageID))
			continue
		}
		w.enqueue(Task{
			Kind:      taskEntry,
			Entry:     chatmodel.TimelineFrom(m, uid),
			UserID:    uid,
			MessageID: m.MessageID,
		})
	}
}

// PropagateStatus 把撤回/删除/已读等状态补写到各收件人的既有投影；
// 最终一致，不是跨分区事务。
func (w *Writer) PropagateStatus(messageID string, recipients []int64, status int32) {
	for _, uid := range recipients {
		if uid <= 0 {
			continue
		}
		w.enqueue(Task{
			Kind:      taskStatus,
			UserID:    uid,
			MessageID: messageID,
			Status:    status,
		})
	}
}

// Flush 等全部在途任务终局（含排队中的重试）；测试与优雅下线用
func (w *Writer) Flush() {
	w.inflight.Wait()
}

// Close Flush 后停 worker。先标记 closed 再 Flush：之后晚到的 enqueue
// （如死信回放）直接丢弃，不会打到已关闭的队列上。
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		w.Flush()
		close(w.jobs)
		w.workerWG.Wait()
	})
}

func (w *Writer) enqueue(t Task) {
	// closed 检查和 inflight.Add 同锁：要么任务计入 Flush 等待集，
	// 要么整体丢弃，不存在 Add 后撞上已关闭通道的窗口
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		logger.Warn("fanout writer closed, task dropped",
			zap.String("kind", t.Kind), zap.Int64("userID", t.UserID),
			zap.String("messageID", t.MessageID))
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	w.jobs <- t
}

func (w *Writer) worker() {
	defer w.workerWG.Done()
	for t := range w.jobs {
		w.handle(t)
	}
}

func (w *Writer) handle(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opTimeout)
	err := w.apply(ctx, t)
	cancel()
	if err == nil {
		w.inflight.Done()
		return
	}

	t.Attempt++
	if t.Attempt >= w.maxAttempts {
		logger.Error("fanout task gave up",
			zap.String("kind", t.Kind), zap.Int64("userID", t.UserID),
			zap.String("messageID", t.MessageID), zap.Int("attempts", t.Attempt), zap.Error(err))
		if w.deadLetter != nil {
			w.deadLetter(t)
		}
		w.inflight.Done()
		return
	}

	delay := w.retryBase << uint(t.Attempt-1)
	logger.Debug("fanout task retry scheduled",
		zap.Int64("userID", t.UserID), zap.String("messageID", t.MessageID),
		zap.Int("attempt", t.Attempt), zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		// inflight 已计数，直接回队
		w.jobs <- t
	})
}

func (w *Writer) apply(ctx context.Context, t Task) error {
	partition := w.router.TimelinePartition(t.UserID)
	switch t.Kind {
	case taskEntry:
		_, err := w.db.Upsert(ctx, partition, t.Entry)
		return err
	case taskStatus:
		matched, err := w.db.UpdateStatus(ctx, partition, t.UserID, t.MessageID, t.Status)
		if err != nil {
			return err
		}
		if !matched {
			// 撤回/已读在投影写入前到达：等 entry 任务落地再补
			return errEntryPending
		}
		return nil
	default:
		logger.Error("fanout unknown task kind", zap.String("kind", t.Kind))
		return nil
	}
}
