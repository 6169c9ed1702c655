package timeline

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"sync"
	"testing"
	"time"
)

func newTestMsg(id string) *chatmodel.MessageModel {
	return &chatmodel.MessageModel{
		MessageID:      id,
		ConversationID: "conv_1",
		Seq:            1,
		FromUserID:     1001,
		MessageType:    chatmodel.MsgTypeText,
		Content:        map[string]any{"text": "hello timeline"},
		Status:         chatmodel.StatusSent,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestFanOutAllRecipients(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 4, 64, WithRetryBase(time.Millisecond))
	defer w.Close()

	recipients := []int64{2001, 2002, 2003, 2004, 2005}
	w.FanOut(newTestMsg("msg_a"), recipients)
	w.Flush()

	if n := db.CountForMessage("msg_a"); n != len(recipients) {
		t.Fatalf("want %d projections, got %d", len(recipients), n)
	}
	for _, uid := range recipients {
		entries := db.EntriesFor(uid)
		if len(entries) != 1 {
			t.Fatalf("user %d: want 1 entry, got %d", uid, len(entries))
		}
		if entries[0].MessageID != "msg_a" || entries[0].ConversationID != "conv_1" {
			t.Fatalf("user %d: bad entry %+v", uid, entries[0])
		}
	}
}

func TestFanOutRetriesTransient(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 2, 64, WithRetryBase(time.Millisecond))
	defer w.Close()

	// 前 3 次写失败，重试后仍然全量落地
	db.FailNextWrites(3)
	recipients := []int64{2001, 2002, 2003}
	w.FanOut(newTestMsg("msg_b"), recipients)
	w.Flush()

	if n := db.CountForMessage("msg_b"); n != len(recipients) {
		t.Fatalf("want %d projections after retries, got %d", len(recipients), n)
	}
}

func TestFanOutDuplicateDeliveryNoop(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 2, 64, WithRetryBase(time.Millisecond))
	defer w.Close()

	m := newTestMsg("msg_c")
	w.FanOut(m, []int64{2001})
	w.FanOut(m, []int64{2001}) // 重复投递
	w.Flush()

	if n := db.CountForMessage("msg_c"); n != 1 {
		t.Fatalf("duplicate delivery produced %d rows, want 1", n)
	}
}

func TestFanOutSkipsInvalidRecipients(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 2, 64)
	defer w.Close()

	w.FanOut(newTestMsg("msg_d"), []int64{0, -5, 2001})
	w.Flush()

	if n := db.CountForMessage("msg_d"); n != 1 {
		t.Fatalf("want 1 projection, got %d", n)
	}
}

func TestFanOutDeadLetterAfterBudget(t *testing.T) {
	db := NewMemDB()
	var mu sync.Mutex
	var dead []Task
	w := NewWriter(db, router.New(8), 1, 16,
		WithRetryBase(time.Millisecond),
		WithMaxAttempts(3),
		WithDeadLetter(func(task Task) {
			mu.Lock()
			dead = append(dead, task)
			mu.Unlock()
		}),
	)
	defer w.Close()

	// 失败次数远超预算，任务最终进死信
	db.FailNextWrites(100)
	w.FanOut(newTestMsg("msg_e"), []int64{2001})
	w.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(dead) != 1 {
		t.Fatalf("want 1 dead letter, got %d", len(dead))
	}
	if dead[0].UserID != 2001 || dead[0].MessageID != "msg_e" || dead[0].Kind != "entry" {
		t.Fatalf("bad dead letter task: %+v", dead[0])
	}
}

func TestPropagateStatus(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 4, 64, WithRetryBase(time.Millisecond))
	defer w.Close()

	recipients := []int64{2001, 2002, 2003}
	w.FanOut(newTestMsg("msg_f"), recipients)
	w.Flush()

	w.PropagateStatus("msg_f", recipients, chatmodel.StatusRecalled)
	w.Flush()

	for _, uid := range recipients {
		entries := db.EntriesFor(uid)
		if len(entries) != 1 {
			t.Fatalf("user %d: want 1 entry, got %d", uid, len(entries))
		}
		if entries[0].Status != chatmodel.StatusRecalled {
			t.Fatalf("user %d: status not propagated, got %d", uid, entries[0].Status)
		}
	}
}

func TestPropagateStatusWaitsForEntry(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 1, 16, WithRetryBase(2*time.Millisecond), WithMaxAttempts(8))
	defer w.Close()

	// 单 worker：entry 任务先吃掉注入的失败进入重试；status 任务到达时
	// 投影还不存在，必须回队等 entry 落地而不是静默丢弃
	db.FailNextWrites(1)
	w.FanOut(newTestMsg("msg_h"), []int64{2001})
	w.PropagateStatus("msg_h", []int64{2001}, chatmodel.StatusRecalled)
	w.Flush()

	entries := db.EntriesFor(2001)
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if entries[0].Status != chatmodel.StatusRecalled {
		t.Fatalf("recall lost during retry window: status=%d, want %d",
			entries[0].Status, chatmodel.StatusRecalled)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 2, 16, WithRetryBase(time.Millisecond))
	w.Close()

	// 关闭后晚到的投递（如死信回放）只能丢弃，不能打到已关闭的队列上
	w.FanOut(newTestMsg("msg_i"), []int64{2001})
	w.PropagateStatus("msg_i", []int64{2001}, chatmodel.StatusRecalled)

	if n := db.CountForMessage("msg_i"); n != 0 {
		t.Fatalf("writes accepted after close: %d", n)
	}
}

func TestPropagateReadSetsIsRead(t *testing.T) {
	db := NewMemDB()
	w := NewWriter(db, router.New(8), 2, 64, WithRetryBase(time.Millisecond))
	defer w.Close()

	w.FanOut(newTestMsg("msg_g"), []int64{2001})
	w.Flush()
	w.PropagateStatus("msg_g", []int64{2001}, chatmodel.StatusRead)
	w.Flush()

	entries := db.EntriesFor(2001)
	if len(entries) != 1 || !entries[0].IsRead {
		t.Fatalf("is_read not set: %+v", entries)
	}
}
