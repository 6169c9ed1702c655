package service

import (
	"IMStore/module/msg/history"
	"IMStore/module/msg/idem"
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"IMStore/module/msg/seq"
	"IMStore/module/msg/store"
	"IMStore/module/msg/timeline"
	"IMStore/tools/errs"
	"IMStore/tools/ids"
	"context"
	"sync"
	"testing"
	"time"
)

type testEnv struct {
	svc     *Service
	storeDB *store.MemDB
	tlDB    *timeline.MemDB
	histDB  *history.MemDB
	pub     *MemPublisher
	fanout  *timeline.Writer
	seqDB   *seq.MemDB
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	r := router.New(8)
	storeDB := store.NewMemDB()
	tlDB := timeline.NewMemDB()
	histDB := history.NewMemDB()
	pub := NewMemPublisher()
	fo := timeline.NewWriter(tlDB, r, 2, 64, timeline.WithRetryBase(time.Millisecond))
	t.Cleanup(fo.Close)
	seqDB := seq.NewMemDB()
	svc := New(
		seq.New(seqDB),
		idem.New(idem.NewMemDB(7*24*time.Hour), idem.WithPollInterval(time.Millisecond), idem.WithWaitMax(2*time.Second)),
		store.New(storeDB, r, store.WithRetryInterval(time.Millisecond)),
		fo,
		pub,
		WithAuditor(history.NewRecorder(histDB)),
	)
	return &testEnv{svc: svc, storeDB: storeDB, tlDB: tlDB, histDB: histDB, pub: pub, fanout: fo, seqDB: seqDB}
}

func sendReq(clientMsgID string) *SendRequest {
	return &SendRequest{
		ConversationID: "conv_1",
		FromUserID:     1001,
		MessageType:    chatmodel.MsgTypeText,
		Content:        map[string]any{"text": "hi"},
		ClientMsgID:    clientMsgID,
		Recipients:     []int64{2001, 2002},
	}
}

func TestSendAssignsDenseSeq(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		res, err := env.svc.Send(ctx, sendReq(""))
		if err != nil {
			t.Fatalf("Send #%d: %v", want, err)
		}
		if res.Seq != want {
			t.Fatalf("want seq %d, got %d", want, res.Seq)
		}
	}
	msgs, err := env.svc.History(ctx, "conv_1", 1, 5, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("want 5 messages, got %d", len(msgs))
	}
}

func TestSendDuplicateClientMsgID(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	first, err := env.svc.Send(ctx, sendReq("abc"))
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}
	second, err := env.svc.Send(ctx, sendReq("abc"))
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second submit should be a duplicate hit")
	}
	if second.MessageID != first.MessageID || second.Seq != first.Seq {
		t.Fatalf("duplicate returned different identity: %+v vs %+v", first, second)
	}
	// 主存只有一行
	msgs, _ := env.svc.History(ctx, "conv_1", 1, 100, 0)
	if len(msgs) != 1 {
		t.Fatalf("duplicate submit created extra rows: %d", len(msgs))
	}
}

func TestSendConcurrentDuplicates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	const n = 8
	results := make([]*SendResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.Send(ctx, sendReq("same-token"))
			if err != nil {
				t.Errorf("Send #%d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var dups int
	for _, r := range results {
		if r == nil {
			t.Fatal("missing result")
		}
		if r.MessageID != results[0].MessageID || r.Seq != results[0].Seq {
			t.Fatalf("divergent identity under concurrent duplicates: %+v vs %+v", r, results[0])
		}
		if r.Duplicate {
			dups++
		}
	}
	if dups != n-1 {
		t.Fatalf("want exactly 1 winner, got %d duplicates of %d", dups, n)
	}
	msgs, _ := env.svc.History(ctx, "conv_1", 1, 100, 0)
	if len(msgs) != 1 || msgs[0].Seq != 1 {
		t.Fatalf("store should hold exactly one row with seq=1, got %d rows", len(msgs))
	}
}

func TestSendDistinctTokens(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// 接入层补发的 token 各不相同，互不去重
	for i := 0; i < 3; i++ {
		res, err := env.svc.Send(ctx, sendReq(ids.GenerateClientMsgID()))
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if res.Duplicate {
			t.Fatalf("fresh token #%d must not hit", i)
		}
	}
	msgs, _ := env.svc.History(ctx, "conv_1", 1, 100, 0)
	if len(msgs) != 3 {
		t.Fatalf("want 3 rows, got %d", len(msgs))
	}
}

func TestSendConcurrentDistinct(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Send(ctx, sendReq("")); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, _ := env.svc.History(ctx, "conv_1", 1, 100, 0)
	if len(msgs) != n {
		t.Fatalf("want %d rows, got %d", n, len(msgs))
	}
	seen := make(map[int64]bool)
	for _, m := range msgs {
		if seen[m.Seq] {
			t.Fatalf("duplicate seq %d", m.Seq)
		}
		seen[m.Seq] = true
	}
	for s := int64(1); s <= n; s++ {
		if !seen[s] {
			t.Fatalf("seq hole at %d", s)
		}
	}
}

func TestSendFrozenConversation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Send(ctx, sendReq("")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := env.svc.Freeze(ctx, "conv_1"); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	_, err := env.svc.Send(ctx, sendReq("tok-frozen"))
	if !errs.IsCode(err, errs.ConversationNotWritable) {
		t.Fatalf("want ConversationNotWritable, got %v", err)
	}
	// 解冻后同一 token 可重新提交（失败路径已释放占位）
	if err := env.svc.Unfreeze(ctx, "conv_1"); err != nil {
		t.Fatalf("Unfreeze: %v", err)
	}
	res, err := env.svc.Send(ctx, sendReq("tok-frozen"))
	if err != nil {
		t.Fatalf("Send after unfreeze: %v", err)
	}
	if res.Duplicate {
		t.Fatal("released reservation should not register as duplicate")
	}
}

func TestSendFansOutToRecipients(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, sendReq(""))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	env.fanout.Flush()

	if n := env.tlDB.CountForMessage(res.MessageID); n != 2 {
		t.Fatalf("want 2 timeline projections, got %d", n)
	}
}

func TestRecallPropagates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	recipients := []int64{2001, 2002}
	res, err := env.svc.Send(ctx, sendReq(""))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	env.fanout.Flush()

	if err := env.svc.Recall(ctx, 1001, "conv_1", res.MessageID, recipients); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	env.fanout.Flush()

	// 主存：终态 + 内容置空
	m, err := env.svc.Get(ctx, res.MessageID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Status != chatmodel.StatusRecalled || m.Content != nil {
		t.Fatalf("recall not applied to store: status=%d content=%v", m.Status, m.Content)
	}
	// 投影：状态跟进
	for _, uid := range recipients {
		entries := env.tlDB.EntriesFor(uid)
		if len(entries) != 1 || entries[0].Status != chatmodel.StatusRecalled {
			t.Fatalf("user %d: recall not propagated: %+v", uid, entries)
		}
	}
	// 撤回后再标已读被拒
	err = env.svc.MarkRead(ctx, "conv_1", res.MessageID, recipients)
	if !errs.IsCode(err, errs.StatusTransitionDenied) {
		t.Fatalf("want StatusTransitionDenied after recall, got %v", err)
	}
	// 撤回落审计流水
	if env.histDB.Count(router.AuditPartition(time.Now())) != 1 {
		t.Fatal("recall should write one audit row")
	}
}

func TestSendEmitsEvent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, sendReq(""))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	events := env.pub.Events()
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != chatmodel.EventMessageAppended || ev.MessageID != res.MessageID || ev.Seq != res.Seq {
		t.Fatalf("bad event: %+v", ev)
	}

	if err := env.svc.MarkDelivered(ctx, "conv_1", res.MessageID, []int64{2001}); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	events = env.pub.Events()
	if len(events) != 2 || events[1].Type != chatmodel.EventStatusChanged {
		t.Fatalf("status change event missing: %+v", events)
	}
}

func TestSendValidation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		mut  func(*SendRequest)
	}{
		{"empty conversation", func(r *SendRequest) { r.ConversationID = "" }},
		{"bad sender", func(r *SendRequest) { r.FromUserID = 0 }},
		{"bad type", func(r *SendRequest) { r.MessageType = 99 }},
		{"no recipients", func(r *SendRequest) { r.Recipients = nil }},
	}
	for _, tc := range cases {
		req := sendReq("")
		tc.mut(req)
		if _, err := env.svc.Send(ctx, req); !errs.IsCode(err, errs.ValidationError) {
			t.Fatalf("%s: want ValidationError, got %v", tc.name, err)
		}
	}
}

func TestSendStoreFailureReleasesToken(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// 落库持续失败 → Unavailable；占位应被释放，重试拿新号成功
	env.storeDB.FailNextInserts(100)
	_, err := env.svc.Send(ctx, sendReq("tok-retry"))
	if !errs.IsCode(err, errs.Unavailable) {
		t.Fatalf("want Unavailable, got %v", err)
	}

	env.storeDB.FailNextInserts(0)
	res, err := env.svc.Send(ctx, sendReq("tok-retry"))
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if res.Duplicate {
		t.Fatal("released token must not hit")
	}
	// 首次失败消耗了 seq=1，重试拿的是新号——空洞可接受
	if res.Seq != 2 {
		t.Fatalf("retry should consume a fresh seq, got %d", res.Seq)
	}
}
