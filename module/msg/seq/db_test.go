package seq

import (
	"IMStore/tools/errs"
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func dupKeyErr() error {
	return mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}
}

// 创建竞争的输家：upsert 撞唯一键后，不带 upsert 的重跑必须正常发号，
// 绝不能被定性成"会话冻结"
func TestIncrCreateRaceLoserGetsSeq(t *testing.T) {
	calls := 0
	seq, err := incrResolvingCreateRace(context.Background(), "conv_1", incrOps{
		incr: func(ctx context.Context, upsert bool) (int64, error) {
			calls++
			if upsert {
				return 0, dupKeyErr() // 赢家先插入，输家撞 conversation_id 唯一键
			}
			return 2, nil // 文档已存在，普通 $inc 成功
		},
		frozen: func(ctx context.Context) (bool, error) {
			t.Fatal("frozen check should not run when the retry matches")
			return false, nil
		},
	})
	if err != nil {
		t.Fatalf("race loser should get a seq, got %v", err)
	}
	if seq != 2 {
		t.Fatalf("want seq 2, got %d", seq)
	}
	if calls != 2 {
		t.Fatalf("want upsert + plain retry, got %d calls", calls)
	}
}

func TestIncrFrozenConversation(t *testing.T) {
	_, err := incrResolvingCreateRace(context.Background(), "conv_1", incrOps{
		incr: func(ctx context.Context, upsert bool) (int64, error) {
			if upsert {
				return 0, dupKeyErr()
			}
			return 0, mongo.ErrNoDocuments // 文档在但被 frozen 谓词排除
		},
		frozen: func(ctx context.Context) (bool, error) { return true, nil },
	})
	if !errs.IsCode(err, errs.ConversationNotWritable) {
		t.Fatalf("want ConversationNotWritable, got %v", err)
	}
}

// 文档在竞争窗口内消失：定性为瞬时错误让调用方重试，而不是冻结
func TestIncrRecordVanishedIsTransient(t *testing.T) {
	_, err := incrResolvingCreateRace(context.Background(), "conv_1", incrOps{
		incr: func(ctx context.Context, upsert bool) (int64, error) {
			if upsert {
				return 0, dupKeyErr()
			}
			return 0, mongo.ErrNoDocuments
		},
		frozen: func(ctx context.Context) (bool, error) { return false, nil },
	})
	if !errs.IsCode(err, errs.TransientStorageError) {
		t.Fatalf("want TransientStorageError, got %v", err)
	}
}

func TestIncrNonDupErrorIsTransient(t *testing.T) {
	retried := false
	_, err := incrResolvingCreateRace(context.Background(), "conv_1", incrOps{
		incr: func(ctx context.Context, upsert bool) (int64, error) {
			if !upsert {
				retried = true
			}
			return 0, errors.New("socket timeout")
		},
		frozen: func(ctx context.Context) (bool, error) { return false, nil },
	})
	if !errs.IsCode(err, errs.TransientStorageError) {
		t.Fatalf("want TransientStorageError, got %v", err)
	}
	if retried {
		t.Fatal("non-duplicate errors must not trigger the create-race retry")
	}
}
