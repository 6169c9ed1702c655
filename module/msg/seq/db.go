package seq

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/tools/errs"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct{ DB *mongo.Database }

func NewMongoDB(db *mongo.Database) *MongoDB { return &MongoDB{DB: db} }

func (d *MongoDB) coll() *mongo.Collection {
	return d.DB.Collection(chatmodel.CollConversationSequence)
}

// IncrSeq 原子发号：current_seq += 1，顺带维护 message_count / last_message_at。
// upsert 解决首条消息的 test-and-create 竞争：conversation_id 唯一索引保证只有
// 一个创建者赢；输家撞唯一键后重跑一次不带 upsert 的 $inc（文档此刻已存在）。
func (d *MongoDB) IncrSeq(ctx context.Context, conversationID string) (int64, error) {
	return incrResolvingCreateRace(ctx, conversationID, incrOps{
		incr: func(ctx context.Context, upsert bool) (int64, error) {
			return d.findAndIncr(ctx, conversationID, upsert)
		},
		frozen: func(ctx context.Context) (bool, error) {
			return d.isFrozen(ctx, conversationID)
		},
	})
}

// incrOps IncrSeq 的存储原语；拆出来是为了竞争分类逻辑可以脱离 mongod 验证
type incrOps struct {
	incr   func(ctx context.Context, upsert bool) (int64, error)
	frozen func(ctx context.Context) (bool, error)
}

// 撞 conversation_id 唯一键有两种来源：创建竞争的输家（文档刚被赢家插好），
// 或会话冻结（frozen 是 $ne 谓词，filter 排除文档后 upsert 误入插入路径）。
// 重跑一次不带 upsert 区分两者：能匹配 → 正常发号；匹配不到 → 看文档的
// frozen 位定性。
func incrResolvingCreateRace(ctx context.Context, conversationID string, ops incrOps) (int64, error) {
	seq, err := ops.incr(ctx, true)
	if err == nil {
		return seq, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return 0, errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "IncrSeq", "conversationID", conversationID)
	}

	seq, err = ops.incr(ctx, false)
	if err == nil {
		return seq, nil
	}
	if err != mongo.ErrNoDocuments {
		return 0, errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "IncrSeq", "conversationID", conversationID)
	}

	frozen, ferr := ops.frozen(ctx)
	if ferr != nil {
		return 0, errs.ErrTransientStorage.WrapMsg(ferr.Error(), "op", "IncrSeq", "conversationID", conversationID)
	}
	if frozen {
		return 0, errs.ErrConversationNotWritable.WrapMsg("conversation frozen", "conversationID", conversationID)
	}
	// 文档在竞争窗口内消失了（极端情形），交给调用方退避重试
	return 0, errs.ErrTransientStorage.WrapMsg("sequence record vanished during create race",
		"op", "IncrSeq", "conversationID", conversationID)
}

func (d *MongoDB) findAndIncr(ctx context.Context, conversationID string, upsert bool) (int64, error) {
	now := time.Now()

	filter := bson.M{
		chatmodel.SeqFieldConversationID: conversationID,
		chatmodel.SeqFieldFrozen:         bson.M{"$ne": true},
	}
	update := bson.M{
		"$inc": bson.M{
			chatmodel.SeqFieldCurrentSeq:   int64(1),
			chatmodel.SeqFieldMessageCount: int64(1),
		},
		"$set": bson.M{
			chatmodel.SeqFieldLastMessageAt: now,
			chatmodel.SeqFieldUpdatedAt:     now,
		},
		"$setOnInsert": bson.M{chatmodel.SeqFieldCreatedAt: now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After).
		SetProjection(bson.M{chatmodel.SeqFieldCurrentSeq: 1})

	var out struct {
		CurrentSeq int64 `bson:"current_seq"`
	}
	if err := d.coll().FindOneAndUpdate(ctx, filter, update, opts).Decode(&out); err != nil {
		return 0, err
	}
	return out.CurrentSeq, nil
}

func (d *MongoDB) isFrozen(ctx context.Context, conversationID string) (bool, error) {
	var rec chatmodel.ConversationSequence
	err := d.coll().FindOne(ctx,
		bson.M{chatmodel.SeqFieldConversationID: conversationID},
	).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Frozen, nil
}

func (d *MongoDB) Current(ctx context.Context, conversationID string) (int64, error) {
	var rec chatmodel.ConversationSequence
	err := d.coll().FindOne(ctx,
		bson.M{chatmodel.SeqFieldConversationID: conversationID},
	).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "Current")
	}
	return rec.CurrentSeq, nil
}

func (d *MongoDB) SetFrozen(ctx context.Context, conversationID string, frozen bool) error {
	now := time.Now()
	_, err := d.coll().UpdateOne(ctx,
		bson.M{chatmodel.SeqFieldConversationID: conversationID},
		bson.M{"$set": bson.M{
			chatmodel.SeqFieldFrozen:    frozen,
			chatmodel.SeqFieldUpdatedAt: now,
		}, "$setOnInsert": bson.M{
			chatmodel.SeqFieldCurrentSeq:   int64(0),
			chatmodel.SeqFieldMessageCount: int64(0),
			chatmodel.SeqFieldCreatedAt:    now,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "SetFrozen")
	}
	return nil
}

// EnsureIndexes conversation_id 唯一索引 + last_message_at 倒排
func (d *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := d.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: chatmodel.SeqFieldConversationID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_conversation_id"),
		},
		{
			Keys:    bson.D{{Key: chatmodel.SeqFieldLastMessageAt, Value: -1}},
			Options: options.Index().SetName("idx_last_message_time"),
		},
	})
	return err
}
