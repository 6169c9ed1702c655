package idem

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
	return d.DB.Collection(chatmodel.CollMessageIdempotent)
}

func (d *MongoDB) InsertPending(ctx context.Context, rec *chatmodel.IdempotencyRecord) error {
	_, err := d.coll().InsertOne(ctx, rec)
	return err
}

func (d *MongoDB) IsDuplicateErr(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

func (d *MongoDB) Get(ctx context.Context, clientMsgID string) (*chatmodel.IdempotencyRecord, error) {
	var rec chatmodel.IdempotencyRecord
	err := d.coll().FindOne(ctx,
		bson.M{chatmodel.IdemFieldClientMsgID: clientMsgID},
	).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "idem.Get")
	}
	return &rec, nil
}

func (d *MongoDB) Commit(ctx context.Context, clientMsgID, messageID string, seq int64) error {
	_, err := d.coll().UpdateOne(ctx,
		bson.M{chatmodel.IdemFieldClientMsgID: clientMsgID},
		bson.M{"$set": bson.M{
			chatmodel.IdemFieldMessageID: messageID,
			chatmodel.IdemFieldSeq:       seq,
			chatmodel.IdemFieldStatus:    chatmodel.IdemStatusCommitted,
		}},
	)
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "idem.Commit")
	}
	return nil
}

func (d *MongoDB) Delete(ctx context.Context, clientMsgID string) error {
	_, err := d.coll().DeleteOne(ctx, bson.M{chatmodel.IdemFieldClientMsgID: clientMsgID})
	if err != nil {
		return errs.ErrTransientStorage.WrapMsg(err.Error(), "op", "idem.Delete")
	}
	return nil
}

// EnsureIndexes client_msg_id 唯一 + created_at TTL（窗口过期自动清理）
func (d *MongoDB) EnsureIndexes(ctx context.Context, window time.Duration) error {
	ttlSeconds := int32(window / time.Second)
	_, err := d.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: chatmodel.IdemFieldClientMsgID, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_client_msg_id"),
		},
		{
			Keys:    bson.D{{Key: chatmodel.IdemFieldMessageID, Value: 1}},
			Options: options.Index().SetName("idx_message_id"),
		},
		{
			Keys: bson.D{{Key: chatmodel.IdemFieldCreatedAt, Value: 1}},
			Options: options.Index().
				SetName("idx_ttl").
				SetExpireAfterSeconds(ttlSeconds),
		},
	})
	return err
}
