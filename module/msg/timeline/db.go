package timeline

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct{ DB *mongo.Database }

func NewMongoDB(db *mongo.Database) *MongoDB { return &MongoDB{DB: db} }

// Upsert $setOnInsert + upsert：天然幂等，重复投递不改既有行
func (d *MongoDB) Upsert(ctx context.Context, partition string, e *chatmodel.TimelineEntry) (bool, error) {
	res, err := d.DB.Collection(partition).UpdateOne(ctx,
		bson.M{
			chatmodel.TLFieldUserID:    e.UserID,
			chatmodel.TLFieldMessageID: e.MessageID,
		},
		bson.M{"$setOnInsert": e},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (d *MongoDB) UpdateStatus(ctx context.Context, partition string, userID int64, messageID string, status int32) (bool, error) {
	set := bson.M{chatmodel.TLFieldStatus: status}
	if status == chatmodel.StatusRead {
		set[chatmodel.TLFieldIsRead] = true
	}
	res, err := d.DB.Collection(partition).UpdateOne(ctx,
		bson.M{
			chatmodel.TLFieldUserID:    userID,
			chatmodel.TLFieldMessageID: messageID,
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// ListByUser 收件箱拉取：按时间倒序
func (d *MongoDB) ListByUser(ctx context.Context, partition string, userID int64, before time.Time, limit int64) ([]*chatmodel.TimelineEntry, error) {
	filter := bson.M{
		chatmodel.TLFieldUserID:    userID,
		chatmodel.TLFieldTimestamp: bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: chatmodel.TLFieldTimestamp, Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := d.DB.Collection(partition).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*chatmodel.TimelineEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureIndexes 与建库脚本对齐；(user_id, message_id) 唯一兜底幂等
func (d *MongoDB) EnsureIndexes(ctx context.Context, partition string) error {
	_, err := d.DB.Collection(partition).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: chatmodel.TLFieldUserID, Value: 1},
				{Key: chatmodel.TLFieldMessageID, Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_user_message"),
		},
		{
			Keys: bson.D{
				{Key: chatmodel.TLFieldUserID, Value: 1},
				{Key: chatmodel.TLFieldTimestamp, Value: -1},
			},
			Options: options.Index().SetName("idx_user_time"),
		},
		{
			Keys: bson.D{
				{Key: chatmodel.TLFieldUserID, Value: 1},
				{Key: chatmodel.TLFieldConversationID, Value: 1},
				{Key: chatmodel.TLFieldTimestamp, Value: -1},
			},
			Options: options.Index().SetName("idx_user_conv_time"),
		},
	})
	return err
}
