package store

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

func (d *MongoDB) Insert(ctx context.Context, partition string, m *chatmodel.MessageModel) error {
	_, err := d.DB.Collection(partition).InsertOne(ctx, m)
	return err
}

// message_id 是服务端新生成的雪花号，不可能撞；分片内撞唯一键只会是
// idx_conversation_seq
func (d *MongoDB) IsUniqueSeqErr(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

func (d *MongoDB) IsTransientErr(err error) bool {
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (d *MongoDB) FindBySeqRange(ctx context.Context, partition, conversationID string, fromSeq, toSeq, limit int64) ([]*chatmodel.MessageModel, error) {
	filter := bson.M{
		chatmodel.MsgFieldConversationID: conversationID,
		chatmodel.MsgFieldSeq:            bson.M{"$gte": fromSeq, "$lte": toSeq},
	}
	opts := options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldSeq, Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := d.DB.Collection(partition).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*chatmodel.MessageModel
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *MongoDB) FindByID(ctx context.Context, partition, messageID string) (*chatmodel.MessageModel, error) {
	var m chatmodel.MessageModel
	err := d.DB.Collection(partition).FindOne(ctx,
		bson.M{chatmodel.MsgFieldMessageID: messageID},
	).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *MongoDB) UpdateStatusCAS(ctx context.Context, partition, messageID string, allowedFrom []int32, to int32, nullContent bool) (bool, error) {
	set := bson.M{
		chatmodel.MsgFieldStatus:    to,
		chatmodel.MsgFieldUpdatedAt: time.Now(),
	}
	if nullContent {
		set[chatmodel.MsgFieldContent] = nil
	}
	res, err := d.DB.Collection(partition).UpdateOne(ctx,
		bson.M{
			chatmodel.MsgFieldMessageID: messageID,
			chatmodel.MsgFieldStatus:    bson.M{"$in": allowedFrom},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// EnsureIndexes 对单个消息分片建索引，与建库脚本对齐
func (d *MongoDB) EnsureIndexes(ctx context.Context, partition string) error {
	_, err := d.DB.Collection(partition).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: chatmodel.MsgFieldConversationID, Value: 1},
				{Key: chatmodel.MsgFieldSeq, Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_conversation_seq"),
		},
		{
			Keys:    bson.D{{Key: chatmodel.MsgFieldCreatedAt, Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
		{
			Keys:    bson.D{{Key: chatmodel.MsgFieldClientMsgID, Value: 1}},
			Options: options.Index().SetName("idx_client_msg_id"),
		},
		{
			Keys: bson.D{
				{Key: chatmodel.MsgFieldFromUserID, Value: 1},
				{Key: chatmodel.MsgFieldCreatedAt, Value: -1},
			},
			Options: options.Index().SetName("idx_from_user_time"),
		},
	})
	return err
}
