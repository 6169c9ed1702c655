package retention

import (
	chatmodel "IMStore/module/msg/model"
	"IMStore/module/msg/router"
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	DB *mongo.Database
	// 归档 TTL 秒数；建归档分区时挂在 archived_at 上
	ArchiveTTL time.Duration
}

func NewMongoDB(db *mongo.Database, archiveTTL time.Duration) *MongoDB {
	return &MongoDB{DB: db, ArchiveTTL: archiveTTL}
}

func (d *MongoDB) ListOlderThan(ctx context.Context, partition string, cutoff time.Time, limit int64) ([]*chatmodel.MessageModel, error) {
	filter := bson.M{chatmodel.MsgFieldCreatedAt: bson.M{"$lt": cutoff}}
	opts := options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldCreatedAt, Value: 1}})
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

func (d *MongoDB) InsertArchive(ctx context.Context, partition string, rec *chatmodel.ArchiveRecord) (bool, error) {
	_, err := d.DB.Collection(partition).InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *MongoDB) DeleteByIDs(ctx context.Context, partition string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := d.DB.Collection(partition).DeleteMany(ctx,
		bson.M{chatmodel.MsgFieldMessageID: bson.M{"$in": messageIDs}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (d *MongoDB) DeleteOlderThan(ctx context.Context, partition, timeField string, cutoff time.Time) (int64, error) {
	res, err := d.DB.Collection(partition).DeleteMany(ctx,
		bson.M{timeField: bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (d *MongoDB) ListPartitions(ctx context.Context, prefix string) ([]string, error) {
	names, err := d.DB.ListCollectionNames(ctx, bson.M{
		"name": bson.M{"$regex": "^" + prefix},
	})
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// EnsurePartition 建集合（已存在吞掉 NamespaceExists）并挂索引。
// 索引按前缀区分：归档分区带 message_id 唯一键 + archived_at TTL，
// 其余时间桶只建 timestamp 索引。
func (d *MongoDB) EnsurePartition(ctx context.Context, partition string) error {
	if err := d.DB.CreateCollection(ctx, partition); err != nil {
		var cmdErr mongo.CommandError
		if !(errors.As(err, &cmdErr) && cmdErr.Code == 48) { // 48 = NamespaceExists
			return err
		}
	}
	coll := d.DB.Collection(partition)
	switch {
	case strings.HasPrefix(partition, router.PrefixArchive):
		ttl := int32(d.ArchiveTTL / time.Second)
		_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: chatmodel.MsgFieldMessageID, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("idx_archive_message_id"),
			},
			{
				Keys:    bson.D{{Key: chatmodel.ArchiveFieldArchivedAt, Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(ttl).SetName("idx_archive_ttl"),
			},
			{
				Keys: bson.D{
					{Key: chatmodel.MsgFieldConversationID, Value: 1},
					{Key: chatmodel.MsgFieldSeq, Value: 1},
				},
				Options: options.Index().SetName("idx_archive_conv_seq"),
			},
		})
		return err
	case strings.HasPrefix(partition, router.PrefixPresence),
		strings.HasPrefix(partition, router.PrefixPerformance),
		strings.HasPrefix(partition, router.PrefixAudit):
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: chatmodel.HistoryFieldTimestamp, Value: 1}},
			Options: options.Index().SetName("idx_ts"),
		})
		return err
	default:
		// 消息热分区的索引由 store 侧 EnsureIndexes 负责
		return nil
	}
}

func (d *MongoDB) DropPartition(ctx context.Context, partition string) error {
	return d.DB.Collection(partition).Drop(ctx)
}
