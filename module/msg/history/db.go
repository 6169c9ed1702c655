package history

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct{ DB *mongo.Database }

func NewMongoDB(db *mongo.Database) *MongoDB { return &MongoDB{DB: db} }

func (d *MongoDB) Insert(ctx context.Context, partition string, doc any) error {
	_, err := d.DB.Collection(partition).InsertOne(ctx, doc)
	return err
}

func (d *MongoDB) EnsurePartition(ctx context.Context, partition string) error {
	if err := d.DB.CreateCollection(ctx, partition); err != nil {
		var cmdErr mongo.CommandError
		if !(errors.As(err, &cmdErr) && cmdErr.Code == 48) { // 48 = NamespaceExists
			return err
		}
	}
	_, err := d.DB.Collection(partition).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: chatmodel.HistoryFieldTimestamp, Value: 1}},
		Options: options.Index().SetName("idx_ts"),
	})
	return err
}
