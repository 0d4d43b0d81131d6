package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
)

type mongoChange struct {
	FullDocument      *domain.FeedbackRecord `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
	OperationType string `bson:"operationType"`
}

// MongoChangeFeed streams state changes from both partition collections
// through a database change stream.
type MongoChangeFeed struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoChangeFeed builds a feed over the feedback database.
func NewMongoChangeFeed(db *mongo.Database, logger *zap.Logger) *MongoChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoChangeFeed{db: db, logger: logger}
}

// Watch opens the change stream until ctx is done.
func (f *MongoChangeFeed) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	collections := bson.A{}
	for _, p := range domain.Partitions() {
		collections = append(collections, MongoCollection(p))
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"update", "replace"}}}},
		{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: collections}}},
	}}}}
	stream, err := f.db.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var change mongoChange
			if err := stream.Decode(&change); err != nil {
				f.logger.Warn("malformed change stream event", zap.Error(err))
				continue
			}
			if change.FullDocument == nil || !stateChanged(change) {
				continue
			}
			doc := change.FullDocument
			partition, err := domain.PartitionOf(doc.ID)
			if err != nil {
				continue
			}
			evt := ChangeEvent{
				ID:         doc.ID,
				Partition:  partition,
				Status:     doc.Status,
				DeptStatus: domain.DeptStatusFromPtr(doc.DeptStatus),
				Department: doc.Department,
				UpdatedAt:  doc.UpdatedAt,
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			f.logger.Error("change stream closed", zap.Error(err))
		}
	}()
	return out, nil
}

func stateChanged(change mongoChange) bool {
	if change.OperationType == "replace" {
		return true
	}
	_, status := change.UpdateDescription.UpdatedFields["status"]
	_, dept := change.UpdateDescription.UpdatedFields["deptStatus"]
	return status || dept
}
