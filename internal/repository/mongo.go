package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/feedback-service/internal/domain"
)

type mongoFeedbackRepository struct {
	coll      *mongo.Collection
	partition domain.Partition
}

// NewMongoFeedbackRepository stores one partition in its own collection.
func NewMongoFeedbackRepository(db *mongo.Database, partition domain.Partition) FeedbackRepository {
	return &mongoFeedbackRepository{coll: db.Collection(MongoCollection(partition)), partition: partition}
}

// MongoCollection returns the collection backing a partition.
func MongoCollection(p domain.Partition) string {
	if p == domain.PartitionInternal {
		return "internalFeedback"
	}
	return "externalFeedback"
}

// EnsureMongoIndexes creates the indexes used by listings and the retry sweep.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "sentimentStatus", Value: 1}, {Key: "sentimentAttempts", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "deptStatus", Value: 1}, {Key: "department", Value: 1}}},
	}
	for _, p := range domain.Partitions() {
		if _, err := db.Collection(MongoCollection(p)).Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (r *mongoFeedbackRepository) Partition() domain.Partition { return r.partition }

func (r *mongoFeedbackRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func (r *mongoFeedbackRepository) Create(ctx context.Context, rec *domain.FeedbackRecord) error {
	doc := *rec
	if doc.ActionHistory == nil {
		doc.ActionHistory = []domain.AuditEntry{}
	}
	_, err := r.coll.InsertOne(ctx, &doc)
	return err
}

func (r *mongoFeedbackRepository) GetByID(ctx context.Context, id string) (*domain.FeedbackRecord, error) {
	var rec domain.FeedbackRecord
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *mongoFeedbackRepository) List(ctx context.Context, filter Filter) ([]domain.FeedbackRecord, error) {
	query := bson.D{}
	if filter.States != nil {
		if len(filter.States) == 0 {
			return nil, nil
		}
		pairs := bson.A{}
		for _, s := range filter.States {
			pairs = append(pairs, stateMatch(s))
		}
		query = append(query, bson.E{Key: "$or", Value: pairs})
	}
	if filter.Department != nil {
		query = append(query, bson.E{Key: "department", Value: *filter.Department})
	}
	if filter.Sentiment != nil {
		query = append(query, bson.E{Key: "sentiment", Value: *filter.Sentiment})
	}
	if filter.SentimentStatus != nil {
		query = append(query, bson.E{Key: "sentimentStatus", Value: *filter.SentimentStatus})
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	return r.find(ctx, query, opts)
}

func (r *mongoFeedbackRepository) ApplyTransition(ctx context.Context, id string, from domain.State, patch TransitionPatch, entry domain.AuditEntry) (bool, error) {
	set := bson.D{
		{Key: "status", Value: patch.To.Status()},
		{Key: "deptStatus", Value: patch.To.DeptStatus().Ptr()},
		{Key: "updatedAt", Value: patch.UpdatedAt},
	}
	if patch.Department != nil {
		set = append(set, bson.E{Key: "department", Value: *patch.Department})
	}
	if patch.ReportDetails != nil {
		set = append(set, bson.E{Key: "reportDetails", Value: *patch.ReportDetails})
	}
	if patch.ReportCreatedAt != nil {
		set = append(set, bson.E{Key: "reportCreatedAt", Value: *patch.ReportCreatedAt})
	}
	if patch.FinalActionDescription != nil {
		set = append(set, bson.E{Key: "finalActionDescription", Value: *patch.FinalActionDescription})
	}
	if patch.RevisionNotes != nil {
		set = append(set, bson.E{Key: "revisionNotes", Value: *patch.RevisionNotes})
	}
	if patch.AdminNotes != nil {
		set = append(set, bson.E{Key: "adminNotes", Value: *patch.AdminNotes})
	}

	filter := append(bson.D{{Key: "_id", Value: id}}, stateMatch(from)...)
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$push", Value: bson.D{{Key: "actionHistory", Value: entry}}},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoFeedbackRepository) ApplyEdit(ctx context.Context, id string, patch EditPatch, entry domain.AuditEntry) (bool, error) {
	set := bson.D{{Key: "updatedAt", Value: patch.UpdatedAt}}
	if patch.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *patch.Description})
	}
	if patch.FeedbackType != nil {
		set = append(set, bson.E{Key: "feedbackType", Value: *patch.FeedbackType})
	}
	if patch.Department != nil {
		set = append(set, bson.E{Key: "department", Value: *patch.Department})
	}
	if patch.ReportDetails != nil {
		set = append(set, bson.E{Key: "reportDetails", Value: *patch.ReportDetails})
	}
	if patch.Sentiment != nil {
		set = append(set,
			bson.E{Key: "sentiment", Value: *patch.Sentiment},
			bson.E{Key: "sentimentStatus", Value: domain.SentimentStatusCompleted},
			bson.E{Key: "sentimentError", Value: nil},
		)
	}

	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "deptStatus", Value: bson.D{{Key: "$nin", Value: bson.A{domain.DeptStatusApproved, domain.DeptStatusNoActionNeeded}}}},
	}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$push", Value: bson.D{{Key: "actionHistory", Value: entry}}},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoFeedbackRepository) ListRetryEligible(ctx context.Context, maxAttempts, limit int) ([]domain.FeedbackRecord, error) {
	query := bson.D{
		{Key: "sentimentStatus", Value: domain.SentimentStatusPending},
		{Key: "sentimentAttempts", Value: bson.D{{Key: "$lt", Value: maxAttempts}}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, query, opts)
}

func (r *mongoFeedbackRepository) CompleteSentiment(ctx context.Context, id string, sentiment domain.Sentiment, at time.Time) (bool, error) {
	filter := bson.D{{Key: "_id", Value: id}, {Key: "sentimentStatus", Value: domain.SentimentStatusPending}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "sentiment", Value: sentiment},
			{Key: "sentimentStatus", Value: domain.SentimentStatusCompleted},
			{Key: "sentimentError", Value: nil},
			{Key: "updatedAt", Value: at},
		}},
		{Key: "$inc", Value: bson.D{{Key: "sentimentAttempts", Value: 1}}},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *mongoFeedbackRepository) RecordSentimentFailure(ctx context.Context, id string, reason string, maxAttempts int, at time.Time) (SentimentFailure, error) {
	next := bson.D{{Key: "$add", Value: bson.A{"$sentimentAttempts", 1}}}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "sentimentAttempts", Value: next},
		{Key: "sentimentStatus", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$gte", Value: bson.A{next, maxAttempts}}},
			string(domain.SentimentStatusFailed),
			string(domain.SentimentStatusPending),
		}}}},
		{Key: "sentimentError", Value: reason},
		{Key: "updatedAt", Value: at},
	}}}}

	filter := bson.D{{Key: "_id", Value: id}, {Key: "sentimentStatus", Value: domain.SentimentStatusPending}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var rec domain.FeedbackRecord
	err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return SentimentFailure{}, ErrNotFound
	}
	if err != nil {
		return SentimentFailure{}, err
	}
	return SentimentFailure{Attempts: rec.SentimentAttempts, Status: rec.SentimentStatus}, nil
}

func (r *mongoFeedbackRepository) find(ctx context.Context, query bson.D, opts *options.FindOptions) ([]domain.FeedbackRecord, error) {
	cursor, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []domain.FeedbackRecord
	if err := cursor.All(ctx, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func stateMatch(s domain.State) bson.D {
	return bson.D{
		{Key: "status", Value: s.Status()},
		{Key: "deptStatus", Value: s.DeptStatus().Ptr()},
	}
}
