package config

import (
	"context"
	"errors"
	"time"

	mongorepo "github.com/Rogrei/diagnostik-chat/internal/repositories/mongo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs := MongoDatabase().Collection(mongorepo.TranscriptionRunsCollection)
	_, err := runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// TTL index: expire at expires_at (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_run_id").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "interview_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("by_interview_created"),
		},
	})
	return err
}
