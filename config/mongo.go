package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

// InitMongo connects to MONGO_URI for the transcription run log. It returns
// ErrNotConfigured when MONGO_URI is unset.
func InitMongo() error {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetMaxPoolSize(10).
		SetMinPoolSize(1)

	// Atlas clusters behind some proxies only negotiate TLS 1.2.
	if os.Getenv("MONGO_FORCE_TLS_CONFIG") == "true" {
		clientOpts = clientOpts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: os.Getenv("MONGO_INSECURE_TLS") == "true",
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	MongoClient = client
	return nil
}

func MongoDatabase() *mongo.Database {
	return MongoClient.Database(getenv("MONGO_DB", "diagnostik_chat"))
}
