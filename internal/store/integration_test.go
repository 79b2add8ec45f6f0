package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestRedisStore(t *testing.T) {
	uri := os.Getenv("TRIALGUARD_TEST_REDIS_URI")
	if uri == "" {
		t.Skip("TRIALGUARD_TEST_REDIS_URI not set")
	}
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	kv := NewRedisKV(client)
	kv.prefix = "trialtest:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, kv.prefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	exerciseStore(t, NewKVStore(kv))
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TRIALGUARD_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TRIALGUARD_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	db := client.Database("trialguard_test_" + uuid.NewString()[:8])
	t.Cleanup(func() { db.Drop(context.Background()) })

	s := NewMongoStore(db)
	require.NoError(t, s.EnsureIndexes(ctx))
	exerciseStore(t, s)
}
