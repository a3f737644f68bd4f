package database

import (
	"context"
	"testing"
	"time"

	"github.com/als-computing/splash-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.MongoDB.InMemory = true

	src, err := Open(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, src.InMemory())
	require.NoError(t, src.Ping(ctx))

	require.NoError(t, src.Collection("pages").InsertOne(ctx, bson.M{"uid": "p1"}))
	_, err = src.Collection("pages").FindOne(ctx, bson.M{"uid": "p1"})
	require.NoError(t, err, "collections with the same name share documents")
	_, err = src.Collection("teams").FindOne(ctx, bson.M{"uid": "p1"})
	require.Error(t, err)

	require.NoError(t, src.Close(ctx))
}

func TestConnectMongoHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ConnectMongo(ctx, "mongodb://127.0.0.1:1", 50*time.Millisecond)
	require.Error(t, err)
}
