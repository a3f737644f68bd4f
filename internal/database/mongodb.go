package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/als-computing/splash-server/internal/config"
	"github.com/als-computing/splash-server/internal/store"
	"github.com/als-computing/splash-server/pkg/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectAttempts = 5

// ConnectMongo opens a connection and returns the client, retrying while the
// server comes up. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client, err := connectOnce(ctx, uri, timeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		logger.Warnf("mongo connect attempt %d/%d failed: %v", attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func connectOnce(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// Source hands out collections, backed either by one MongoDB database or by
// process memory.
type Source struct {
	client *mongo.Client
	db     *mongo.Database

	mu     sync.Mutex
	memory map[string]*store.MemoryCollection
}

// Open connects according to cfg.MongoDB.
func Open(ctx context.Context, cfg *config.Config) (*Source, error) {
	if cfg.MongoDB.InMemory {
		logger.Warn("MONGODB_IN_MEMORY is set; data will not survive a restart")
		return NewMemorySource(), nil
	}
	client, err := ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
	if err != nil {
		return nil, err
	}
	return &Source{client: client, db: client.Database(cfg.MongoDB.Database)}, nil
}

func NewMemorySource() *Source {
	return &Source{memory: map[string]*store.MemoryCollection{}}
}

// InMemory reports whether collections live in process memory.
func (s *Source) InMemory() bool { return s.db == nil }

// Collection returns the named collection; repeated calls share state.
func (s *Source) Collection(name string) store.Collection {
	if s.db != nil {
		return store.NewMongoCollection(s.db.Collection(name))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.memory[name]
	if !ok {
		col = store.NewMemoryCollection(name)
		s.memory[name] = col
	}
	return col
}

// Ping checks the primary is reachable.
func (s *Source) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Source) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
