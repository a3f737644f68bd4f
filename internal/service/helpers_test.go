package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/als-computing/splash-server/internal/store"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type testUser string

func (u testUser) PrincipalID() string { return string(u) }

// tickingClock advances one second per reading.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *tickingClock {
	return &tickingClock{t: time.Date(2021, 1, 5, 19, 15, 53, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(time.Second)
	return t
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func newBase(t *testing.T, opts ...Option) (*BaseService, *store.MemoryCollection) {
	t.Helper()
	col := store.NewMemoryCollection("elves")
	opts = append([]Option{WithClock(newClock().Now)}, opts...)
	svc, err := NewBaseService(context.Background(), col, DefaultIndexes(), opts...)
	require.NoError(t, err)
	return svc, col
}

func newVersioned(t *testing.T, history store.Collection) (*VersionedService, *store.MemoryCollection) {
	t.Helper()
	col := store.NewMemoryCollection("elves")
	if history == nil {
		history = store.NewMemoryCollection("elves" + HistorySuffix)
	}
	svc, err := NewVersionedService(context.Background(), col, history, DefaultIndexes(), WithClock(newClock().Now))
	require.NoError(t, err)
	return svc, col
}

// failingInserts wraps a collection and rejects every insert.
type failingInserts struct {
	store.Collection
}

func (f failingInserts) InsertOne(ctx context.Context, doc interface{}) error {
	return errors.New("disk full")
}

func celebrimbor() bson.M {
	return bson.M{"name": "Celebrimbor", "Occupation": "Ringmaker"}
}
