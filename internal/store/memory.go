package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type memEntry struct {
	raw bson.Raw
	doc bson.M
}

// MemoryCollection is an in-memory Collection used by unit tests and by
// the server when no Mongo URI is configured. It understands the subset of
// the Mongo query language the services emit (see matches) and enforces
// unique indexes.
type MemoryCollection struct {
	name string

	mu      sync.RWMutex
	entries []*memEntry
	unique  [][]string
}

func NewMemoryCollection(name string) *MemoryCollection {
	return &MemoryCollection{name: name}
}

func (m *MemoryCollection) Name() string { return m.name }

// Len reports the number of stored documents.
func (m *MemoryCollection) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func toEntry(doc interface{}) (*memEntry, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var d bson.M
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	if _, ok := d["_id"]; ok {
		delete(d, "_id")
		if raw, err = bson.Marshal(d); err != nil {
			return nil, err
		}
	}
	return &memEntry{raw: raw, doc: d}, nil
}

func copyRaw(r bson.Raw) bson.Raw {
	out := make(bson.Raw, len(r))
	copy(out, r)
	return out
}

// uniqueKey renders the values of an index's fields as a comparable string.
func uniqueKey(doc bson.M, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		vals := lookup(doc, f)
		if len(vals) == 0 {
			parts = append(parts, "null")
			continue
		}
		parts = append(parts, keyString(vals[0]))
	}
	return strings.Join(parts, "\x00")
}

// checkUnique must be called with the lock held. skip is the entry being
// replaced, if any.
func (m *MemoryCollection) checkUnique(e *memEntry, skip *memEntry) error {
	for _, fields := range m.unique {
		k := uniqueKey(e.doc, fields)
		for _, other := range m.entries {
			if other == skip {
				continue
			}
			if uniqueKey(other.doc, fields) == k {
				return fmt.Errorf("%s: %w on %v", m.name, ErrDuplicateKey, fields)
			}
		}
	}
	return nil
}

func (m *MemoryCollection) InsertOne(ctx context.Context, doc interface{}) error {
	e, err := toEntry(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(e, nil); err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryCollection) FindOne(ctx context.Context, filter bson.M) (bson.Raw, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if matches(e.doc, filter) {
			return copyRaw(e.raw), nil
		}
	}
	return nil, ErrNoDocuments
}

func (m *MemoryCollection) Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.Raw, error) {
	m.mu.RLock()
	found := []*memEntry{}
	for _, e := range m.entries {
		if matches(e.doc, filter) {
			found = append(found, e)
		}
	}
	m.mu.RUnlock()

	fold := opts.Collation != nil && opts.Collation.Strength > 0 && opts.Collation.Strength <= 2
	if len(opts.Sort) > 0 {
		sort.SliceStable(found, func(i, j int) bool {
			for _, f := range opts.Sort {
				c := compareValues(first(lookup(found[i].doc, f.Field)), first(lookup(found[j].doc, f.Field)), fold)
				if c == 0 {
					continue
				}
				if f.Direction < 0 {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= int64(len(found)) {
			found = nil
		} else {
			found = found[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(found)) > opts.Limit {
		found = found[:opts.Limit]
	}
	out := make([]bson.Raw, 0, len(found))
	for _, e := range found {
		out = append(out, copyRaw(e.raw))
	}
	return out, nil
}

func (m *MemoryCollection) ReplaceOne(ctx context.Context, filter bson.M, doc interface{}) (int64, error) {
	e, err := toEntry(doc)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, old := range m.entries {
		if !matches(old.doc, filter) {
			continue
		}
		if err := m.checkUnique(e, old); err != nil {
			return 0, err
		}
		m.entries[i] = e
		return 1, nil
	}
	return 0, nil
}

func (m *MemoryCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if matches(e.doc, filter) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// CreateIndexes records unique indexes; other index kinds only matter to a
// real server and are accepted silently.
func (m *MemoryCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, im := range models {
		if im.Options == nil || im.Options.Unique == nil || !*im.Options.Unique {
			continue
		}
		keys, ok := im.Keys.(bson.D)
		if !ok {
			return fmt.Errorf("%s: index keys must be bson.D, got %T", m.name, im.Keys)
		}
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, k.Key)
		}
		if m.hasUnique(fields) {
			continue
		}
		m.unique = append(m.unique, fields)
	}
	return nil
}

func (m *MemoryCollection) hasUnique(fields []string) bool {
	want := strings.Join(fields, ",")
	for _, u := range m.unique {
		if strings.Join(u, ",") == want {
			return true
		}
	}
	return false
}
