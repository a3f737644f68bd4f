package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/als-computing/splash-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestCreatePopulatesMetadata(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)

	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)
	require.NotEmpty(t, ack.UID)
	assert.Equal(t, NoPrincipal, ack.Metadata.Creator)
	assert.Equal(t, ack.Metadata.CreateDate, ack.Metadata.LastEdit)
	assert.Empty(t, ack.Metadata.EditRecord)
	assert.NotEmpty(t, ack.Metadata.Etag)
	assert.Nil(t, ack.Metadata.Archived)
	assert.Nil(t, ack.Metadata.Version)

	ack2, err := svc.Create(ctx, testUser("elrond"), celebrimbor())
	require.NoError(t, err)
	assert.Equal(t, "elrond", ack2.Metadata.Creator)
	assert.NotEqual(t, ack.Metadata.Etag, ack2.Metadata.Etag)
	assert.NotEqual(t, ack.UID, ack2.UID)

	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Equal(t, ack.UID, doc.UID)
	assert.Equal(t, ack.Metadata, doc.Metadata)
	assert.Equal(t, bson.M{"name": "Celebrimbor", "Occupation": "Ringmaker"}, doc.Body)
}

func TestCreateKeepsUnprotectedMetadata(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)

	ack, err := svc.Create(ctx, nil, bson.M{
		"name":      "Galadriel",
		"splash_md": bson.M{"mutable_field": "test_value", "archived": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "test_value", ack.Metadata.Extra["mutable_field"])
	// archiving goes through ArchiveAction only
	assert.Nil(t, ack.Metadata.Archived)

	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Equal(t, "test_value", doc.Metadata.Extra["mutable_field"])
	assert.False(t, doc.Metadata.IsArchived())
	_, hasMD := doc.Body[FieldMetadata]
	assert.False(t, hasMD)
}

func TestCreateRejectsUID(t *testing.T) {
	svc, col := newBase(t)
	_, err := svc.Create(context.Background(), nil, bson.M{"uid": "mine", "name": "Elrond"})
	require.ErrorIs(t, err, ErrUIDPresent)
	assert.Equal(t, 0, col.Len())
}

func TestImmutableFieldRejection(t *testing.T) {
	ctx := context.Background()
	for _, field := range baseProtected {
		t.Run(field, func(t *testing.T) {
			svc, col := newBase(t)
			_, err := svc.Create(ctx, nil, bson.M{"name": "x", "splash_md": bson.M{field: "v"}})
			var immutable *ImmutableMetadataFieldError
			require.ErrorAs(t, err, &immutable)
			assert.Equal(t, field, immutable.Field)
			assert.Equal(t, 0, col.Len())

			ack, err := svc.Create(ctx, nil, bson.M{"name": "x"})
			require.NoError(t, err)
			before, err := svc.RetrieveOne(ctx, nil, ack.UID)
			require.NoError(t, err)

			_, err = svc.Update(ctx, nil, bson.M{"name": "y", "splash_md": bson.M{field: "v"}}, ack.UID, "")
			require.ErrorAs(t, err, &immutable)
			assert.Equal(t, field, immutable.Field)

			after, err := svc.RetrieveOne(ctx, nil, ack.UID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestImmutableFieldOrder(t *testing.T) {
	svc, _ := newBase(t)
	_, err := svc.Create(context.Background(), nil, bson.M{"splash_md": bson.M{"etag": "e", "creator": "c"}})
	var immutable *ImmutableMetadataFieldError
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, "creator", immutable.Field)
	assert.Equal(t, "Cannot mutate field: `creator` in `splash_md`", err.Error())
}

func TestUpdateEtagPrecondition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)
	e1 := ack.Metadata.Etag

	upd, err := svc.Update(ctx, testUser("elrond"), bson.M{"name": "Celebrimbor", "Occupation": "Smith"}, ack.UID, e1)
	require.NoError(t, err)
	e2 := upd.Metadata.Etag
	require.NotEqual(t, e1, e2)
	assert.True(t, upd.Metadata.LastEdit.After(upd.Metadata.CreateDate))

	before, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)

	_, err = svc.Update(ctx, nil, bson.M{"name": "Annatar"}, ack.UID, e1)
	var mismatch *EtagMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, e2, mismatch.CurrentEtag)
	assert.Equal(t, before.Metadata, mismatch.CurrentMetadata)

	after, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "Smith", after.Body["Occupation"])
}

func TestUpdateWithoutEtag(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)

	upd, err := svc.Update(ctx, nil, bson.M{"name": "Celebrimbor"}, ack.UID, "")
	require.NoError(t, err)
	assert.Equal(t, ack.Metadata.CreateDate, upd.Metadata.CreateDate)
	assert.Equal(t, ack.Metadata.Creator, upd.Metadata.Creator)

	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	_, ok := doc.Body["Occupation"]
	assert.False(t, ok, "update replaces the body")
}

func TestUpdateMissingDocument(t *testing.T) {
	svc, _ := newBase(t)
	_, err := svc.Update(context.Background(), nil, bson.M{"name": "x"}, "nope", "")
	require.ErrorIs(t, err, ErrObjectNotFound)

	_, err = svc.RetrieveOne(context.Background(), nil, "nope")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestEditRecordMonotonicity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)

	actors := []Principal{testUser("elrond"), testUser("galadriel"), nil, testUser("")}
	etag := ack.Metadata.Etag
	for _, a := range actors {
		upd, err := svc.Update(ctx, a, celebrimbor(), ack.UID, etag)
		require.NoError(t, err)
		etag = upd.Metadata.Etag
	}

	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	rec := doc.Metadata.EditRecord
	require.Len(t, rec, len(actors))
	assert.Equal(t, []string{"elrond", "galadriel", NoPrincipal, NoPrincipal},
		[]string{rec[0].User, rec[1].User, rec[2].User, rec[3].User})
	for i := 1; i < len(rec); i++ {
		assert.False(t, rec[i].Date.Before(rec[i-1].Date))
	}
	assert.Equal(t, rec[len(rec)-1].Date, doc.Metadata.LastEdit)
}

func TestUpdatePreservesUnprotectedMetadata(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, bson.M{"splash_md": bson.M{"mutable_field": "a"}})
	require.NoError(t, err)

	upd, err := svc.Update(ctx, nil, bson.M{"splash_md": bson.M{"other": "b", "archived": true}}, ack.UID, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"mutable_field": "a", "other": "b"}, upd.Metadata.Extra)
	assert.Nil(t, upd.Metadata.Archived)
}

func TestConcurrentUpdatesWithSameEtag(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, nil, bson.M{"writer": i}, ack.UID, ack.Metadata.Etag)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var mismatch *EtagMismatchError
		require.ErrorAs(t, err, &mismatch)
	}
	assert.Equal(t, 1, ok)
	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Len(t, doc.Metadata.EditRecord, 1)
}

func TestArchiveAndRestore(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)
	original, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)

	_, err = svc.ArchiveAction(ctx, nil, "delete", ack.UID, "")
	require.ErrorIs(t, err, ErrBadArchiveAction)
	_, err = svc.ArchiveAction(ctx, nil, Archive, "nope", "")
	require.ErrorIs(t, err, ErrObjectNotFound)

	_, err = svc.ArchiveAction(ctx, nil, Restore, ack.UID, "")
	require.ErrorIs(t, err, ErrRestoreConflict)

	archived, err := svc.ArchiveAction(ctx, nil, Archive, ack.UID, ack.Metadata.Etag)
	require.NoError(t, err)
	require.True(t, archived.Metadata.IsArchived())

	listed, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1})
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = svc.RetrieveArchived(ctx, nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	include := false
	listed, err = svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1, ExcludeArchived: &include})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = svc.ArchiveAction(ctx, nil, Archive, ack.UID, "")
	require.ErrorIs(t, err, ErrArchiveConflict)
	still, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Equal(t, archived.Metadata.Etag, still.Metadata.Etag)

	// stale etag on the archive path reports the current state
	_, err = svc.ArchiveAction(ctx, nil, Restore, ack.UID, ack.Metadata.Etag)
	var mismatch *EtagMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.CurrentMetadata.IsArchived())

	restored, err := svc.ArchiveAction(ctx, nil, Restore, ack.UID, archived.Metadata.Etag)
	require.NoError(t, err)
	assert.False(t, restored.Metadata.IsArchived())

	doc, err := svc.RetrieveOne(ctx, nil, ack.UID)
	require.NoError(t, err)
	assert.Equal(t, original.Body, doc.Body)
	assert.Len(t, doc.Metadata.EditRecord, 2)
	archivedArchive, err := svc.RetrieveArchived(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, archivedArchive)
}

func TestRetrieveMultipleOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)
	var uids []string
	for _, n := range []string{"Celebrimbor", "Legolas", "Galadriel", "Elrond", "Amroth"} {
		ack, err := svc.Create(ctx, nil, bson.M{"name": n})
		require.NoError(t, err)
		uids = append(uids, ack.UID)
	}

	page1, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, uids[4], page1[0].UID)
	assert.Equal(t, uids[3], page1[1].UID)

	page3, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Equal(t, uids[0], page3[0].UID)

	all, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	byName, err := svc.RetrieveMultiple(ctx, nil, ListOptions{
		Page:  1,
		Sort:  store.Sort{{Field: "name", Direction: 1}},
		Query: bson.M{"name": bson.M{"$ne": "Amroth"}},
	})
	require.NoError(t, err)
	var names []interface{}
	for _, d := range byName {
		names = append(names, d.Body["name"])
	}
	assert.Equal(t, []interface{}{"Celebrimbor", "Elrond", "Galadriel", "Legolas"}, names)
}

func TestRetrieveMultipleTiesBrokenByUID(t *testing.T) {
	ctx := context.Background()
	col := store.NewMemoryCollection("elves")
	frozen := newClock().Now()
	svc, err := NewBaseService(ctx, col, DefaultIndexes(),
		WithClock(func() time.Time { return frozen }),
		WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)

	var uids []string
	for i := 0; i < 3; i++ {
		ack, err := svc.Create(ctx, nil, bson.M{"n": i})
		require.NoError(t, err)
		uids = append(uids, ack.UID)
	}
	docs, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{uids[2], uids[1], uids[0]}, []string{docs[0].UID, docs[1].UID, docs[2].UID})
}

func TestRetrieveMultipleArguments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBase(t)

	cases := []struct {
		name string
		opts ListOptions
		want error
	}{
		{"page zero", ListOptions{Page: 0}, ErrBadPageArgument},
		{"negative page", ListOptions{Page: -1}, ErrBadPageArgument},
		{"negative page size", ListOptions{Page: 1, PageSize: -5}, ErrBadPageSizeArgument},
		{"empty sort field", ListOptions{Page: 1, Sort: store.Sort{{Field: "", Direction: 1}}}, ErrBadSortArgument},
		{"bad direction", ListOptions{Page: 1, Sort: store.Sort{{Field: "name", Direction: 2}}}, ErrBadSortArgument},
		{"collation without locale", ListOptions{Page: 1, Collation: &options.Collation{Strength: 2}}, ErrBadCollationArgument},
		{"collation strength", ListOptions{Page: 1, Collation: &options.Collation{Locale: "en_US", Strength: 9}}, ErrBadCollationArgument},
		{"collation without strength", ListOptions{Page: 1, Collation: &options.Collation{Locale: "en_US"}}, ErrBadCollationArgument},
		{"skip overflows", ListOptions{Page: 1<<62 + 1, PageSize: 10}, ErrBadPageArgument},
		{"skip overflows default size", ListOptions{Page: math.MaxInt64/DefaultPageSize + 2}, ErrBadPageArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RetrieveMultiple(ctx, nil, tc.opts)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: 1, Collation: &options.Collation{Locale: "en_US", Strength: 1}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)
	docs, err := svc.RetrieveMultiple(ctx, nil, ListOptions{Page: math.MaxInt64/DefaultPageSize + 1})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, col := newBase(t)
	ack, err := svc.Create(ctx, nil, celebrimbor())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, nil, ack.UID))
	assert.Equal(t, 0, col.Len())
	require.ErrorIs(t, svc.Delete(ctx, nil, ack.UID), ErrObjectNotFound)
}

func TestStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	col := failingInserts{Collection: store.NewMemoryCollection("elves")}
	svc, err := NewBaseService(ctx, col, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, nil, celebrimbor())
	require.Error(t, err)
	assert.Equal(t, "internal", Code(err))
}
