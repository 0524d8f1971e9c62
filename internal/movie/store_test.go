package movie_test

import (
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/internal/testutil"
	"github.com/hbomb79/Marquee/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

func TestUpsert_InsertsNewMovie(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	now := time.Now().UTC()
	release := time.Date(2021, time.March, 4, 0, 0, 0, 0, time.UTC)
	record := testutil.BaseRecord(10)
	record.ReleaseDate = &release
	require.NoError(t, store.Upsert(db, record, now))

	got, err := store.Get(db, 10)
	require.NoError(t, err)
	assert.Equal(t, record.Title, got.Title)
	assert.Equal(t, record.PosterPath, got.PosterPath)
	assert.Equal(t, record.BackdropPath, got.BackdropPath)
	assert.Equal(t, record.Synopsis, got.Synopsis)
	assert.InDelta(t, *record.Popularity, got.Popularity, 0.0001)
	assert.InDelta(t, *record.VoteAverage, got.VoteAverage, 0.0001)
	assert.Equal(t, *record.VoteCount, got.VoteCount)
	require.NotNil(t, got.ReleaseDate)
	assert.True(t, release.Equal(got.ReleaseDate.UTC()))
	assert.WithinDuration(t, now, got.ModifiedAt, time.Second)
	assert.False(t, got.HasExtendedData)
	assert.Empty(t, got.Reviews)
	assert.Empty(t, got.Videos)
	assert.False(t, got.IsFavorite)
}

func TestUpsert_RejectsInvalidRecords(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	tests := []struct {
		summary string
		record  *movie.Record
	}{
		{"zero id", &movie.Record{ID: 0, Title: "Valid"}},
		{"negative id", &movie.Record{ID: -4, Title: "Valid"}},
		{"empty title", &movie.Record{ID: 1, Title: ""}},
		{"whitespace title", &movie.Record{ID: 1, Title: "   "}},
		{"negative vote count", &movie.Record{ID: 1, Title: "Valid", VoteCount: testutil.Ptr(-1)}},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			err := store.Upsert(db, test.record, time.Now())
			assert.ErrorIs(t, err, movie.ErrInvalidMovie)
		})
	}

	exists, err := store.Exists(db, 1)
	require.NoError(t, err)
	assert.False(t, exists, "invalid records must never be persisted")
}

func TestUpsert_MergesProvidedFieldsOnly(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	original := testutil.BaseRecord(7)
	first := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Upsert(db, original, first))

	second := time.Now().UTC()
	sparse := &movie.Record{ID: 7, Title: "Renamed", VoteAverage: testutil.Ptr(9.1)}
	require.NoError(t, store.Upsert(db, sparse, second))

	got, err := store.Get(db, 7)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.InDelta(t, 9.1, got.VoteAverage, 0.0001)
	assert.Equal(t, original.PosterPath, got.PosterPath, "empty strings must not overwrite stored values")
	assert.Equal(t, original.Synopsis, got.Synopsis)
	assert.InDelta(t, *original.Popularity, got.Popularity, 0.0001)
	assert.Equal(t, *original.VoteCount, got.VoteCount)
	assert.WithinDuration(t, second, got.ModifiedAt, time.Second, "modified_at must always advance")
}

func TestUpsert_BaseRefreshPreservesExtendedData(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	detail := testutil.DetailRecord(3, 2, 1)
	require.NoError(t, store.Upsert(db, detail, time.Now()))

	require.NoError(t, store.Upsert(db, testutil.BaseRecord(3), time.Now()))

	got, err := store.Get(db, 3)
	require.NoError(t, err)
	assert.True(t, got.HasExtendedData)
	assert.Equal(t, detail.Extended.Reviews, got.Reviews)
	assert.Equal(t, detail.Extended.Videos, got.Videos)
}

func TestUpsert_ExtendedDataReplacedWholesale(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	require.NoError(t, store.Upsert(db, testutil.DetailRecord(5, 3, 3), time.Now()))

	replacement := testutil.DetailRecord(5, 1, 0)
	require.NoError(t, store.Upsert(db, replacement, time.Now()))

	got, err := store.Get(db, 5)
	require.NoError(t, err)
	assert.True(t, got.HasExtendedData)
	assert.Equal(t, replacement.Extended.Reviews, got.Reviews)
	assert.NotNil(t, got.Videos, "extended data fetched from the server must never be absent")
	assert.Empty(t, got.Videos)
}

func TestUpsert_NilExtendedSlicesStoredAsEmpty(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	record := testutil.BaseRecord(11)
	record.Extended = &movie.ExtendedData{}
	require.NoError(t, store.Upsert(db, record, time.Now()))

	got, err := store.Get(db, 11)
	require.NoError(t, err)
	assert.True(t, got.HasExtendedData)
	assert.NotNil(t, got.Reviews)
	assert.NotNil(t, got.Videos)
}

func TestGet_MissingMovie(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	got, err := store.Get(db, 999)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
}

func TestGetMany(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, store.Upsert(db, testutil.BaseRecord(id), time.Now()))
	}

	got, err := store.GetMany(db, []int64{1, 3, 4})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, int64(1))
	assert.Contains(t, got, int64(3))

	empty, err := store.GetMany(db, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteWhere(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDB(t).GetSqlxDb()
	store := &movie.Store{}

	for _, id := range []int64{1, 2, 3, 4} {
		require.NoError(t, store.Upsert(db, testutil.BaseRecord(id), time.Now()))
	}

	count, err := store.DeleteWhere(db, squirrel.Eq{"id": []int64{2, 4}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	for id, expected := range map[int64]bool{1: true, 2: false, 3: true, 4: false} {
		exists, err := store.Exists(db, id)
		require.NoError(t, err)
		assert.Equal(t, expected, exists, "movie %d", id)
	}
}
