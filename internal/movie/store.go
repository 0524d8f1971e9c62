package movie

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/pkg/logger"
)

var (
	ErrMovieNotFound = errors.New("movie does not exist")
	ErrInvalidMovie  = errors.New("movie record is invalid")
)

var log = logger.Get("MovieStore")

type (
	Store struct{}

	// upsertParams is the named-parameter form of a Record. Nil values
	// are bound as NULL, which the upsert treats as "keep existing".
	upsertParams struct {
		ID              int64                          `db:"id"`
		ModifiedAt      time.Time                      `db:"modified_at"`
		Title           string                         `db:"title"`
		PosterPath      *string                        `db:"poster_path"`
		BackdropPath    *string                        `db:"backdrop_path"`
		Synopsis        *string                        `db:"synopsis"`
		Popularity      *float64                       `db:"popularity"`
		VoteAverage     *float64                       `db:"vote_average"`
		VoteCount       *int                           `db:"vote_count"`
		ReleaseDate     *time.Time                     `db:"release_date"`
		HasExtendedData bool                           `db:"has_extended_data"`
		Reviews         *database.JsonColumn[[]Review] `db:"reviews"`
		Videos          *database.JsonColumn[[]Video]  `db:"videos"`
	}
)

// upsertQuery merges an incoming record over any existing row in a single
// statement. Title and modified_at always take the incoming value. Other
// base attributes only overwrite when provided. Extended data is replaced
// wholesale when the incoming record carries it, and is otherwise left
// untouched, so a base-only write can never clear previously fetched reviews
// or videos nor reset has_extended_data.
const upsertQuery = `
	INSERT INTO movies(id, modified_at, title, poster_path, backdrop_path, synopsis, popularity, vote_average, vote_count, release_date, has_extended_data, reviews, videos)
	VALUES (:id, :modified_at, :title, :poster_path, :backdrop_path, :synopsis, :popularity, :vote_average, :vote_count, :release_date, :has_extended_data, :reviews, :videos)
	ON CONFLICT(id) DO UPDATE SET
		modified_at       = excluded.modified_at,
		title             = excluded.title,
		poster_path       = COALESCE(excluded.poster_path, movies.poster_path),
		backdrop_path     = COALESCE(excluded.backdrop_path, movies.backdrop_path),
		synopsis          = COALESCE(excluded.synopsis, movies.synopsis),
		popularity        = COALESCE(excluded.popularity, movies.popularity),
		vote_average      = COALESCE(excluded.vote_average, movies.vote_average),
		vote_count        = COALESCE(excluded.vote_count, movies.vote_count),
		release_date      = COALESCE(excluded.release_date, movies.release_date),
		has_extended_data = (excluded.has_extended_data OR movies.has_extended_data),
		reviews           = CASE WHEN excluded.has_extended_data THEN excluded.reviews ELSE movies.reviews END,
		videos            = CASE WHEN excluded.has_extended_data THEN excluded.videos ELSE movies.videos END
`

// Validate checks the record may be admitted to the cache: it must
// have a positive ID, a non-empty title and a non-negative vote count.
func (record *Record) Validate() error {
	if record.ID <= 0 {
		return fmt.Errorf("%w: id %d is not positive", ErrInvalidMovie, record.ID)
	}
	if strings.TrimSpace(record.Title) == "" {
		return fmt.Errorf("%w: movie %d has an empty title", ErrInvalidMovie, record.ID)
	}
	if record.VoteCount != nil && *record.VoteCount < 0 {
		return fmt.Errorf("%w: movie %d has negative vote count", ErrInvalidMovie, record.ID)
	}

	return nil
}

// Upsert inserts the record if no movie with the same ID exists, otherwise
// the record is merged over the existing row. modified_at is always advanced to 'now'.
func (store *Store) Upsert(db database.Queryable, record *Record, now time.Time) error {
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := db.NamedExec(upsertQuery, recordToParams(record, now)); err != nil {
		return fmt.Errorf("failed to upsert movie %d: %w", record.ID, err)
	}

	return nil
}

func (store *Store) Get(db database.Queryable, id int64) (*Movie, error) {
	query, args, err := selectMovieBuilder().Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select movie query: %w", err)
	}

	var model movieModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("movie %d: %w", id, ErrMovieNotFound)
		}

		return nil, fmt.Errorf("failed to select movie %d: %w", id, err)
	}

	return modelToMovie(&model), nil
}

// GetMany returns the movies matching the IDs provided, keyed by ID. IDs
// which do not match a cached movie are absent from the result.
func (store *Store) GetMany(db database.Queryable, ids []int64) (map[int64]*Movie, error) {
	output := make(map[int64]*Movie, len(ids))
	if len(ids) == 0 {
		return output, nil
	}

	query, args, err := selectMovieBuilder().Where(squirrel.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select movies query: %w", err)
	}

	var results []movieModel
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select movies: %w", err)
	}

	for k := range results {
		movie := modelToMovie(&results[k])
		output[movie.ID] = movie
	}

	return output, nil
}

func (store *Store) Exists(db database.Queryable, id int64) (bool, error) {
	var count int
	if err := db.Get(&count, db.Rebind(`SELECT COUNT(*) FROM movies WHERE id=?`), id); err != nil {
		return false, fmt.Errorf("failed to check existence of movie %d: %w", id, err)
	}

	return count > 0, nil
}

// DeleteWhere removes every movie matching the predicate provided,
// returning the number of movies deleted. Membership rows referencing
// a deleted movie are removed by the cascading foreign key.
func (store *Store) DeleteWhere(db database.Queryable, predicate squirrel.Sqlizer) (int64, error) {
	query, args, err := squirrel.Delete("movies").Where(predicate).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to construct delete movies query: %w", err)
	}

	res, err := db.Exec(db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete movies: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	log.Emit(logger.REMOVE, "Deleted %d movie(s)\n", count)
	return count, nil
}

func selectMovieBuilder() squirrel.SelectBuilder {
	return squirrel.Select(
		"id",
		"modified_at",
		"title",
		"COALESCE(poster_path, '') AS poster_path",
		"COALESCE(backdrop_path, '') AS backdrop_path",
		"COALESCE(synopsis, '') AS synopsis",
		"COALESCE(popularity, 0) AS popularity",
		"COALESCE(vote_average, 0) AS vote_average",
		"COALESCE(vote_count, 0) AS vote_count",
		"release_date",
		"has_extended_data",
		"reviews",
		"videos",
	).From("movies")
}

func recordToParams(record *Record, now time.Time) *upsertParams {
	params := &upsertParams{
		ID:           record.ID,
		ModifiedAt:   now.UTC(),
		Title:        strings.TrimSpace(record.Title),
		PosterPath:   optionalString(record.PosterPath),
		BackdropPath: optionalString(record.BackdropPath),
		Synopsis:     optionalString(record.Synopsis),
		Popularity:   record.Popularity,
		VoteAverage:  record.VoteAverage,
		VoteCount:    record.VoteCount,
		ReleaseDate:  record.ReleaseDate,
	}

	if ext := record.Extended; ext != nil {
		reviews := database.NewJsonColumn(nonNil(ext.Reviews))
		videos := database.NewJsonColumn(nonNil(ext.Videos))

		params.HasExtendedData = true
		params.Reviews = &reviews
		params.Videos = &videos
	}

	return params
}

// nonNil replaces a nil slice with an empty one, so it is
// stored as an empty JSON array rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}

	return v
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
