package movie

import (
	"time"

	"github.com/hbomb79/Marquee/internal/database"
)

type (
	Review struct {
		ID      string `json:"id"`
		Author  string `json:"author"`
		Content string `json:"content"`
	}

	Video struct {
		Key  string `json:"key"`
		Site string `json:"site"`
		Name string `json:"name"`
	}

	// ExtendedData is the detail-only portion of a movie. A record
	// carrying extended data replaces the stored reviews and videos
	// wholesale.
	ExtendedData struct {
		Reviews []Review
		Videos  []Video
	}

	// Record is the write model accepted by the store. Empty strings
	// and nil pointers represent "not provided" and will not overwrite
	// any value already stored for the movie.
	Record struct {
		ID           int64
		Title        string
		PosterPath   string
		BackdropPath string
		Synopsis     string
		Popularity   *float64
		VoteAverage  *float64
		VoteCount    *int
		ReleaseDate  *time.Time
		Extended     *ExtendedData
	}

	// Movie is the read model for a cached movie. IsFavorite is
	// never stored against the movie; it is derived from list membership
	// by the caller.
	Movie struct {
		ID              int64      `db:"id"`
		ModifiedAt      time.Time  `db:"modified_at"`
		Title           string     `db:"title"`
		PosterPath      string     `db:"poster_path"`
		BackdropPath    string     `db:"backdrop_path"`
		Synopsis        string     `db:"synopsis"`
		Popularity      float64    `db:"popularity"`
		VoteAverage     float64    `db:"vote_average"`
		VoteCount       int        `db:"vote_count"`
		ReleaseDate     *time.Time `db:"release_date"`
		HasExtendedData bool       `db:"has_extended_data"`
		Reviews         []Review   `db:"-"`
		Videos          []Video    `db:"-"`
		IsFavorite      bool       `db:"-"`
	}

	// movieModel is the row representation of a movie, with the
	// extended data held in JsonColumn containers. This is kept separate
	// from Movie so the public API does not leak the column encoding.
	movieModel struct {
		Movie
		ReviewsColumn database.JsonColumn[[]Review] `db:"reviews"`
		VideosColumn  database.JsonColumn[[]Video]  `db:"videos"`
	}
)

func modelToMovie(model *movieModel) *Movie {
	movie := model.Movie
	movie.Reviews = *model.ReviewsColumn.Get()
	movie.Videos = *model.VideosColumn.Get()
	return &movie
}
