package testutil

import (
	"fmt"

	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/labstack/gommon/random"
)

func Ptr[T any](v T) *T { return &v }

// BaseRecord returns a movie record carrying only base attributes, with
// randomised strings so that fixtures never collide between tests.
func BaseRecord(id int64) *movie.Record {
	return &movie.Record{
		ID:           id,
		Title:        fmt.Sprintf("Movie %d %s", id, random.String(6, random.Alphanumeric)),
		PosterPath:   "/" + random.String(12, random.Alphanumeric) + ".jpg",
		BackdropPath: "/" + random.String(12, random.Alphanumeric) + ".jpg",
		Synopsis:     random.String(32, random.Alphabetic),
		Popularity:   Ptr(float64(id) * 1.5),
		VoteAverage:  Ptr(7.2),
		VoteCount:    Ptr(int(id) * 10),
	}
}

// DetailRecord returns a record carrying extended data with the number
// of reviews and videos requested.
func DetailRecord(id int64, reviews int, videos int) *movie.Record {
	record := BaseRecord(id)
	record.Extended = &movie.ExtendedData{
		Reviews: make([]movie.Review, 0, reviews),
		Videos:  make([]movie.Video, 0, videos),
	}
	for i := 0; i < reviews; i++ {
		record.Extended.Reviews = append(record.Extended.Reviews, movie.Review{
			ID:      fmt.Sprintf("review-%d-%d", id, i),
			Author:  random.String(8, random.Alphabetic),
			Content: random.String(40, random.Alphabetic),
		})
	}
	for i := 0; i < videos; i++ {
		record.Extended.Videos = append(record.Extended.Videos, movie.Video{
			Key:  random.String(11, random.Alphanumeric),
			Site: "YouTube",
			Name: fmt.Sprintf("Trailer %d", i),
		})
	}

	return record
}
