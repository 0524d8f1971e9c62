package catalog

import (
	"time"

	"github.com/hbomb79/Marquee/internal/movie"
)

// SummaryToRecord converts a list item to a movie record carrying
// base attributes only.
func SummaryToRecord(summary *Summary) *movie.Record {
	return &movie.Record{
		ID:           summary.ID,
		Title:        summary.Title,
		PosterPath:   summary.PosterPath,
		BackdropPath: summary.BackdropPath,
		Synopsis:     summary.Overview,
		Popularity:   summary.Popularity,
		VoteAverage:  summary.VoteAverage,
		VoteCount:    summary.VoteCount,
		ReleaseDate:  dateOrNil(summary.ReleaseDate),
	}
}

// DetailToRecord converts a movie detail to a record carrying extended
// data. Reviews and videos are never nil, even if the catalog returned none.
func DetailToRecord(detail *Detail) *movie.Record {
	record := SummaryToRecord(&detail.Summary)

	reviews := make([]movie.Review, len(detail.Reviews.Results))
	for k, v := range detail.Reviews.Results {
		reviews[k] = movie.Review{ID: v.ID, Author: v.Author, Content: v.Content}
	}

	videos := make([]movie.Video, len(detail.Videos.Results))
	for k, v := range detail.Videos.Results {
		videos[k] = movie.Video{Key: v.Key, Site: v.Site, Name: v.Name}
	}

	record.Extended = &movie.ExtendedData{Reviews: reviews, Videos: videos}
	return record
}

func dateOrNil(date *Date) *time.Time {
	if date == nil || date.IsZero() {
		return nil
	}

	t := date.Time
	return &t
}
