package movies

import (
	"time"

	"github.com/hbomb79/Marquee/internal/api/util"
	"github.com/hbomb79/Marquee/internal/movie"
)

type (
	// SummaryDto is the representation of a movie used in list pages, which
	// only carries base attributes.
	SummaryDto struct {
		ID          int64      `json:"id"`
		Title       string     `json:"title"`
		PosterPath  string     `json:"poster_path,omitempty"`
		Popularity  float64    `json:"popularity"`
		VoteAverage float64    `json:"vote_average"`
		ReleaseDate *time.Time `json:"release_date,omitempty"`
		IsFavorite  bool       `json:"is_favorite"`
	}

	Dto struct {
		SummaryDto
		BackdropPath    string      `json:"backdrop_path,omitempty"`
		Synopsis        string      `json:"synopsis,omitempty"`
		VoteCount       int         `json:"vote_count"`
		HasExtendedData bool        `json:"has_extended_data"`
		Reviews         []ReviewDto `json:"reviews"`
		Videos          []VideoDto  `json:"videos"`
		ModifiedAt      time.Time   `json:"modified_at"`
	}

	ReviewDto struct {
		ID      string `json:"id"`
		Author  string `json:"author"`
		Content string `json:"content"`
	}

	VideoDto struct {
		Key  string `json:"key"`
		Site string `json:"site"`
		Name string `json:"name"`
	}
)

func NewSummaryDto(model *movie.Movie) SummaryDto {
	return SummaryDto{
		ID:          model.ID,
		Title:       model.Title,
		PosterPath:  model.PosterPath,
		Popularity:  model.Popularity,
		VoteAverage: model.VoteAverage,
		ReleaseDate: model.ReleaseDate,
		IsFavorite:  model.IsFavorite,
	}
}

func NewDto(model *movie.Movie) Dto {
	return Dto{
		SummaryDto:      NewSummaryDto(model),
		BackdropPath:    model.BackdropPath,
		Synopsis:        model.Synopsis,
		VoteCount:       model.VoteCount,
		HasExtendedData: model.HasExtendedData,
		Reviews: util.ApplyConversion(model.Reviews, func(r movie.Review) ReviewDto {
			return ReviewDto{ID: r.ID, Author: r.Author, Content: r.Content}
		}),
		Videos: util.ApplyConversion(model.Videos, func(v movie.Video) VideoDto {
			return VideoDto{Key: v.Key, Site: v.Site, Name: v.Name}
		}),
		ModifiedAt: model.ModifiedAt,
	}
}
