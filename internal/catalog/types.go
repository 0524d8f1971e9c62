package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	Date struct{ time.Time }

	// Summary is a single movie as it appears in a list page.
	Summary struct {
		ID           int64    `json:"id" validate:"gt=0"`
		Title        string   `json:"title" validate:"required"`
		PosterPath   string   `json:"poster_path"`
		BackdropPath string   `json:"backdrop_path"`
		Overview     string   `json:"overview"`
		Popularity   *float64 `json:"popularity"`
		VoteAverage  *float64 `json:"vote_average"`
		VoteCount    *int     `json:"vote_count" validate:"omitempty,gte=0"`
		ReleaseDate  *Date    `json:"release_date"`
	}

	Review struct {
		ID      string `json:"id" validate:"required"`
		Author  string `json:"author" validate:"required"`
		Content string `json:"content" validate:"required"`
	}

	Video struct {
		Key  string `json:"key" validate:"required"`
		Site string `json:"site" validate:"required"`
		Name string `json:"name" validate:"required"`
	}

	// Detail is the full representation of a movie, including the
	// reviews and videos appended to the response.
	Detail struct {
		Summary
		Reviews struct {
			Results []Review `json:"results"`
		} `json:"reviews"`
		Videos struct {
			Results []Video `json:"results"`
		} `json:"videos"`
	}

	listPage struct {
		Page         int               `json:"page"`
		Results      []json.RawMessage `json:"results"`
		TotalPages   int               `json:"total_pages"`
		TotalResults int               `json:"total_results"`
	}
)

// normalize trims the title so a whitespace-only title fails the
// required validation instead of being admitted.
func (summary *Summary) normalize() {
	summary.Title = strings.TrimSpace(summary.Title)
}

// UnmarshalJSON parses a date-only string. The catalog uses an empty string
// for unknown dates, which leaves the date as the zero time. A date in an
// unexpected format is also treated as unknown rather than failing the
// whole movie.
func (date *Date) UnmarshalJSON(dateBytes []byte) error {
	if bytes.Equal(dateBytes, []byte("null")) {
		return nil
	}

	var raw string
	if err := json.Unmarshal(dateBytes, &raw); err != nil {
		return fmt.Errorf("cannot unmarshal Date due to error: %w", err)
	}
	if raw == "" {
		*date = Date{}
		return nil
	}

	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		log.Warnf("Ignoring unparseable date %q: %v\n", raw, err)
		*date = Date{}
		return nil
	}

	*date = Date{parsed}
	return nil
}
