package movie

import "time"

// NeedsDetailRefresh reports whether the movie should have its extended
// data (re)fetched. A movie without extended data is always stale, otherwise
// it becomes stale once more than maxAge has elapsed since it was last written.
func NeedsDetailRefresh(movie *Movie, now time.Time, maxAge time.Duration) bool {
	return !movie.HasExtendedData || now.Sub(movie.ModifiedAt) > maxAge
}
