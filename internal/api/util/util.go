package util

import (
	"errors"
	"net/http"

	"github.com/hbomb79/Marquee/internal/catalog"
	"github.com/hbomb79/Marquee/internal/list"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/labstack/echo/v4"
)

// ApplyConversion applies a converter function to each of the models
// provided to this function. The returned value is a slice which
// has been converted to the new values based on the returned value
// from the converter.
func ApplyConversion[T any, K any](models []T, converter func(T) K) []K {
	dtos := make([]K, 0, len(models))
	for _, v := range models {
		dtos = append(dtos, converter(v))
	}

	return dtos
}

// ErrorToHTTP maps an error returned by the refresh service to an
// echo HTTP error with an appropriate status code.
func ErrorToHTTP(err error) *echo.HTTPError {
	// Configuration errors may also wrap a not-found error, so they're checked first
	switch {
	case errors.Is(err, refresh.ErrConfiguration):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case errors.Is(err, list.ErrListNotFound),
		errors.Is(err, movie.ErrMovieNotFound),
		errors.Is(err, catalog.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, refresh.ErrInvalidPage), errors.Is(err, movie.ErrInvalidMovie):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, refresh.ErrUnsupportedListType):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, refresh.ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, catalog.ErrTransport):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
