package movies

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Marquee/internal/api/tasks"
	"github.com/hbomb79/Marquee/internal/api/util"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/labstack/echo/v4"
)

type (
	movieRequest struct {
		ID int64 `param:"id" validate:"gt=0"`
	}

	Service interface {
		GetMovie(movieID int64) (*movie.Movie, error)
		QueueFavorite(movieID int64, isFavorite bool) (*refresh.Task, error)
	}

	Controller struct {
		service  Service
		validate *validator.Validate
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{service: service, validate: validate}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/", controller.get)
	eg.PUT("/:id/favorite/", controller.favorite)
	eg.DELETE("/:id/favorite/", controller.unfavorite)
}

// get returns the cached movie. Movies with missing or stale extended data
// are still returned immediately; an enrichment task is queued in the background.
func (controller *Controller) get(ec echo.Context) error {
	movieID, err := controller.bindMovieID(ec)
	if err != nil {
		return err
	}

	model, err := controller.service.GetMovie(movieID)
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusOK, NewDto(model))
}

func (controller *Controller) favorite(ec echo.Context) error {
	return controller.queueFavorite(ec, true)
}

func (controller *Controller) unfavorite(ec echo.Context) error {
	return controller.queueFavorite(ec, false)
}

func (controller *Controller) queueFavorite(ec echo.Context, isFavorite bool) error {
	movieID, err := controller.bindMovieID(ec)
	if err != nil {
		return err
	}

	task, err := controller.service.QueueFavorite(movieID, isFavorite)
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusAccepted, tasks.NewDto(task))
}

func (controller *Controller) bindMovieID(ec echo.Context) (int64, error) {
	var request movieRequest
	if err := ec.Bind(&request); err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid movie ID: %s", err.Error()))
	}
	if err := controller.validate.Struct(request); err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid movie ID: %s", err.Error()))
	}

	return request.ID, nil
}
