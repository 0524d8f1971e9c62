package lists

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Marquee/internal/api/movies"
	"github.com/hbomb79/Marquee/internal/api/tasks"
	"github.com/hbomb79/Marquee/internal/api/util"
	"github.com/hbomb79/Marquee/internal/list"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/labstack/echo/v4"
)

type (
	Dto struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}

	PageDto struct {
		List   string              `json:"list"`
		Page   int                 `json:"page"`
		Movies []movies.SummaryDto `json:"movies"`
	}

	pageRequest struct {
		Name string `param:"name" validate:"required,max=64"`
		Page int    `param:"page" validate:"gte=1"`
	}

	Service interface {
		ListLists() ([]*list.List, error)
		ListMovies(listName string, page int) ([]*movie.Movie, error)
		QueueListRefresh(listName string, page int) (*refresh.Task, error)
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
	eg.GET("/", controller.list)
	eg.GET("/:name/pages/:page/", controller.getPage)
	eg.POST("/:name/pages/:page/refresh/", controller.refreshPage)
}

func (controller *Controller) list(ec echo.Context) error {
	models, err := controller.service.ListLists()
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusOK, util.ApplyConversion(models, NewDto))
}

// getPage returns the cached movies for a page of the list. Reading a page
// never contacts the catalog; use refreshPage to update it.
func (controller *Controller) getPage(ec echo.Context) error {
	request, err := controller.bindPageRequest(ec)
	if err != nil {
		return err
	}

	models, err := controller.service.ListMovies(request.Name, request.Page)
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusOK, PageDto{
		List:   request.Name,
		Page:   request.Page,
		Movies: util.ApplyConversion(models, movies.NewSummaryDto),
	})
}

func (controller *Controller) refreshPage(ec echo.Context) error {
	request, err := controller.bindPageRequest(ec)
	if err != nil {
		return err
	}

	task, err := controller.service.QueueListRefresh(request.Name, request.Page)
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusAccepted, tasks.NewDto(task))
}

func (controller *Controller) bindPageRequest(ec echo.Context) (*pageRequest, error) {
	var request pageRequest
	if err := ec.Bind(&request); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request: %s", err.Error()))
	}
	if err := controller.validate.Struct(request); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request: %s", err.Error()))
	}

	return &request, nil
}

func NewDto(model *list.List) Dto {
	return Dto{ID: model.ID, Name: model.Name, Type: model.Type.String()}
}
