package tasks

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Marquee/internal/api/util"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/labstack/echo/v4"
)

type (
	Dto struct {
		ID         uuid.UUID  `json:"id"`
		Kind       string     `json:"kind"`
		State      string     `json:"state"`
		ListName   string     `json:"list_name,omitempty"`
		Page       int        `json:"page,omitempty"`
		MovieID    int64      `json:"movie_id,omitempty"`
		Favorite   *bool      `json:"favorite,omitempty"`
		Error      string     `json:"error,omitempty"`
		CreatedAt  time.Time  `json:"created_at"`
		FinishedAt *time.Time `json:"finished_at,omitempty"`
	}

	getRequest struct {
		ID string `param:"id" validate:"required,uuid"`
	}

	Service interface {
		Task(id uuid.UUID) *refresh.Task
		Tasks() []*refresh.Task
		QueueSweep() (*refresh.Task, error)
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
	eg.GET("/:id/", controller.get)
}

// QueueSweep queues an orphan sweep, responding with the queued task.
func (controller *Controller) QueueSweep(ec echo.Context) error {
	task, err := controller.service.QueueSweep()
	if err != nil {
		return util.ErrorToHTTP(err)
	}

	return ec.JSON(http.StatusAccepted, NewDto(task))
}

func (controller *Controller) list(ec echo.Context) error {
	return ec.JSON(http.StatusOK, util.ApplyConversion(controller.service.Tasks(), NewDto))
}

func (controller *Controller) get(ec echo.Context) error {
	var request getRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request: %s", err.Error()))
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid task ID: %s", err.Error()))
	}

	task := controller.service.Task(uuid.MustParse(request.ID))
	if task == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Task %s not found", request.ID))
	}

	return ec.JSON(http.StatusOK, NewDto(task))
}

func NewDto(task *refresh.Task) Dto {
	dto := Dto{
		ID:         task.ID,
		Kind:       task.Kind.String(),
		State:      task.State.String(),
		ListName:   task.ListName,
		Page:       task.Page,
		MovieID:    task.MovieID,
		Error:      task.Error,
		CreatedAt:  task.CreatedAt,
		FinishedAt: task.FinishedAt,
	}
	if task.Kind == refresh.FavoriteTask {
		favorite := task.Favorite
		dto.Favorite = &favorite
	}

	return dto
}
