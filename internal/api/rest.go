package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Marquee/internal/api/lists"
	"github.com/hbomb79/Marquee/internal/api/movies"
	"github.com/hbomb79/Marquee/internal/api/tasks"
	"github.com/hbomb79/Marquee/internal/api/websocket"
	"github.com/hbomb79/Marquee/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// Service represents a union of all the controller service requirements
	Service interface {
		lists.Service
		movies.Service
		tasks.Service
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsbility
	// is to create the routes Marquee exposes and to manage the activity web socket.
	RestGateway struct {
		config          *RestConfig
		ec              *echo.Echo
		socket          *websocket.SocketHub
		listController  controller
		movieController controller
		taskController  *tasks.Controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(config *RestConfig, service Service) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	gateway := &RestGateway{
		config:          config,
		ec:              ec,
		socket:          websocket.New(),
		listController:  lists.New(validate, service),
		movieController: movies.New(validate, service),
		taskController:  tasks.New(validate, service),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/marquee/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	gateway.listController.SetRoutes(ec.Group("/api/marquee/v1/lists"))
	gateway.movieController.SetRoutes(ec.Group("/api/marquee/v1/movies"))
	gateway.taskController.SetRoutes(ec.Group("/api/marquee/v1/tasks"))
	ec.POST("/api/marquee/v1/sweep/", gateway.taskController.QueueSweep)

	return gateway
}

// ServeHTTP allows the gateway to be used directly as an http.Handler.
func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// BroadcastActivity pushes an update to every client connected to the activity socket.
func (gateway *RestGateway) BroadcastActivity(title string, body map[string]interface{}) {
	gateway.socket.Send(&websocket.SocketMessage{Title: title, Body: body, Type: websocket.Update})
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	<-ctx.Done()
	if err := gateway.ec.Close(); err != nil {
		log.Warnf("Failed to close HTTP server: %v\n", err)
	}
	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
