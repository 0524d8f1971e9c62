package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/hbomb79/Marquee/internal/api"
	"github.com/hbomb79/Marquee/internal/catalog"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/internal/event"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/hbomb79/Marquee/internal/store"
	"github.com/hbomb79/Marquee/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// Marquee represents the top-level object for the server, and is responsible
	// for initialising the database connection, stores, services and event handling.
	Marquee struct {
		config   MarqueeConfig
		db       database.Manager
		eventBus event.EventCoordinator

		refreshService  *refresh.Service
		restGateway     *api.RestGateway
		activityService RunnableService
	}
)

// New connects to the database and constructs every service. The
// services are not started until Run is called.
func New(config MarqueeConfig) (*Marquee, error) {
	log.Emit(logger.DEBUG, "Bootstrapping Marquee services\n")
	marquee := &Marquee{config: config, db: database.New(), eventBus: event.New()}

	log.Emit(logger.NEW, "Connecting to %s database...\n", config.Database.Dialect)
	if err := marquee.db.Connect(config.Database); err != nil {
		return nil, err
	}

	orchestrator, err := store.New(marquee.db)
	if err != nil {
		return nil, err
	}

	if config.Catalog.ApiKey == "" {
		log.Warnf("No catalog API key configured, catalog requests will be rejected\n")
	}

	serv, err := refresh.New(config.Refresh, catalog.NewClient(config.Catalog), orchestrator, marquee.eventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to construct refresh service: %w", err)
	}

	marquee.refreshService = serv
	marquee.restGateway = api.NewRestGateway(&config.RestConfig, serv)
	marquee.activityService = newActivityService(serv, marquee.restGateway, marquee.eventBus)
	return marquee, nil
}

// RefreshService exposes the synchronisation engine, for use by one-shot commands.
func (marquee *Marquee) RefreshService() *refresh.Service { return marquee.refreshService }

// Run starts all of Marquee's services. This function will not return until
// Marquee is stopped. To stop Marquee, the provided context must be cancelled.
// Errors from which Marquee cannot recover will also cause Marquee to stop.
func (marquee *Marquee) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("service %s crashed: %w", label, err))
	}

	wg := &sync.WaitGroup{}
	spawnAsyncService(ctx, wg, marquee.refreshService, "refresh-service", crashHandler)
	spawnAsyncService(ctx, wg, marquee.activityService, "activity-service", crashHandler)
	spawnAsyncService(ctx, wg, marquee.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Marquee services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

func (marquee *Marquee) Close() error {
	return marquee.db.Close()
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
