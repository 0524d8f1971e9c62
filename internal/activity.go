package internal

import (
	"context"
	"sync"
	"time"

	"github.com/hbomb79/Marquee/internal/event"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/hbomb79/Marquee/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Second * 2
	MAX_TIMER_DURATION time.Duration = time.Second * 5

	TITLE_LIST_UPDATE     = "LIST_UPDATE"
	TITLE_MOVIE_UPDATE    = "MOVIE_UPDATE"
	TITLE_FAVORITE_UPDATE = "FAVORITE_UPDATE"
	TITLE_SWEEP_COMPLETE  = "SWEEP_COMPLETE"
	TITLE_TASK_UPDATE     = "TASK_UPDATE"
)

type (
	sweeper interface {
		QueueSweep() (*refresh.Task, error)
	}

	broadcaster interface {
		BroadcastActivity(title string, body map[string]interface{})
	}

	// activityService relays events from the event bus to the activity
	// broadcaster. It also watches for changes to list membership and, once
	// the changes settle, queues an orphan sweep so movies which fell off a
	// list (or were unfavorited) do not linger until the next periodic sweep.
	activityService struct {
		*sync.Mutex
		sweeper        sweeper
		broadcaster    broadcaster
		eventBus       event.EventHandler
		debounceTime   time.Duration
		maxTime        time.Duration
		debounceTimer  *time.Timer
		maxTimer       *time.Timer
		pendingChanges int
	}
)

func newActivityService(sweeper sweeper, broadcaster broadcaster, eventBus event.EventHandler) *activityService {
	return &activityService{
		Mutex:        &sync.Mutex{},
		sweeper:      sweeper,
		broadcaster:  broadcaster,
		eventBus:     eventBus,
		debounceTime: DEBOUNCE_DURATION,
		maxTime:      MAX_TIMER_DURATION,
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.ListUpdateEvent, event.FavoriteUpdateEvent, event.MovieUpdateEvent,
		event.SweepCompleteEvent, event.TaskCompleteEvent, event.TaskFailedEvent)

	log.Emit(logger.NEW, "Activity service started\n")
	defer service.stopTimers()
	for {
		select {
		case ev := <-messageChan:
			service.handleEvent(ev)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) {
	switch ev.Event {
	case event.ListUpdateEvent:
		if page, ok := ev.Payload.(event.ListPage); ok {
			service.broadcaster.BroadcastActivity(TITLE_LIST_UPDATE, map[string]interface{}{"list": page.List, "page": page.Page})
		}
		service.scheduleSweep()
	case event.FavoriteUpdateEvent:
		service.broadcaster.BroadcastActivity(TITLE_FAVORITE_UPDATE, map[string]interface{}{"movie_id": ev.Payload})
		service.scheduleSweep()
	case event.MovieUpdateEvent:
		service.broadcaster.BroadcastActivity(TITLE_MOVIE_UPDATE, map[string]interface{}{"movie_id": ev.Payload})
	case event.SweepCompleteEvent:
		service.broadcaster.BroadcastActivity(TITLE_SWEEP_COMPLETE, map[string]interface{}{"removed": ev.Payload})
	case event.TaskCompleteEvent, event.TaskFailedEvent:
		service.broadcaster.BroadcastActivity(TITLE_TASK_UPDATE, map[string]interface{}{"task_id": ev.Payload, "failed": ev.Event == event.TaskFailedEvent})
	default:
		log.Warnf("Unexpected event %s\n", ev.Event)
	}
}

// scheduleSweep (re)starts the debounce timer for the next sweep. The
// max timer ensures a steady stream of changes cannot postpone the
// sweep indefinitely.
func (service *activityService) scheduleSweep() {
	service.Lock()
	defer service.Unlock()

	service.pendingChanges++
	if service.debounceTimer != nil {
		service.debounceTimer.Stop()
	}
	service.debounceTimer = time.AfterFunc(service.debounceTime, service.sweep)

	if service.maxTimer == nil {
		service.maxTimer = time.AfterFunc(service.maxTime, service.sweep)
	}
}

func (service *activityService) sweep() {
	service.Lock()
	if service.pendingChanges == 0 {
		service.Unlock()
		return
	}

	changes := service.pendingChanges
	service.pendingChanges = 0
	service.stopTimersLocked()
	service.Unlock()

	if _, err := service.sweeper.QueueSweep(); err != nil {
		log.Warnf("Failed to queue sweep after %d membership changes: %v\n", changes, err)
	}
}

func (service *activityService) stopTimers() {
	service.Lock()
	defer service.Unlock()
	service.stopTimersLocked()
}

func (service *activityService) stopTimersLocked() {
	if service.debounceTimer != nil {
		service.debounceTimer.Stop()
		service.debounceTimer = nil
	}
	if service.maxTimer != nil {
		service.maxTimer.Stop()
		service.maxTimer = nil
	}
}
