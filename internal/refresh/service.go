package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Marquee/internal/catalog"
	"github.com/hbomb79/Marquee/internal/event"
	"github.com/hbomb79/Marquee/internal/list"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/pkg/logger"
	gsync "github.com/hbomb79/Marquee/pkg/sync"
	"github.com/hbomb79/Marquee/pkg/worker"
)

var log = logger.Get("RefreshServ")

var (
	ErrUnsupportedListType = errors.New("list type does not support refresh")
	ErrConfiguration       = errors.New("configuration error")
	ErrInvalidPage         = errors.New("page must be 1 or greater")
	ErrQueueFull           = errors.New("task queue is full")
	ErrServiceStopped      = errors.New("refresh service stopped")
)

const FavoritesListName = list.FavoritesName

type (
	catalogClient interface {
		FetchListPage(ctx context.Context, listName string, page int) ([]*catalog.Summary, error)
		FetchMovieDetail(ctx context.Context, movieID int64) (*catalog.Detail, error)
	}

	dataStore interface {
		ResolveList(name string) (*list.List, error)
		ListLists() ([]*list.List, error)
		SaveListPage(listID int64, page int, records []*movie.Record) error
		SaveMovieDetail(record *movie.Record) error
		GetMovie(movieID int64) (*movie.Movie, error)
		ListMovies(listID int64, page int) ([]*movie.Movie, error)
		AddToList(listID int64, movieID int64) (bool, error)
		RemoveFromList(listID int64, movieID int64) (bool, error)
		SweepOrphans() ([]int64, error)
		Now() time.Time
	}

	// Service keeps the cached catalog in step with the remote catalog. List pages
	// and movie details are fetched from the catalog client and written through the
	// data store; favorites are managed as membership of the 'favorites' list.
	//
	// Every operation is available synchronously, and as a task which is queued
	// and performed by the services worker pool once Run has been called.
	Service struct {
		config     Config
		catalog    catalogClient
		store      dataStore
		eventBus   event.EventDispatcher
		queue      *taskQueue
		workerPool *worker.WorkerPool
		inflight   gsync.TypedSyncMap[int64, *detailCall]

		// taskCtx is the context given to tasks performed by the workers. It
		// is replaced by the context provided to Run.
		taskCtx context.Context
	}

	detailCall struct {
		done chan struct{}
		err  error
	}
)

func New(config Config, catalog catalogClient, store dataStore, eventBus event.EventDispatcher) (*Service, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	service := &Service{
		config:     config,
		catalog:    catalog,
		store:      store,
		eventBus:   eventBus,
		queue:      newTaskQueue(config.QueueCapacity),
		workerPool: worker.NewWorkerPool(),
		taskCtx:    context.Background(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("refresh-worker-%d", i)
		if err := service.workerPool.PushWorker(worker.NewWorker(label, service.performQueuedTask)); err != nil {
			return nil, err
		}
	}

	return service, nil
}

// Run starts the worker pool and the periodic orphan sweep, blocking
// until the context is cancelled. Tasks already running when the
// context is cancelled are allowed to finish before Run returns; tasks
// which never reached a worker are marked as failed.
func (service *Service) Run(ctx context.Context) error {
	service.taskCtx = ctx
	if err := service.workerPool.Start(); err != nil {
		return err
	}
	defer func() {
		service.workerPool.Close()
		service.failQueuedTasks()
	}()
	log.Emit(logger.NEW, "Refresh service started with %d workers\n", service.workerPool.Size())

	// Tasks may have been queued before the pool was started
	service.wakeupWorkerPool()

	var sweepChannel <-chan time.Time
	if service.config.SweepInterval > 0 {
		ticker := time.NewTicker(service.config.SweepInterval)
		defer ticker.Stop()
		sweepChannel = ticker.C
	}

	for {
		select {
		case <-sweepChannel:
			if _, err := service.QueueSweep(); err != nil {
				log.Warnf("Periodic orphan sweep could not be queued: %v\n", err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Refresh service stopping\n")
			return nil
		}
	}
}

// RefreshList fetches the page of the named list from the catalog and replaces the
// cached page with the result. The list must exist and be of type STANDARD. The
// fetch happens before anything is written; if the fetch fails, or the context is
// cancelled before the write begins, the cache is left untouched.
func (service *Service) RefreshList(ctx context.Context, listName string, page int) error {
	if page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	target, err := service.store.ResolveList(listName)
	if err != nil {
		return err
	}
	if target.Type != list.Standard {
		return fmt.Errorf("%w: list '%s' is of type %s", ErrUnsupportedListType, listName, target.Type)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, service.config.FetchTimeout)
	defer cancel()
	summaries, err := service.catalog.FetchListPage(fetchCtx, listName, page)
	if err != nil {
		return fmt.Errorf("failed to fetch page %d of list '%s': %w", page, listName, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("refresh of page %d of list '%s' abandoned before write: %w", page, listName, err)
	}

	records := make([]*movie.Record, 0, len(summaries))
	for _, summary := range summaries {
		record := catalog.SummaryToRecord(summary)
		if err := record.Validate(); err != nil {
			log.Warnf("Skipping movie on page %d of list '%s': %v\n", page, listName, err)
			continue
		}

		records = append(records, record)
	}

	// The write is not interruptible once started
	if err := service.store.SaveListPage(target.ID, page, records); err != nil {
		return fmt.Errorf("failed to save page %d of list '%s': %w", page, listName, err)
	}

	log.Emit(logger.SUCCESS, "Refreshed page %d of list '%s' (%d movies)\n", page, listName, len(records))
	service.eventBus.Dispatch(event.ListUpdateEvent, event.ListPage{List: listName, Page: page})
	return nil
}

// RefreshMovieDetail fetches the full detail of the movie and stores it, replacing
// any reviews and videos previously cached. Concurrent calls for the same movie are
// coalesced: callers arriving while a refresh is in flight wait for it and receive
// its result. If the in-flight refresh was cancelled by its own caller, a waiter
// whose context is still live performs the refresh itself.
func (service *Service) RefreshMovieDetail(ctx context.Context, movieID int64) error {
	for {
		call := &detailCall{done: make(chan struct{})}
		existing, loaded := service.inflight.LoadOrStore(movieID, call)
		if !loaded {
			err := service.refreshMovieDetail(ctx, movieID)
			call.err = err
			service.inflight.CompareAndDelete(movieID, call)
			close(call.done)

			return err
		}

		log.Verbosef("Detail refresh for movie %d already in flight, waiting\n", movieID)
		select {
		case <-existing.done:
			if errors.Is(existing.err, context.Canceled) && ctx.Err() == nil {
				log.Debugf("In-flight detail refresh for movie %d was cancelled, retrying\n", movieID)
				continue
			}

			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (service *Service) refreshMovieDetail(ctx context.Context, movieID int64) error {
	fetchCtx, cancel := context.WithTimeout(ctx, service.config.FetchTimeout)
	defer cancel()
	detail, err := service.catalog.FetchMovieDetail(fetchCtx, movieID)
	if err != nil {
		return fmt.Errorf("failed to fetch detail for movie %d: %w", movieID, err)
	}
	if detail.ID != movieID {
		return fmt.Errorf("%w: detail requested for movie %d but catalog returned movie %d", catalog.ErrParse, movieID, detail.ID)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("detail refresh of movie %d abandoned before write: %w", movieID, err)
	}

	if err := service.store.SaveMovieDetail(catalog.DetailToRecord(detail)); err != nil {
		return fmt.Errorf("failed to save detail for movie %d: %w", movieID, err)
	}

	log.Emit(logger.SUCCESS, "Refreshed detail for movie %d\n", movieID)
	service.eventBus.Dispatch(event.MovieUpdateEvent, movieID)
	return nil
}

// SetFavorite adds or removes the movie from the favorites list. Only cached movies
// may be favorited; attempting to favorite an unknown movie fails with
// movie.ErrMovieNotFound. Both operations are idempotent.
func (service *Service) SetFavorite(ctx context.Context, movieID int64, isFavorite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	favorites, err := service.favoritesList()
	if err != nil {
		return err
	}

	var changed bool
	if isFavorite {
		changed, err = service.store.AddToList(favorites.ID, movieID)
	} else {
		changed, err = service.store.RemoveFromList(favorites.ID, movieID)
	}
	if err != nil {
		return fmt.Errorf("failed to set favorite=%v for movie %d: %w", isFavorite, movieID, err)
	}

	if changed {
		log.Infof("Movie %d favorite=%v\n", movieID, isFavorite)
		service.eventBus.Dispatch(event.FavoriteUpdateEvent, movieID)
	}

	return nil
}

// SweepOrphans deletes every cached movie which is no longer referenced by
// any list, returning the number of movies deleted.
func (service *Service) SweepOrphans(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted, err := service.store.SweepOrphans()
	if err != nil {
		return 0, fmt.Errorf("orphan sweep failed: %w", err)
	}

	if len(deleted) > 0 {
		log.Emit(logger.REMOVE, "Swept %d orphaned movies %v\n", len(deleted), deleted)
	}
	service.eventBus.Dispatch(event.SweepCompleteEvent, len(deleted))
	return len(deleted), nil
}

// GetMovie returns the cached movie. If the movie has no extended data, or the
// data is older than the configured max age, a detail refresh is queued in the
// background; the cached movie is returned without waiting for it.
func (service *Service) GetMovie(movieID int64) (*movie.Movie, error) {
	m, err := service.store.GetMovie(movieID)
	if err != nil {
		return nil, err
	}

	if movie.NeedsDetailRefresh(m, service.store.Now(), service.config.MaxAge) {
		if _, err := service.QueueDetailRefresh(movieID); err != nil {
			log.Warnf("Movie %d is stale but detail refresh could not be queued: %v\n", movieID, err)
		}
	}

	return m, nil
}

// ListMovies returns the cached movies on the page of the named list, in order.
func (service *Service) ListMovies(listName string, page int) ([]*movie.Movie, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	target, err := service.store.ResolveList(listName)
	if err != nil {
		return nil, err
	}

	return service.store.ListMovies(target.ID, page)
}

func (service *Service) ListLists() ([]*list.List, error) { return service.store.ListLists() }

// QueueListRefresh validates the request and queues a list refresh task. Requests
// which could never succeed (bad page, unknown list, non-STANDARD list) are
// rejected immediately rather than queued.
func (service *Service) QueueListRefresh(listName string, page int) (*Task, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}

	target, err := service.store.ResolveList(listName)
	if err != nil {
		return nil, err
	}
	if target.Type != list.Standard {
		return nil, fmt.Errorf("%w: list '%s' is of type %s", ErrUnsupportedListType, listName, target.Type)
	}

	return service.enqueue(&Task{Kind: ListRefreshTask, ListName: listName, Page: page})
}

// QueueDetailRefresh queues a detail refresh for the movie. If one is already
// queued or running for the movie, that task is returned instead.
func (service *Service) QueueDetailRefresh(movieID int64) (*Task, error) {
	return service.enqueue(&Task{Kind: DetailRefreshTask, MovieID: movieID})
}

// QueueFavorite queues a favorite change for the movie. Favoriting a movie
// which is not cached is rejected immediately with movie.ErrMovieNotFound.
func (service *Service) QueueFavorite(movieID int64, isFavorite bool) (*Task, error) {
	if isFavorite {
		if _, err := service.store.GetMovie(movieID); err != nil {
			return nil, err
		}
	}

	return service.enqueue(&Task{Kind: FavoriteTask, MovieID: movieID, Favorite: isFavorite})
}

func (service *Service) QueueSweep() (*Task, error) {
	return service.enqueue(&Task{Kind: SweepTask})
}

// Task returns a copy of the task with the ID provided, or nil if no
// such task is known (or it has been pruned from the queue).
func (service *Service) Task(id uuid.UUID) *Task { return service.queue.get(id) }

// Tasks returns a copy of every task currently retained by the queue.
func (service *Service) Tasks() []*Task { return service.queue.all() }

func (service *Service) enqueue(task *Task) (*Task, error) {
	task.CreatedAt = service.store.Now()
	queued, isNew, err := service.queue.push(task)
	if err != nil {
		return nil, err
	}

	if isNew {
		log.Emit(logger.NEW, "Queued %s task %s\n", queued.Kind, queued.ID)
		service.wakeupWorkerPool()
	}

	return queued, nil
}

// performQueuedTask is the worker function for the refresh service. It claims
// the oldest queued task and performs it, recording the outcome on the task.
// Once the service is stopping no further tasks are claimed.
func (service *Service) performQueuedTask(w worker.Worker) (bool, error) {
	if service.taskCtx.Err() != nil {
		return false, nil
	}

	task := service.queue.claim()
	if task == nil {
		return false, nil
	}

	log.Debugf("Worker %s performing %s task %s\n", w.Label(), task.Kind, task.ID)
	err := service.performTask(service.taskCtx, task)
	finished := service.queue.finish(task, err, service.store.Now())
	if err != nil {
		log.Errorf("%s task %s failed: %v\n", finished.Kind, finished.ID, err)
		service.eventBus.Dispatch(event.TaskFailedEvent, finished.ID)
		return true, nil
	}

	service.eventBus.Dispatch(event.TaskCompleteEvent, finished.ID)
	return true, nil
}

func (service *Service) performTask(ctx context.Context, task *Task) error {
	switch task.Kind {
	case ListRefreshTask:
		return service.RefreshList(ctx, task.ListName, task.Page)
	case DetailRefreshTask:
		return service.RefreshMovieDetail(ctx, task.MovieID)
	case FavoriteTask:
		return service.SetFavorite(ctx, task.MovieID, task.Favorite)
	case SweepTask:
		_, err := service.SweepOrphans(ctx)
		return err
	}

	return fmt.Errorf("unknown task kind %d", task.Kind)
}

// favoritesList resolves the favorites list, which must exist and be of type FAVORITE.
func (service *Service) favoritesList() (*list.List, error) {
	favorites, err := service.store.ResolveList(FavoritesListName)
	if err != nil {
		if errors.Is(err, list.ErrListNotFound) {
			return nil, fmt.Errorf("%w: favorites list is missing: %w", ErrConfiguration, err)
		}

		return nil, err
	}
	if favorites.Type != list.Favorite {
		return nil, fmt.Errorf("%w: list '%s' is of type %s, expected %s: %w", ErrConfiguration, FavoritesListName, favorites.Type, list.Favorite, list.ErrListNotFound)
	}

	return favorites, nil
}

func (service *Service) failQueuedTasks() {
	for _, task := range service.queue.failQueued(ErrServiceStopped, service.store.Now()) {
		log.Warnf("%s task %s abandoned at shutdown\n", task.Kind, task.ID)
		service.eventBus.Dispatch(event.TaskFailedEvent, task.ID)
	}
}

// wakeupWorkerPool wakes the workers so they claim newly queued tasks.
// The pool is not started until Run is called, in which case this is a no-op.
func (service *Service) wakeupWorkerPool() {
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Verbosef("Worker pool not woken: %v\n", err)
	}
}
