package refresh_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Marquee/internal/catalog"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/internal/event"
	"github.com/hbomb79/Marquee/internal/list"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/internal/refresh"
	"github.com/hbomb79/Marquee/internal/store"
	"github.com/hbomb79/Marquee/internal/testutil"
	"github.com/hbomb79/Marquee/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) FetchListPage(ctx context.Context, listName string, page int) ([]*catalog.Summary, error) {
	args := m.Called(ctx, listName, page)
	if v, ok := args.Get(0).([]*catalog.Summary); ok {
		return v, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *mockCatalog) FetchMovieDetail(ctx context.Context, movieID int64) (*catalog.Detail, error) {
	args := m.Called(ctx, movieID)
	if v, ok := args.Get(0).(*catalog.Detail); ok {
		return v, args.Error(1)
	}

	return nil, args.Error(1)
}

type fixture struct {
	service *refresh.Service
	catalog *mockCatalog
	store   *store.Orchestrator
	db      database.Manager
	bus     event.EventCoordinator
}

func defaultConfig() refresh.Config {
	return refresh.Config{
		Parallelism:   2,
		QueueCapacity: 8,
		MaxAge:        time.Hour,
		FetchTimeout:  time.Second * 2,
	}
}

func newFixture(t *testing.T, config refresh.Config) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	orchestrator, err := store.New(db)
	require.NoError(t, err)

	cat := &mockCatalog{}
	bus := event.New()
	service, err := refresh.New(config, cat, orchestrator, bus)
	require.NoError(t, err)

	return &fixture{service: service, catalog: cat, store: orchestrator, db: db, bus: bus}
}

// run starts the service in the background, stopping it when the test completes.
func (f *fixture) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.service.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func summaries(ids ...int64) []*catalog.Summary {
	out := make([]*catalog.Summary, len(ids))
	for k, id := range ids {
		out[k] = &catalog.Summary{ID: id, Title: fmt.Sprintf("Movie %d", id)}
	}

	return out
}

func detail(id int64) *catalog.Detail {
	d := &catalog.Detail{Summary: catalog.Summary{ID: id, Title: fmt.Sprintf("Movie %d", id), Overview: "Detailed"}}
	d.Reviews.Results = []catalog.Review{{ID: fmt.Sprintf("review-%d", id), Author: "critic", Content: "Fine"}}
	d.Videos.Results = []catalog.Video{{Key: "trailer", Site: "YouTube", Name: "Trailer"}}

	return d
}

func span(from, to int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}

	return out
}

func listedIDs(t *testing.T, service *refresh.Service, listName string, page int) []int64 {
	t.Helper()
	movies, err := service.ListMovies(listName, page)
	require.NoError(t, err)

	out := make([]int64, len(movies))
	for k, m := range movies {
		out[k] = m.ID
	}

	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	config := defaultConfig()
	config.Parallelism = 0

	_, err := refresh.New(config, &mockCatalog{}, nil, event.New())
	assert.ErrorIs(t, err, refresh.ErrConfiguration)
}

func TestRefreshList_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(3, 1, 2), nil).Twice()

	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))
	first := listedIDs(t, f.service, "popular", 1)

	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))
	assert.Equal(t, first, listedIDs(t, f.service, "popular", 1))
	assert.Equal(t, []int64{3, 1, 2}, first)
	f.catalog.AssertExpectations(t)
}

func TestRefreshList_ShrinkingPageThenSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(span(1, 20)...), nil).Once()
	shrunk := span(1, 18)
	shrunk[0], shrunk[17] = shrunk[17], shrunk[0]
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(shrunk...), nil).Once()

	require.NoError(t, f.service.RefreshList(ctx, "popular", 1))
	require.Len(t, listedIDs(t, f.service, "popular", 1), 20)
	popular, err := f.store.ResolveList("popular")
	require.NoError(t, err)
	entries, err := f.store.MembershipStore.Entries(f.db.GetSqlxDb(), popular.ID, 1)
	require.NoError(t, err)
	for k, entry := range entries {
		assert.Equal(t, k, entry.Position)
		assert.Equal(t, int64(k+1), entry.MovieID)
	}
	require.NoError(t, f.service.SetFavorite(ctx, 20, true))

	require.NoError(t, f.service.RefreshList(ctx, "popular", 1))
	assert.Equal(t, shrunk, listedIDs(t, f.service, "popular", 1))

	// Movies which fell off the page remain cached until swept
	_, err = f.store.GetMovie(19)
	require.NoError(t, err)

	swept, err := f.service.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = f.store.GetMovie(19)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)

	favorite, err := f.store.GetMovie(20)
	require.NoError(t, err, "favorited movie must survive the sweep")
	assert.True(t, favorite.IsFavorite)
}

func TestRefreshList_PreservesExtendedData(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	f.catalog.On("FetchMovieDetail", mock.Anything, int64(1)).Return(detail(1), nil).Once()
	f.catalog.On("FetchListPage", mock.Anything, "top_rated", 1).Return(summaries(1, 2), nil).Once()

	require.NoError(t, f.service.RefreshMovieDetail(ctx, 1))
	require.NoError(t, f.service.RefreshList(ctx, "top_rated", 1))

	m, err := f.store.GetMovie(1)
	require.NoError(t, err)
	assert.True(t, m.HasExtendedData)
	assert.Len(t, m.Reviews, 1)
	assert.Len(t, m.Videos, 1)
	assert.Equal(t, "Detailed", m.Synopsis, "blank synopsis from list item must not clobber cached value")
}

func TestRefreshList_FetchFailureLeavesCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(1, 2), nil).Once()
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(nil, fmt.Errorf("%w: connection reset", catalog.ErrTransport)).Once()

	require.NoError(t, f.service.RefreshList(ctx, "popular", 1))
	err := f.service.RefreshList(ctx, "popular", 1)
	assert.ErrorIs(t, err, catalog.ErrTransport)
	assert.Equal(t, []int64{1, 2}, listedIDs(t, f.service, "popular", 1))
}

func TestRefreshList_InvalidItemSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	items := summaries(1, 2, 3)
	items[1].Title = "   "
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(items, nil).Once()

	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))
	assert.Equal(t, []int64{1, 3}, listedIDs(t, f.service, "popular", 1))

	_, err := f.store.GetMovie(2)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
}

func TestRefreshList_BlankTitleFromCatalog(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"page": 1, "results": [
			{"id": 1, "title": "Good"},
			{"id": 2, "title": "   "},
			{"id": 3, "title": "Also good"}
		]}`)
	}))
	t.Cleanup(srv.Close)

	orchestrator, err := store.New(testutil.NewTestDB(t))
	require.NoError(t, err)
	client := catalog.NewClient(catalog.Config{ApiKey: "key", BaseUrl: srv.URL, RequestTimeout: time.Second})
	service, err := refresh.New(defaultConfig(), client, orchestrator, event.New())
	require.NoError(t, err)

	require.NoError(t, service.RefreshList(context.Background(), "popular", 1))
	assert.Equal(t, []int64{1, 3}, listedIDs(t, service, "popular", 1))
}

func TestRefreshList_CancelledAfterFetch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).
		Run(func(mock.Arguments) { cancel() }).
		Return(summaries(1, 2), nil).
		Once()

	err := f.service.RefreshList(ctx, "popular", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listedIDs(t, f.service, "popular", 1))

	_, err = f.store.GetMovie(1)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
}

func TestRefreshList_Rejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	assert.ErrorIs(t, f.service.RefreshList(ctx, "popular", 0), refresh.ErrInvalidPage)
	assert.ErrorIs(t, f.service.RefreshList(ctx, "nope", 1), list.ErrListNotFound)
	assert.ErrorIs(t, f.service.RefreshList(ctx, list.FavoritesName, 1), refresh.ErrUnsupportedListType)

	_, err := f.db.GetSqlxDb().Exec("INSERT INTO lists (id, name, type) VALUES (6, 'community', 'PUBLIC')")
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.RefreshList(ctx, "community", 1), refresh.ErrUnsupportedListType)

	_, err = f.service.QueueListRefresh("community", 1)
	assert.ErrorIs(t, err, refresh.ErrUnsupportedListType)

	f.catalog.AssertNotCalled(t, "FetchListPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetFavorite_Reversible(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	var favoriteEvents int
	var mu sync.Mutex
	f.bus.RegisterHandlerFunction(event.FavoriteUpdateEvent, func(event.Event, event.Payload) {
		mu.Lock()
		defer mu.Unlock()
		favoriteEvents++
	})

	f.catalog.On("FetchListPage", mock.Anything, "upcoming", 1).Return(summaries(42), nil).Once()
	require.NoError(t, f.service.RefreshList(ctx, "upcoming", 1))

	for _, state := range []bool{true, true, false, false} {
		require.NoError(t, f.service.SetFavorite(ctx, 42, state))
		m, err := f.store.GetMovie(42)
		require.NoError(t, err)
		assert.Equal(t, state, m.IsFavorite)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, favoriteEvents, "only changes in favorite state dispatch events")
}

func TestSetFavorite_UncachedMovie(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	err := f.service.SetFavorite(context.Background(), 42, true)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
	assert.NoError(t, f.service.SetFavorite(context.Background(), 42, false))

	_, err = f.service.QueueFavorite(42, true)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
	assert.Empty(t, f.service.Tasks())
}

func TestSetFavorite_MissingFavoritesList(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	_, err := f.db.GetSqlxDb().Exec("DELETE FROM lists WHERE name = 'favorites'")
	require.NoError(t, err)

	err = f.service.SetFavorite(context.Background(), 1, true)
	assert.ErrorIs(t, err, refresh.ErrConfiguration)
	assert.ErrorIs(t, err, list.ErrListNotFound)
}

func TestSetFavorite_WrongListType(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	_, err := f.db.GetSqlxDb().Exec("UPDATE lists SET type = 'STANDARD' WHERE name = 'favorites'")
	require.NoError(t, err)

	err = f.service.SetFavorite(context.Background(), 1, true)
	assert.ErrorIs(t, err, refresh.ErrConfiguration)
	assert.ErrorIs(t, err, list.ErrListNotFound)
}

func TestRefreshMovieDetail_Coalesced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(7)).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(detail(7), nil).
		Once()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = f.service.RefreshMovieDetail(ctx, 7)
	}()

	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = f.service.RefreshMovieDetail(ctx, 7)
	}()

	// Give the second caller time to join the in-flight refresh
	time.Sleep(time.Millisecond * 50)
	close(release)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	f.catalog.AssertNumberOfCalls(t, "FetchMovieDetail", 1)
}

func TestRefreshMovieDetail_WaiterRetriesAfterCancelledLeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(7), nil).Once()
	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))

	started := make(chan struct{})
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(7)).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).
		Once()
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(7)).Return(detail(7), nil).Once()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() { leaderErr <- f.service.RefreshMovieDetail(leaderCtx, 7) }()
	<-started

	waiterErr := make(chan error, 1)
	go func() { waiterErr <- f.service.RefreshMovieDetail(context.Background(), 7) }()

	// Give the waiter time to join the in-flight refresh
	time.Sleep(time.Millisecond * 50)
	cancelLeader()

	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.NoError(t, <-waiterErr, "a cancelled leader must not fail a live waiter")
	f.catalog.AssertNumberOfCalls(t, "FetchMovieDetail", 2)

	m, err := f.store.GetMovie(7)
	require.NoError(t, err)
	assert.True(t, m.HasExtendedData)
}

func TestRefreshMovieDetail_MismatchedID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(3)).Return(detail(4), nil).Once()

	err := f.service.RefreshMovieDetail(context.Background(), 3)
	assert.ErrorIs(t, err, catalog.ErrParse)

	_, err = f.store.GetMovie(4)
	assert.ErrorIs(t, err, movie.ErrMovieNotFound)
}

func TestRefreshMovieDetail_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(3)).Return(nil, fmt.Errorf("%w: gone", catalog.ErrNotFound)).Once()

	err := f.service.RefreshMovieDetail(context.Background(), 3)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestGetMovie_QueuesStaleDetailRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchListPage", mock.Anything, "now_playing", 1).Return(summaries(5), nil).Once()
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(5)).Return(detail(5), nil)
	f.run(t)

	require.NoError(t, f.service.RefreshList(context.Background(), "now_playing", 1))

	m, err := f.service.GetMovie(5)
	require.NoError(t, err)
	assert.False(t, m.HasExtendedData, "stale movie is returned without waiting for enrichment")

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		m, err := f.store.GetMovie(5)
		if assert.NoError(c, err) {
			assert.True(c, m.HasExtendedData)
			assert.Len(c, m.Reviews, 1)
		}
	}, time.Second*5, time.Millisecond*20)

	// Fresh movies do not queue further refreshes
	before := len(f.service.Tasks())
	_, err = f.service.GetMovie(5)
	require.NoError(t, err)
	assert.Len(t, f.service.Tasks(), before)
}

func TestGetMovie_QueueFull(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.QueueCapacity = 1
	f := newFixture(t, config)

	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(1, 2), nil).Once()
	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))

	_, err := f.service.QueueSweep()
	require.NoError(t, err)

	m, err := f.service.GetMovie(1)
	require.NoError(t, err, "a full queue must not fail the read")
	assert.Equal(t, int64(1), m.ID)

	_, err = f.service.QueueDetailRefresh(2)
	assert.ErrorIs(t, err, refresh.ErrQueueFull)
}

func TestQueueDetailRefresh_Coalesced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	first, err := f.service.QueueDetailRefresh(9)
	require.NoError(t, err)
	second, err := f.service.QueueDetailRefresh(9)
	require.NoError(t, err)
	other, err := f.service.QueueDetailRefresh(10)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Len(t, f.service.Tasks(), 2)
	assert.Equal(t, refresh.Queued, f.service.Task(first.ID).State)
}

func TestRun_PerformsQueuedTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())
	f.catalog.On("FetchListPage", mock.Anything, "popular", 2).Return(summaries(11, 12), nil).Once()
	f.catalog.On("FetchMovieDetail", mock.Anything, int64(99)).Return(nil, fmt.Errorf("%w: movie 99", catalog.ErrNotFound)).Once()

	failedEvents := make(event.HandlerChannel, 4)
	f.bus.RegisterHandlerChannel(failedEvents, event.TaskFailedEvent)

	ok, err := f.service.QueueListRefresh("popular", 2)
	require.NoError(t, err)
	bad, err := f.service.QueueDetailRefresh(99)
	require.NoError(t, err)

	f.run(t)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Equal(c, refresh.Complete, f.service.Task(ok.ID).State)
		assert.Equal(c, refresh.Failed, f.service.Task(bad.ID).State)
	}, time.Second*5, time.Millisecond*20)

	assert.Equal(t, []int64{11, 12}, listedIDs(t, f.service, "popular", 2))
	failed := f.service.Task(bad.ID)
	assert.Contains(t, failed.Error, catalog.ErrNotFound.Error())
	assert.NotNil(t, failed.FinishedAt)

	select {
	case ev := <-failedEvents:
		assert.Equal(t, bad.ID, ev.Payload)
	case <-time.After(time.Second):
		assert.Fail(t, "expected task failure event")
	}
}

func TestRun_FailsQueuedTasksOnShutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultConfig())

	failedEvents := make(event.HandlerChannel, 4)
	f.bus.RegisterHandlerChannel(failedEvents, event.TaskFailedEvent)

	queued, err := f.service.QueueSweep()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.service.Run(ctx))

	stopped := f.service.Task(queued.ID)
	require.NotNil(t, stopped)
	assert.Equal(t, refresh.Failed, stopped.State)
	assert.Equal(t, refresh.ErrServiceStopped.Error(), stopped.Error)
	assert.NotNil(t, stopped.FinishedAt)

	select {
	case ev := <-failedEvents:
		assert.Equal(t, queued.ID, ev.Payload)
	case <-time.After(time.Second):
		assert.Fail(t, "expected task failure event")
	}
}

func TestRun_PeriodicSweep(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.SweepInterval = time.Millisecond * 20
	f := newFixture(t, config)

	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(1), nil).Once()
	f.catalog.On("FetchListPage", mock.Anything, "popular", 1).Return(summaries(), nil).Once()
	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))
	require.NoError(t, f.service.RefreshList(context.Background(), "popular", 1))

	f.run(t)
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		_, err := f.store.GetMovie(1)
		assert.True(c, errors.Is(err, movie.ErrMovieNotFound))
	}, time.Second*5, time.Millisecond*20)
}
