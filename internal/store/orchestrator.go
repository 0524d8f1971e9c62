package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/internal/list"
	"github.com/hbomb79/Marquee/internal/movie"
	"github.com/hbomb79/Marquee/pkg/logger"
	gsync "github.com/hbomb79/Marquee/pkg/sync"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Store")

type (
	Clock func() time.Time

	// Orchestrator is responsible for managing all of Marquee's cached data.
	// The stores below this layer are 'dumb'; the orchestrator composes them
	// inside transactions and owns the locking which keeps concurrent
	// list refreshes, membership edits and orphan sweeps consistent.
	//
	// Membership writes for a single list are serialised by a per-list mutex.
	// Every membership write additionally holds the sweep lock in shared mode,
	// while an orphan sweep holds it exclusively, so a sweep never observes
	// (or races) a half-finished membership edit.
	Orchestrator struct {
		db              database.Manager
		MovieStore      *movie.Store
		ListStore       *list.Store
		MembershipStore *list.MembershipStore

		listLocks gsync.TypedSyncMap[int64, *sync.Mutex]
		sweepLock sync.RWMutex
		clock     Clock
	}
)

func New(db database.Manager) (*Orchestrator, error) {
	if db.GetSqlxDb() == nil {
		return nil, fmt.Errorf("cannot construct store orchestrator: %w", database.ErrNotConnected)
	}

	return &Orchestrator{
		db:              db,
		MovieStore:      &movie.Store{},
		ListStore:       &list.Store{},
		MembershipStore: &list.MembershipStore{},
		clock:           time.Now,
	}, nil
}

// SetClock replaces the source of 'now' used when stamping writes.
func (orchestrator *Orchestrator) SetClock(clock Clock) { orchestrator.clock = clock }

func (orchestrator *Orchestrator) Now() time.Time { return orchestrator.clock() }

func (orchestrator *Orchestrator) ResolveList(name string) (*list.List, error) {
	return orchestrator.ListStore.Resolve(orchestrator.db.GetSqlxDb(), name)
}

func (orchestrator *Orchestrator) ListLists() ([]*list.List, error) {
	return orchestrator.ListStore.All(orchestrator.db.GetSqlxDb())
}

// SaveListPage upserts the base attributes of each record and then replaces the
// membership of the list page with the records, in the order provided. Both steps
// run in a single transaction; on failure nothing is written.
func (orchestrator *Orchestrator) SaveListPage(listID int64, page int, records []*movie.Record) error {
	defer orchestrator.lockList(listID)()
	orchestrator.sweepLock.RLock()
	defer orchestrator.sweepLock.RUnlock()

	now := orchestrator.clock()
	return orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		ids := make([]int64, 0, len(records))
		for _, record := range records {
			if err := orchestrator.MovieStore.Upsert(tx, record, now); err != nil {
				return err
			}

			ids = append(ids, record.ID)
		}

		return orchestrator.MembershipStore.ReplacePage(tx, listID, page, ids, now)
	})
}

// SaveMovieDetail upserts a record carrying extended data.
func (orchestrator *Orchestrator) SaveMovieDetail(record *movie.Record) error {
	if record.Extended == nil {
		return fmt.Errorf("%w: detail for movie %d carries no extended data", movie.ErrInvalidMovie, record.ID)
	}

	orchestrator.sweepLock.RLock()
	defer orchestrator.sweepLock.RUnlock()

	return orchestrator.MovieStore.Upsert(orchestrator.db.GetSqlxDb(), record, orchestrator.clock())
}

// GetMovie returns the cached movie, with IsFavorite derived from the
// membership of the favorites list.
func (orchestrator *Orchestrator) GetMovie(movieID int64) (*movie.Movie, error) {
	var result *movie.Movie
	err := orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		m, err := orchestrator.MovieStore.Get(tx, movieID)
		if err != nil {
			return err
		}

		favorites, err := orchestrator.favoriteMembers(tx, []int64{movieID})
		if err != nil {
			return err
		}

		_, m.IsFavorite = favorites[movieID]
		result = m
		return nil
	})

	return result, err
}

// ListMovies returns the movies on the page of the list, in position order.
func (orchestrator *Orchestrator) ListMovies(listID int64, page int) ([]*movie.Movie, error) {
	var results []*movie.Movie
	err := orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		ids, err := orchestrator.MembershipStore.PageMovieIDs(tx, listID, page)
		if err != nil {
			return err
		}

		movies, err := orchestrator.MovieStore.GetMany(tx, ids)
		if err != nil {
			return err
		}

		favorites, err := orchestrator.favoriteMembers(tx, ids)
		if err != nil {
			return err
		}

		results = make([]*movie.Movie, 0, len(ids))
		for _, id := range ids {
			m, ok := movies[id]
			if !ok {
				log.Warnf("Membership of list %d references missing movie %d\n", listID, id)
				continue
			}

			_, m.IsFavorite = favorites[id]
			results = append(results, m)
		}

		return nil
	})

	return results, err
}

// AddToList adds a single cached movie to the list. Movies which are not
// cached are rejected with movie.ErrMovieNotFound. The returned boolean
// is false if the movie was already a member of the list.
func (orchestrator *Orchestrator) AddToList(listID int64, movieID int64) (bool, error) {
	defer orchestrator.lockList(listID)()
	orchestrator.sweepLock.RLock()
	defer orchestrator.sweepLock.RUnlock()

	var added bool
	err := orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		exists, err := orchestrator.MovieStore.Exists(tx, movieID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("cannot add movie %d to list %d: %w", movieID, listID, movie.ErrMovieNotFound)
		}

		added, err = orchestrator.MembershipStore.AddSingle(tx, listID, movieID, orchestrator.clock())
		return err
	})

	return added, err
}

// RemoveFromList removes the movie from the list, if present. The returned
// boolean is false if the movie was not a member of the list.
func (orchestrator *Orchestrator) RemoveFromList(listID int64, movieID int64) (bool, error) {
	defer orchestrator.lockList(listID)()
	orchestrator.sweepLock.RLock()
	defer orchestrator.sweepLock.RUnlock()

	return orchestrator.MembershipStore.RemoveSingle(orchestrator.db.GetSqlxDb(), listID, movieID)
}

// SweepOrphans deletes every cached movie which no list references, returning the
// IDs of the deleted movies. The sweep holds the sweep lock exclusively, so the
// snapshot of orphaned movies cannot race an in-flight membership write.
func (orchestrator *Orchestrator) SweepOrphans() ([]int64, error) {
	orchestrator.sweepLock.Lock()
	defer orchestrator.sweepLock.Unlock()

	var deleted []int64
	err := orchestrator.db.WrapTx(func(tx *sqlx.Tx) error {
		orphans, err := orchestrator.MembershipStore.OrphanedMovieIDs(tx)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}

		count, err := orchestrator.MovieStore.DeleteWhere(tx, squirrel.And{squirrel.Eq{"id": orphans}, list.OrphanPredicate()})
		if err != nil {
			return err
		}
		if count != int64(len(orphans)) {
			return fmt.Errorf("orphan sweep expected to delete %d movies but deleted %d", len(orphans), count)
		}

		deleted = orphans
		return nil
	})

	return deleted, err
}

// favoriteMembers returns the subset of the movies which are members of
// the favorites list. If the favorites list does not exist, no movie
// is a favorite.
func (orchestrator *Orchestrator) favoriteMembers(db database.Queryable, movieIDs []int64) (map[int64]struct{}, error) {
	favorites, err := orchestrator.ListStore.Resolve(db, list.FavoritesName)
	if err != nil {
		if errors.Is(err, list.ErrListNotFound) {
			return map[int64]struct{}{}, nil
		}

		return nil, err
	}

	return orchestrator.MembershipStore.MembersOf(db, favorites.ID, movieIDs)
}

// lockList acquires the mutex for the list provided, returning
// the function which must be called to release it.
func (orchestrator *Orchestrator) lockList(listID int64) func() {
	mu, _ := orchestrator.listLocks.LoadOrStore(listID, &sync.Mutex{})
	mu.Lock()

	return mu.Unlock
}
