package list

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/pkg/logger"
	"github.com/jmoiron/sqlx"
)

// FavoritePage is the synthetic page used for ad hoc membership edits.
const FavoritePage = 1

type (
	Membership struct {
		ListID   int64     `db:"list_id"`
		MovieID  int64     `db:"movie_id"`
		Page     int       `db:"page"`
		Position int       `db:"position"`
		AddedAt  time.Time `db:"added_at"`
	}

	// MembershipStore records which movies belong to which list. A movie
	// appears at most once per list; the membership relation is the only
	// thing that keeps a cached movie alive through an orphan sweep.
	MembershipStore struct{}
)

// ReplacePage removes all membership rows for the (list, page) pair and inserts
// one row per movie ID in the order given. Duplicate IDs keep their first position.
// A movie already present on a different page of the same list is moved to this page.
//
// The caller is expected to run this inside a transaction so that readers never
// observe a partially replaced page.
func (store *MembershipStore) ReplacePage(db database.Queryable, listID int64, page int, movieIDs []int64, now time.Time) error {
	if _, err := db.Exec(db.Rebind(`DELETE FROM list_memberships WHERE list_id=? AND page=?`), listID, page); err != nil {
		return fmt.Errorf("failed to clear page %d of list %d: %w", page, listID, err)
	}

	rows := make([]Membership, 0, len(movieIDs))
	seen := make(map[int64]struct{}, len(movieIDs))
	for _, id := range movieIDs {
		if _, ok := seen[id]; ok {
			log.Emit(logger.WARNING, "Duplicate movie %d in page %d of list %d, keeping first occurrence\n", id, page, listID)
			continue
		}

		seen[id] = struct{}{}
		rows = append(rows, Membership{ListID: listID, MovieID: id, Page: page, Position: len(rows), AddedAt: now.UTC()})
	}

	if len(rows) == 0 {
		return nil
	}

	_, err := db.NamedExec(`
		INSERT INTO list_memberships(list_id, movie_id, page, position, added_at)
		VALUES (:list_id, :movie_id, :page, :position, :added_at)
		ON CONFLICT(list_id, movie_id) DO UPDATE SET
			page     = excluded.page,
			position = excluded.position,
			added_at = excluded.added_at
	`, rows)
	if err != nil {
		return fmt.Errorf("failed to insert page %d of list %d: %w", page, listID, err)
	}

	return nil
}

// AddSingle appends the movie to the synthetic first page of the list,
// after any existing entries. If the movie is already a member of the
// list this is a no-op. The returned boolean indicates whether a row was added.
func (store *MembershipStore) AddSingle(db database.Queryable, listID int64, movieID int64, now time.Time) (bool, error) {
	var position int
	err := db.Get(&position, db.Rebind(`SELECT COALESCE(MAX(position) + 1, 0) FROM list_memberships WHERE list_id=? AND page=?`), listID, FavoritePage)
	if err != nil {
		return false, fmt.Errorf("failed to find next position in list %d: %w", listID, err)
	}

	res, err := db.Exec(db.Rebind(`
		INSERT INTO list_memberships(list_id, movie_id, page, position, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(list_id, movie_id) DO NOTHING
	`), listID, movieID, FavoritePage, position, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to add movie %d to list %d: %w", movieID, listID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// RemoveSingle deletes the membership row for the movie if present. The
// returned boolean indicates whether a row was removed.
func (store *MembershipStore) RemoveSingle(db database.Queryable, listID int64, movieID int64) (bool, error) {
	res, err := db.Exec(db.Rebind(`DELETE FROM list_memberships WHERE list_id=? AND movie_id=?`), listID, movieID)
	if err != nil {
		return false, fmt.Errorf("failed to remove movie %d from list %d: %w", movieID, listID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// IsOrphan returns true if no list references the movie.
func (store *MembershipStore) IsOrphan(db database.Queryable, movieID int64) (bool, error) {
	var count int
	if err := db.Get(&count, db.Rebind(`SELECT COUNT(*) FROM list_memberships WHERE movie_id=?`), movieID); err != nil {
		return false, fmt.Errorf("failed to count memberships for movie %d: %w", movieID, err)
	}

	return count == 0, nil
}

// Entries returns the membership rows for the page, ordered by position.
func (store *MembershipStore) Entries(db database.Queryable, listID int64, page int) ([]*Membership, error) {
	query, args, err := squirrel.
		Select("list_id", "movie_id", "page", "position", "added_at").
		From("list_memberships").
		Where(squirrel.Eq{"list_id": listID, "page": page}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select memberships query: %w", err)
	}

	var results []*Membership
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select page %d of list %d: %w", page, listID, err)
	}

	return results, nil
}

// PageMovieIDs returns the movie IDs on the page, in position order.
func (store *MembershipStore) PageMovieIDs(db database.Queryable, listID int64, page int) ([]int64, error) {
	entries, err := store.Entries(db, listID, page)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(entries))
	for k, v := range entries {
		ids[k] = v.MovieID
	}

	return ids, nil
}

func (store *MembershipStore) Contains(db database.Queryable, listID int64, movieID int64) (bool, error) {
	var count int
	if err := db.Get(&count, db.Rebind(`SELECT COUNT(*) FROM list_memberships WHERE list_id=? AND movie_id=?`), listID, movieID); err != nil {
		return false, fmt.Errorf("failed to check membership of movie %d in list %d: %w", movieID, listID, err)
	}

	return count > 0, nil
}

// MembersOf returns the subset of the movie IDs provided which are
// members of the list.
func (store *MembershipStore) MembersOf(db database.Queryable, listID int64, movieIDs []int64) (map[int64]struct{}, error) {
	output := make(map[int64]struct{}, len(movieIDs))
	if len(movieIDs) == 0 {
		return output, nil
	}

	query, args, err := sqlx.In(`SELECT movie_id FROM list_memberships WHERE list_id=? AND movie_id IN (?)`, listID, movieIDs)
	if err != nil {
		return nil, err
	}

	var members []int64
	if err := db.Select(&members, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select members of list %d: %w", listID, err)
	}

	for _, id := range members {
		output[id] = struct{}{}
	}

	return output, nil
}

// OrphanPredicate matches movies which no membership row references. It is
// intended for use against the movies table.
func OrphanPredicate() squirrel.Sqlizer {
	return squirrel.Expr(`NOT EXISTS (SELECT 1 FROM list_memberships WHERE list_memberships.movie_id = movies.id)`)
}

// OrphanedMovieIDs returns the IDs of every cached movie which is not
// referenced by any list.
func (store *MembershipStore) OrphanedMovieIDs(db database.Queryable) ([]int64, error) {
	query, args, err := squirrel.Select("id").From("movies").Where(OrphanPredicate()).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct orphan query: %w", err)
	}

	var ids []int64
	if err := db.Select(&ids, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select orphaned movies: %w", err)
	}

	return ids, nil
}
