package list

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/hbomb79/Marquee/internal/database"
	"github.com/hbomb79/Marquee/pkg/logger"
)

var ErrListNotFound = errors.New("list does not exist")

var log = logger.Get("ListStore")

// Store is the list registry. Lists are seeded by migration and are
// read-only from the perspective of this application.
type Store struct{}

// Resolve finds the list with the given name. There is no implicit
// creation of lists; a missing list results in ErrListNotFound.
func (store *Store) Resolve(db database.Queryable, name string) (*List, error) {
	query, args, err := selectListBuilder().Where(squirrel.Eq{"name": name}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select list query: %w", err)
	}

	var list List
	if err := db.Get(&list, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("list '%s': %w", name, ErrListNotFound)
		}

		return nil, fmt.Errorf("failed to resolve list '%s': %w", name, err)
	}

	return &list, nil
}

func (store *Store) All(db database.Queryable) ([]*List, error) {
	query, args, err := selectListBuilder().OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select lists query: %w", err)
	}

	var results []*List
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to select lists: %w", err)
	}

	return results, nil
}

func selectListBuilder() squirrel.SelectBuilder {
	return squirrel.Select("id", "name", "type").From("lists")
}
