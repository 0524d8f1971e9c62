package list

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// Type determines how a list is populated. Only STANDARD lists are
// refreshed from the remote catalog.
type Type int

const (
	None Type = iota
	Standard
	Favorite
	Public
)

// FavoritesName is the reserved name of the list which holds the
// users favorite movies.
const FavoritesName = "favorites"

var ErrNoneType = errors.New("list type NONE cannot be persisted")

type List struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Type Type   `db:"type"`
}

func (t Type) String() string {
	switch t {
	case Standard:
		return "STANDARD"
	case Favorite:
		return "FAVORITE"
	case Public:
		return "PUBLIC"
	}

	return "NONE"
}

func ParseType(s string) (Type, error) {
	switch s {
	case "STANDARD":
		return Standard, nil
	case "FAVORITE":
		return Favorite, nil
	case "PUBLIC":
		return Public, nil
	}

	return None, fmt.Errorf("unknown list type %q", s)
}

func (t *Type) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T in to list type", src)
	}

	parsed, err := ParseType(raw)
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}

func (t Type) Value() (driver.Value, error) {
	if t == None {
		return nil, ErrNoneType
	}

	return t.String(), nil
}
