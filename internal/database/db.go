package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Queryable is the subset of behaviour shared by *sqlx.DB and *sqlx.Tx. Stores
// accept a Queryable so that callers decide whether a query runs standalone
// or as part of a larger transaction.
type Queryable interface {
	sqlx.Ext
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
}

// JsonColumn is a container for a value which is stored in the database
// as serialized JSON text. A NULL column scans to the zero value of T.
type JsonColumn[T any] struct {
	v T
}

func NewJsonColumn[T any](v T) JsonColumn[T] {
	return JsonColumn[T]{v: v}
}

func (j *JsonColumn[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		j.v = *new(T)
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	return json.Unmarshal(raw, &j.v)
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	raw, err := json.Marshal(j.v)
	if err != nil {
		return nil, err
	}

	return string(raw), nil
}

func (j *JsonColumn[T]) Get() *T { return &j.v }
