package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hbomb79/Marquee/pkg/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	sqldblogger "github.com/simukti/sqldb-logger"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second * 3
)

var (
	//go:embed migrations/*.sql
	migrations embed.FS

	// goose keeps its dialect and filesystem in package-level state, so
	// concurrent migrations (e.g. parallel tests) must be serialised.
	migrationMu sync.Mutex

	dbLogger = logger.Get("DB")

	ErrNotConnected = errors.New("DB manager has not yet connected")
)

type (
	SqlLogger struct {
		logger logger.Logger
	}

	Manager interface {
		Connect(DatabaseConfig) error
		GetSqlxDb() *sqlx.DB
		WrapTx(func(*sqlx.Tx) error) error
		Close() error
	}

	manager struct {
		rawDb   *sql.DB
		db      *sqlx.DB
		dialect string
	}
)

func New() *manager {
	return &manager{}
}

// Connect opens a connection to the database described by the config,
// waits for the database to become reachable and then executes any pending
// migrations. All SQL executed through the resulting connection is logged
// via the DB logger.
func (db *manager) Connect(config DatabaseConfig) error {
	if db.db != nil {
		return errors.New("DB manager is already connected")
	}

	dialect, dsn, err := config.connectionString()
	if err != nil {
		return err
	}

	opened, err := sql.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", dialect, err)
	}
	driver := opened.Driver()
	_ = opened.Close()

	conn := sqldblogger.OpenDriver(dsn, driver, &SqlLogger{dbLogger})
	if dialect == SqliteDialect {
		// SQLite permits a single writer; one connection makes every
		// transaction linearizable with respect to readers in this process.
		conn.SetMaxOpenConns(1)
	}

	for attempt := 1; ; attempt++ {
		err := conn.Ping()
		if err == nil {
			break
		}

		if attempt >= connectAttempts {
			dbLogger.Emit(logger.ERROR, "All attempts FAILED!\n")
			_ = conn.Close()
			return fmt.Errorf("failed to connect to %s database: %w", dialect, err)
		}

		dbLogger.Emit(logger.WARNING, "Attempt (%v/%v) failed... Retrying in %s\n", attempt, connectAttempts, connectBackoff)
		time.Sleep(connectBackoff)
	}

	db.rawDb = conn
	db.db = sqlx.NewDb(conn, dialect)
	db.dialect = dialect

	if err := db.ExecuteMigrations(); err != nil {
		return err
	}

	dbLogger.Emit(logger.SUCCESS, "Database connection (%s) complete!\n", dialect)
	return nil
}

// ExecuteMigrations uses the comp-time embedded SQL migrations (found in the 'migrations'
// dir in this package) and runs them against the current DB instance.
//
// Note that this method must only be called following a successful DB connection.
func (db *manager) ExecuteMigrations() error {
	rawDb := db.rawDb
	if rawDb == nil {
		return fmt.Errorf("cannot execute migrations: %w", ErrNotConnected)
	}

	migrationMu.Lock()
	defer migrationMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{dbLogger})
	if err := goose.SetDialect(db.dialect); err != nil {
		return fmt.Errorf("failed to set dialect for DB migration: %w", err)
	}

	dbLogger.Emit(logger.INFO, "Checking for pending DB migrations...\n")
	if err := goose.Up(rawDb, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate DB: %w", err)
	}

	dbLogger.Emit(logger.SUCCESS, "DB Goose migration complete!\n")
	return nil
}

// GetSqlxDb returns the sqlx database connection if
// one has been opened using 'Connect'. Otherwise, nil is returned
func (db *manager) GetSqlxDb() *sqlx.DB {
	return db.db
}

// WrapTx is a convinience method around the top-level WrapTx, which simply
// uses the managers DB instance as the first argument.
func (db *manager) WrapTx(f func(tx *sqlx.Tx) error) error {
	if db.db == nil {
		return ErrNotConnected
	}

	return WrapTx(db.db, f)
}

func (db *manager) Close() error {
	if db.db == nil {
		return nil
	}

	err := db.db.Close()
	db.db = nil
	db.rawDb = nil
	return err
}

func (l *SqlLogger) Log(_ context.Context, level sqldblogger.Level, msg string, data map[string]any) {
	template := "%s - %v\n"
	switch level {
	case sqldblogger.LevelTrace:
		l.logger.Verbosef(template, msg, data)
	case sqldblogger.LevelDebug, sqldblogger.LevelInfo:
		duration := data["duration"]
		query, ok := data["query"]
		if ok {
			l.logger.Verbosef("%s [%.2fms] -- %s\n", msg, duration, query)
		} else {
			l.logger.Verbosef("%s [%.2fms]\n", msg, duration)
		}
	case sqldblogger.LevelError:
		l.logger.Errorf(template, msg, data)
	}
}

// gooseLogger adapts our logger to the interface goose expects. Fatal
// calls are reported as errors rather than exiting the process; goose
// returns the error to our caller regardless.
type gooseLogger struct{ logger logger.Logger }

func (l *gooseLogger) Fatal(v ...interface{}) { l.logger.Errorf("%s", fmt.Sprint(v...)) }
func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Errorf(format, v...)
}
func (l *gooseLogger) Print(v ...interface{})   { l.logger.Infof("%s", fmt.Sprint(v...)) }
func (l *gooseLogger) Println(v ...interface{}) { l.logger.Infof("%s", fmt.Sprintln(v...)) }
func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}

// WrapTx starts a transaction against the provided DB, and then calls the user
// provided function. If this function errors, the transaction is rolled back - otherwise
// the transaction is committed.
func WrapTx(db *sqlx.DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := f(tx); err != nil {
		dbLogger.Debugf("Transaction failed... rolling back. Error: %s\n", err.Error())
		return err
	}

	return tx.Commit()
}
