package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	SqliteDialect   = "sqlite3"
	PostgresDialect = "postgres"

	sqliteConnectionString   = "file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
	postgresConnectionString = "host=%s user=%s password=%s dbname=%s port=%s sslmode=disable"
)

// DatabaseConfig is a subset of the configuration focusing solely
// on database connection items. The SQLite dialect only consults the
// Path, while Postgres uses the remaining connection details.
type DatabaseConfig struct {
	Dialect  string `yaml:"dialect" env:"DB_DIALECT" env-default:"sqlite3"`
	Path     string `yaml:"path" env:"DB_PATH" env-default:"~/.marquee/marquee.db"`
	User     string `yaml:"username" env:"DB_USERNAME"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Name     string `yaml:"name" env:"DB_NAME" env-default:"marquee"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"5432"`
}

// connectionString returns the driver name and DSN for this config. For
// SQLite, the directory containing the database file is created if needed.
func (config DatabaseConfig) connectionString() (string, string, error) {
	switch config.Dialect {
	case SqliteDialect, "":
		path, err := homedir.Expand(config.Path)
		if err != nil {
			return "", "", fmt.Errorf("failed to expand sqlite path %q: %w", config.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), os.ModeDir|0o755); err != nil {
			return "", "", fmt.Errorf("failed to create sqlite directory: %w", err)
		}

		return SqliteDialect, fmt.Sprintf(sqliteConnectionString, path), nil
	case PostgresDialect:
		if config.User == "" || config.Password == "" {
			return "", "", fmt.Errorf("postgres dialect requires DB_USERNAME and DB_PASSWORD")
		}

		return PostgresDialect, fmt.Sprintf(postgresConnectionString, config.Host, config.User, config.Password, config.Name, config.Port), nil
	}

	return "", "", fmt.Errorf("unsupported database dialect %q", config.Dialect)
}
