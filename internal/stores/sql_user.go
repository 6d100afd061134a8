package stores

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/secretstore"
)

// sqlDrivers maps accepted engine names to database/sql driver names.
var sqlDrivers = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// SQLUserStore sets the password of a database login to the rotated value.
type SQLUserStore struct {
	name          string
	driver        string
	username      string
	host          string
	setValidUntil bool
	timeout       time.Duration
	db            *sql.DB
	logger        *logging.Logger
}

// SQLUserOption is a functional option for configuring the SQL user store
type SQLUserOption func(*SQLUserStore)

// WithSQLDB sets the database handle (for testing)
func WithSQLDB(db *sql.DB) SQLUserOption {
	return func(s *SQLUserStore) {
		s.db = db
	}
}

// NewSQLUserStore creates a SQL user store.
//
// The connection string comes from dsn or from the environment variable named
// by dsn_env. The connecting user needs privileges to alter the rotated login.
func NewSQLUserStore(name string, cfg map[string]interface{}, logger *logging.Logger, opts ...SQLUserOption) (*SQLUserStore, error) {
	engine, err := requiredString(cfg, name, "engine", "Set engine to postgres or mysql")
	if err != nil {
		return nil, err
	}
	driver, ok := sqlDrivers[strings.ToLower(engine)]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("stores.%s.engine", name),
			Value:      engine,
			Message:    "unsupported database engine",
			Suggestion: "Use postgres or mysql",
		}
	}
	username, err := requiredString(cfg, name, "username", "Set username to the login whose password is rotated")
	if err != nil {
		return nil, err
	}

	s := &SQLUserStore{
		name:          name,
		driver:        driver,
		username:      username,
		host:          stringValue(cfg, "user_host"),
		setValidUntil: boolValue(cfg, "set_valid_until", true),
		timeout:       time.Duration(intValue(cfg, "timeout_seconds", 30)) * time.Second,
		logger:        logger,
	}
	if s.host == "" {
		s.host = "%"
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}

	if s.db == nil {
		dsn := stringValue(cfg, "dsn")
		if envName := stringValue(cfg, "dsn_env"); dsn == "" && envName != "" {
			dsn = os.Getenv(envName)
		}
		if dsn == "" {
			return nil, dserrors.ConfigError{
				Field:      fmt.Sprintf("stores.%s.dsn", name),
				Message:    "a connection string is required",
				Suggestion: "Set dsn, or dsn_env to the name of an environment variable holding it",
			}
		}
		if driver == "mysql" {
			if dsn, err = interpolatedMySQLDSN(dsn); err != nil {
				return nil, dserrors.ConfigError{
					Field:   fmt.Sprintf("stores.%s.dsn", name),
					Message: fmt.Sprintf("invalid MySQL DSN: %v", err),
				}
			}
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		s.db = db
	}

	return s, nil
}

// interpolatedMySQLDSN enables client-side placeholder interpolation; MySQL
// cannot prepare ALTER USER with bound parameters.
func interpolatedMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.InterpolateParams = true
	return cfg.FormatDSN(), nil
}

// NewSQLUserStoreFactory creates a SQL user store from configuration
func NewSQLUserStoreFactory(name string, cfg map[string]interface{}, logger *logging.Logger) (secretstore.Store, error) {
	return NewSQLUserStore(name, cfg, logger)
}

// Name returns the store name
func (s *SQLUserStore) Name() string {
	return s.name
}

// Close releases the database handle.
func (s *SQLUserStore) Close() error {
	return s.db.Close()
}

// WriteSecret changes the login's password inside a transaction.
func (s *SQLUserStore) WriteSecret(ctx context.Context, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	if whatIf {
		s.logger.Info("%sWould change the password of %s", logging.WhatIf(true), s.username)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dserrors.StoreError("sql.user", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch s.driver {
	case "postgres":
		_, err = tx.ExecContext(ctx, s.postgresStatement(value))
	case "mysql":
		_, err = tx.ExecContext(ctx, "ALTER USER ?@? IDENTIFIED BY ?", s.username, s.host, value.Value)
	}
	if err != nil {
		return dserrors.StoreError("sql.user", "alter user", logging.RedactError(err, value.Value))
	}

	if err := tx.Commit(); err != nil {
		return dserrors.StoreError("sql.user", "commit", err)
	}

	s.logger.Info("Changed the password of %s", s.username)
	return nil
}

// postgresStatement builds ALTER ROLE with quoted literals; utility statements
// do not accept bind parameters in PostgreSQL.
func (s *SQLUserStore) postgresStatement(value *secretstore.SecretValue) string {
	stmt := fmt.Sprintf("ALTER ROLE %s WITH PASSWORD %s", pq.QuoteIdentifier(s.username), pq.QuoteLiteral(value.Value))
	if s.setValidUntil && value.ExpirationDate != nil {
		stmt += " VALID UNTIL " + pq.QuoteLiteral(formatTime(*value.ExpirationDate))
	}
	return stmt
}
