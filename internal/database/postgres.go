package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "greenvest")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// InitDB initializes the database connection
func InitDB() (*sql.DB, error) {
	config := GetConfig()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Name, config.SSLMode,
	)

	var err error
	db, err = sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Println("Database connection established")
	return db, nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes database with error handling
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := EnsureSchema(db); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	return db
}

// EnsureSchema creates the wallet tables if they do not exist. The ledger
// table is append-only; there are no UPDATE or DELETE paths against it.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'ACTIVE',
			email      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id                 BIGSERIAL PRIMARY KEY,
			account_id         TEXT NOT NULL REFERENCES accounts(id),
			type               TEXT NOT NULL,
			amount             BIGINT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'completed',
			external_reference TEXT,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
			ON ledger_entries (account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
			id                BIGSERIAL PRIMARY KEY,
			external_id       TEXT NOT NULL UNIQUE,
			account_id        TEXT NOT NULL REFERENCES accounts(id),
			amount            BIGINT NOT NULL,
			currency          TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'pending',
			webhook_processed BOOLEAN NOT NULL DEFAULT FALSE,
			ledger_entry_id   BIGINT REFERENCES ledger_entries(id),
			metadata          JSONB,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id              TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL REFERENCES accounts(id),
			amount          BIGINT NOT NULL,
			destination     TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending_approval',
			requested_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			approved_at     TIMESTAMPTZ,
			available_at    TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ,
			rejected_reason TEXT,
			ledger_entry_id BIGINT REFERENCES ledger_entries(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_account
			ON withdrawal_requests (account_id, requested_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_status
			ON withdrawal_requests (status, requested_at)`,
		`CREATE TABLE IF NOT EXISTS platform_settlements (
			id          BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL,
			account_id  TEXT NOT NULL REFERENCES accounts(id),
			amount      BIGINT NOT NULL,
			direction   TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
