package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kinechat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const pingTimeout = 5 * time.Second

// Open connects to the history database. sqlite needs a DSN (file path or
// ":memory:"); mysql takes either a DSN or host/port/credentials.
func Open(dbType string, dbCfg config.DatabaseConfig) (*sql.DB, error) {
	driver, dsn, err := resolveDSN(dbType, dbCfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// single writer; also pins ":memory:" to one connection
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func resolveDSN(dbType string, dbCfg config.DatabaseConfig) (driver, dsn string, err error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return "", "", fmt.Errorf("sqlite dsn must be provided")
		}
		return "sqlite3", dbCfg.DSN, nil
	case "mysql":
		if dbCfg.DSN != "" {
			return "mysql", dbCfg.DSN, nil
		}
		params := dbCfg.Params
		if !strings.Contains(params, "parseTime") {
			params = strings.TrimPrefix(params+"&parseTime=true", "&")
		}
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName, params), nil
	default:
		return "", "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// Migrate ensures the messages table is present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				session_id VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_session (session_id, id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
