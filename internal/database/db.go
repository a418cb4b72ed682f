// Package database opens the MySQL ledger and bootstraps its schema.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/labstack/gommon/log"
)

// connectAttempts bounds how long startup waits for MySQL to accept
// connections, one attempt every two seconds.
const connectAttempts = 15

// Open connects to MySQL and verifies the connection, retrying while the
// server is still starting.  Ledger transactions are short, so the pool
// keeps connections warm rather than large.
func Open(ctx context.Context, user, pass, host, port, name string) (*sql.DB, error) {
	dsn := mysql.NewConfig()
	dsn.User = user
	dsn.Passwd = pass
	dsn.Net = "tcp"
	dsn.Addr = host + ":" + port
	dsn.DBName = name
	// DATETIME -> time.Time in UTC
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logger := log.New("database")
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return db, nil
		}
		if attempt == connectAttempts || ctx.Err() != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mysql %s unreachable after %d attempts: %w", dsn.Addr, attempt, err)
		}
		logger.Warnf("mysql %s not ready (attempt %d/%d): %v", dsn.Addr, attempt, connectAttempts, err)
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
}
