// Package pg backs the Tenant/Team/Routing RoutingStore with Postgres
// for managed deployments, following the teacher's store/pg factory
// pattern — a thin OpenDB wrapper and one constructor per store.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens a connection pool against dsn using the pgx stdlib
// driver, the same driver the teacher's store/pg package and cmd/migrate
// use elsewhere in this tree.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}
