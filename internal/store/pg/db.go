// Package pg implements the store interfaces on Postgres. The change feed
// rides on LISTEN/NOTIFY: an insert trigger on the messages table emits the
// new row's image on the chatflow_changes channel.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/theuncproject/chatflow/internal/store"
)

// OpenDB opens and pings a Postgres connection pool.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres. The feed keeps its own
// connection (lib/pq listener), so it takes the DSN rather than the pool.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Sessions: NewSessionStore(db),
		Messages: NewMessageStore(db),
		Feed:     NewFeed(dsn),
	}, nil
}
