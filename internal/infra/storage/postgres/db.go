package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/vietddude/valuator/internal/valuation/metrics"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Driver   string `yaml:"driver"` // pgx (default) or postgres
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// DriverName returns the database/sql driver to open.
func (c Config) DriverName() string {
	switch c.Driver {
	case "", "pgx":
		return "pgx"
	default:
		return c.Driver
	}
}

// DB wraps the PostgreSQL connection.
type DB struct {
	*sqlx.DB
}

// NewDB opens the pool described by cfg and verifies it with a ping.
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is empty")
	}
	db, err := sqlx.Open(cfg.DriverName(), cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle := cfg.MaxConns, cfg.MinConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = min(2, maxOpen)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.DriverName(), err)
	}
	return &DB{DB: db}, nil
}

// StartMetricsCollector publishes pool usage every 15s until ctx ends.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.reportPoolUsage()
			}
		}
	}()
}

func (db *DB) reportPoolUsage() {
	st := db.Stats()
	if st.MaxOpenConnections == 0 {
		return
	}
	metrics.DBConnectionPoolUsage.Set(100 * float64(st.InUse) / float64(st.MaxOpenConnections))
}

// Health pings the database with a short deadline.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
