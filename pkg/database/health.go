package database

import (
	"context"
	"database/sql"
	"time"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthStatus is the database section of the /health response. Pool counters
// matter here because SSE generation streams hold their connections for the
// whole run; a saturated pool shows up as in_use pinned at max_open_conns.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDuration    int64  `json:"wait_duration_ms"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and snapshots the connection pool. On ping
// failure it returns the error alongside an unhealthy status carrying the
// ping latency, so the handler can still report how long the attempt took.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       statusUnhealthy,
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	pool := db.Stats()
	return &HealthStatus{
		Status:          statusHealthy,
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: pool.OpenConnections,
		InUse:           pool.InUse,
		Idle:            pool.Idle,
		WaitCount:       pool.WaitCount,
		WaitDuration:    pool.WaitDuration.Milliseconds(),
		MaxOpenConns:    pool.MaxOpenConnections,
	}, nil
}
