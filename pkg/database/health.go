package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus describes the database's reachability.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// Health pings the database and reports status with round-trip latency.
func Health(ctx context.Context, db *sql.DB) HealthStatus {
	start := time.Now()
	err := db.PingContext(ctx)
	status := HealthStatus{
		Healthy: err == nil,
		Latency: time.Since(start).String(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
