package health

import (
	"context"
	"database/sql"
	"time"
)

// DatabaseChecker verifies postgres connectivity and pool headroom
type DatabaseChecker struct {
	db      *sql.DB
	timeout time.Duration
}

// NewDatabaseChecker creates a database health checker. A zero timeout
// defaults to 5 seconds.
func NewDatabaseChecker(db *sql.DB, timeout time.Duration) *DatabaseChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &DatabaseChecker{db: db, timeout: timeout}
}

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return unhealthyResult("database", err, started)
	}

	result := healthyResult("database", "connected", started)

	stats := c.db.Stats()
	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.OpenConnections) / float64(stats.MaxOpenConnections)
		if utilization > 0.8 {
			result.Status = StatusDegraded
			result.Message = "high connection pool utilization"
		}
	}

	return result
}

func (c *DatabaseChecker) Name() string {
	return "database"
}
