package health

import (
	"context"
	"errors"
	"time"
)

// WorkerChecker verifies that a background worker is running
type WorkerChecker struct {
	name      string
	isRunning func() bool
}

// NewWorkerChecker creates a worker health checker
func NewWorkerChecker(name string, isRunning func() bool) *WorkerChecker {
	return &WorkerChecker{name: name, isRunning: isRunning}
}

func (c *WorkerChecker) Check(ctx context.Context) CheckResult {
	started := time.Now()

	if !c.isRunning() {
		return unhealthyResult(c.name, errors.New("worker not running"), started)
	}
	return healthyResult(c.name, "running", started)
}

func (c *WorkerChecker) Name() string {
	return c.name
}
