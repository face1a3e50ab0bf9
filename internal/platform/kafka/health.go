package kafka

import (
	"context"
	"fmt"
	"time"
)

// Pinger is satisfied by producer.Producer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker checks Kafka broker connectivity through an existing client.
type HealthChecker struct {
	client  Pinger
	timeout time.Duration
}

// NewHealthChecker creates a new Kafka health checker.
func NewHealthChecker(client Pinger) *HealthChecker {
	return &HealthChecker{
		client:  client,
		timeout: 2 * time.Second,
	}
}

// Check returns nil when at least one broker answers.
func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.client.Ping(ctx); err != nil {
		return fmt.Errorf("no kafka brokers reachable: %w", err)
	}
	return nil
}

// Name returns the check name for health reporting.
func (h *HealthChecker) Name() string {
	return "kafka"
}
