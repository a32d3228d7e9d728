package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/haul-reconciler/internal/domain"
)

// ReportCache stores built weekly reports keyed by driver and week ending.
type ReportCache interface {
	Get(ctx context.Context, driverID string, weekEnding time.Time) (*domain.Report, bool, error)
	Set(ctx context.Context, report domain.Report) error
	Invalidate(ctx context.Context, driverID string, weekEnding time.Time) error
}

type redisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReportCache caches reports as JSON with the given TTL. A nil client
// yields a cache that never hits.
func NewRedisReportCache(client *redis.Client, ttl time.Duration) ReportCache {
	if client == nil {
		return NoopReportCache{}
	}
	return &redisReportCache{client: client, ttl: ttl}
}

func reportKey(driverID string, weekEnding time.Time) string {
	return fmt.Sprintf("haul:report:%s:%s", driverID, weekEnding.Format(time.DateOnly))
}

func (c *redisReportCache) Get(ctx context.Context, driverID string, weekEnding time.Time) (*domain.Report, bool, error) {
	data, err := c.client.Get(ctx, reportKey(driverID, weekEnding)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("decode cached report: %w", err)
	}
	return &report, true, nil
}

func (c *redisReportCache) Set(ctx context.Context, report domain.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, reportKey(report.DriverID, report.WeekEnding), data, c.ttl).Err()
}

func (c *redisReportCache) Invalidate(ctx context.Context, driverID string, weekEnding time.Time) error {
	return c.client.Del(ctx, reportKey(driverID, weekEnding)).Err()
}

// NoopReportCache never stores anything.
type NoopReportCache struct{}

func (NoopReportCache) Get(context.Context, string, time.Time) (*domain.Report, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(context.Context, domain.Report) error { return nil }

func (NoopReportCache) Invalidate(context.Context, string, time.Time) error { return nil }
