package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/itemloc_backend/config"
	"github.com/mmdatafocus/itemloc_backend/models"
	"github.com/sirupsen/logrus"
)

// SeriesLocker keeps two processes from adjusting the same series at once.
type SeriesLocker interface {
	LockSeries(ctx context.Context, series int) (unlock func(), err error)
}

type noopSeriesLocker struct{}

func (noopSeriesLocker) LockSeries(context.Context, int) (func(), error) {
	return func() {}, nil
}

// RedisSeriesLocker holds a redis lock per series for the length of an adjustment.
// The TTL has to cover interactive waits.
type RedisSeriesLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisSeriesLocker(client *redislock.Client, ttl time.Duration) *RedisSeriesLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisSeriesLocker{client: client, ttl: ttl, logger: config.GetLogger()}
}

// a session that just released the series gets a short grace period
var seriesLockRetry = redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 5)

// DefaultSeriesLocker uses the process redis lock client when one is connected.
func DefaultSeriesLocker() SeriesLocker {
	if locker := config.GetRedisLock(); locker != nil {
		return NewRedisSeriesLocker(locker, 0)
	}
	return noopSeriesLocker{}
}

func (l *RedisSeriesLocker) LockSeries(ctx context.Context, series int) (func(), error) {
	logger := l.logger
	if l.client == nil {
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("itemloc-series:%d", series)
	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{RetryStrategy: seriesLockRetry})
	if errors.Is(err, redislock.ErrNotObtained) {
		config.LogError(logger, "seriesLock.go", "LockSeries", "Could not obtain lock for series", series, err)
		return nil, models.NewDistError(models.KindStoreFailed, "lockSeries",
			fmt.Sprintf("series %d is being distributed by another session", series), err)
	} else if err != nil {
		config.LogError(logger, "seriesLock.go", "LockSeries", "Error obtaining lock for series", series, err)
		return nil, models.NewDistError(models.KindStoreFailed, "lockSeries", "", err)
	}
	return func() {
		l.release(series, lock.Release)
	}, nil
}

// release runs after the adjustment, so a failure is only logged. An expired lock
// shows up here as redislock.ErrLockNotHeld.
func (l *RedisSeriesLocker) release(series int, release func(ctx context.Context) error) {
	if err := release(context.Background()); err != nil {
		config.LogError(l.logger, "seriesLock.go", "LockSeries", "Error releasing lock for series", series, err)
	}
}
