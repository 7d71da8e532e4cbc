package models

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const seriesSequenceKey = "itemloc:series"

// RedisSeriesSequence issues series ids with INCR on one key.
type RedisSeriesSequence struct {
	client *redis.Client
	key    string
}

func NewRedisSeriesSequence(client *redis.Client) *RedisSeriesSequence {
	return &RedisSeriesSequence{client: client, key: seriesSequenceKey}
}

func (s *RedisSeriesSequence) NextSeriesId(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, errors.New("redis is not connected")
	}
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Seed moves the counter forward to at least floor, e.g. the highest series in the ledger.
func (s *RedisSeriesSequence) Seed(ctx context.Context, floor int) error {
	if s.client == nil {
		return errors.New("redis is not connected")
	}
	cur, err := s.client.Get(ctx, s.key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if cur >= floor {
		return nil
	}
	return s.client.Set(ctx, s.key, floor, 0).Err()
}

// GormSeriesSequence issues series ids from an auto increment table.
type GormSeriesSequence struct {
	db *gorm.DB
}

func NewGormSeriesSequence(db *gorm.DB) *GormSeriesSequence {
	return &GormSeriesSequence{db: db}
}

func (s *GormSeriesSequence) NextSeriesId(ctx context.Context) (int, error) {
	row := ItemlocSeriesSeq{}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}
