package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Pinger is the minimal interface of a database handle capable of Ping.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// BuildReadinessChecks returns the db and redis readiness checks. rdb may be
// nil (limiter disabled); the redis check is then nil as well.
func BuildReadinessChecks(db Pinger, rdb *redis.Client) (func(ctx context.Context) error, func(ctx context.Context) error) {
	dbCheck := func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("db not configured")
		}
		return db.PingContext(ctx)
	}
	if rdb == nil {
		return dbCheck, nil
	}
	redisCheck := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
	return dbCheck, redisCheck
}
