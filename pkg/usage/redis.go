package usage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const executionKeyPrefix = "tenantgate:executions:"

// RedisExecutions keeps the monthly execution counter in redis. INCR gives the
// atomic increment; the monthly reset deletes or expires the keys externally.
type RedisExecutions struct {
	rdb *redis.Client
}

func NewRedisExecutions(rdb *redis.Client) *RedisExecutions {
	return &RedisExecutions{rdb: rdb}
}

func executionKey(subjectID string) string { return executionKeyPrefix + subjectID }

func (r *RedisExecutions) MonthlyExecutionCount(ctx context.Context, subjectID string) (int64, error) {
	n, err := r.rdb.Get(ctx, executionKey(subjectID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisExecutions) IncrementExecutions(ctx context.Context, subjectID string) (int64, error) {
	return r.rdb.Incr(ctx, executionKey(subjectID)).Result()
}
