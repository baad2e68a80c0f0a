package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ReadyKey   = "jobs:ready"
	DelayedKey = "jobs:delayed"
	DeadKey    = "jobs:dead"
)

const (
	defaultRetryDelay  = 30 * time.Second
	defaultMaxAttempts = 10
	promoteBatch       = 100
)

// promoteScript moves due members from the delayed set to the ready list in
// one step, so two promoters can never push the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, body in ipairs(due) do
	redis.call('ZREM', KEYS[1], body)
	redis.call('RPUSH', KEYS[2], body)
end
return #due
`)

// DeadLetter is what lands on DeadKey once a job has used up its attempts.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// RedisQueue keeps ready jobs in a list and delayed jobs in a sorted set
// scored by their due time in unix milliseconds. Jobs that fail maxAttempts
// times are parked on the dead-letter list.
type RedisQueue struct {
	client       redis.Cmdable
	logger       *zap.Logger
	maxAttempts  int
	pollTimeout  time.Duration
	promoteEvery time.Duration
	retryDelay   time.Duration
	now          func() time.Time
}

func NewRedisQueue(client redis.Cmdable, maxAttempts int, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RedisQueue{
		client:       client,
		logger:       logger,
		maxAttempts:  maxAttempts,
		pollTimeout:  5 * time.Second,
		promoteEvery: time.Second,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if delay <= 0 {
		return q.client.RPush(ctx, ReadyKey, body).Err()
	}
	due := q.now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, DelayedKey, redis.Z{Score: float64(due), Member: body}).Err()
}

// PromoteDue moves up to one batch of delayed jobs whose due time has
// passed onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := promoteScript.Run(ctx, q.client, []string{DelayedKey, ReadyKey}, max, promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Next blocks up to the poll timeout for one ready job. It returns nil, nil
// when nothing arrived.
func (q *RedisQueue) Next(ctx context.Context) (*Job, error) {
	res, err := q.client.BLPop(ctx, q.pollTimeout, ReadyKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.logger.Error("Dropping undecodable job", zap.Error(err), zap.String("payload", res[1]))
		return nil, nil
	}
	return &job, nil
}

// Consume runs the promoter and dispatches ready jobs. A failed job is
// delayed and retried with its attempt counter bumped until maxAttempts.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.logger.Info("Starting Redis job consumer", zap.String("ready", ReadyKey), zap.String("delayed", DelayedKey))

	go func() {
		ticker := time.NewTicker(q.promoteEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.PromoteDue(ctx); err != nil && ctx.Err() == nil {
					q.logger.Warn("Failed to promote delayed jobs", zap.Error(err))
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			q.logger.Info("Redis job consumer stopped")
			return ctx.Err()
		}

		job, err := q.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			q.logger.Error("Error reading job queue", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := handler(ctx, *job); err != nil {
			q.fail(ctx, *job, err)
		}
	}
}

// fail schedules another attempt, or parks the job on the dead-letter list
// once it has been tried maxAttempts times.
func (q *RedisQueue) fail(ctx context.Context, job Job, cause error) {
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
		zap.Error(cause),
	}

	if job.Attempt >= q.maxAttempts {
		q.logger.Error("Job exhausted its attempts, moving to dead-letter list",
			append(fields, zap.Int("max_attempts", q.maxAttempts))...)
		body, err := json.Marshal(DeadLetter{Job: job, Error: cause.Error(), FailedAt: q.now().UTC()})
		if err != nil {
			q.logger.Error("Failed to encode dead letter", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		if err := q.client.RPush(ctx, DeadKey, body).Err(); err != nil {
			q.logger.Error("Failed to dead-letter job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}

	q.logger.Warn("Job failed, scheduling retry", fields...)
	next := job.Next()
	next.EnqueuedAt = q.now().UTC()
	if err := q.Enqueue(ctx, next, q.retryDelay); err != nil {
		q.logger.Error("Failed to reschedule job", zap.String("job_id", job.ID), zap.Error(err))
	}
}
