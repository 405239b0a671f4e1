package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskQueue is a durable at-least-once work queue on Redis: a list for ready
// jobs and a sorted set, scored by due time, for delayed retries. Worker-side
// idempotency markers turn at-least-once into effectively-once.
type TaskQueue struct {
	client  *redis.Client
	list    string
	delayed string
}

func NewTaskQueue(client *redis.Client, name string) *TaskQueue {
	return &TaskQueue{
		client:  client,
		list:    fmt.Sprintf("queue:%s", name),
		delayed: fmt.Sprintf("queue:%s:delayed", name),
	}
}

// Enqueue makes the payload immediately available to a worker.
func (q *TaskQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.list, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// EnqueueAt parks the payload until `at`, when promoteDue moves it onto the
// ready list.
func (q *TaskQueue) EnqueueAt(ctx context.Context, payload []byte, at time.Time) error {
	member := redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}
	if err := q.client.ZAdd(ctx, q.delayed, member).Err(); err != nil {
		return fmt.Errorf("enqueue delayed task: %w", err)
	}
	return nil
}

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], 0, ARGV[1], "LIMIT", 0, 100)
for _, member in ipairs(due) do
  redis.call("LPUSH", KEYS[2], member)
  redis.call("ZREM", KEYS[1], member)
end
return #due
`)

func (q *TaskQueue) promoteDue(ctx context.Context, now time.Time) error {
	score := strconv.FormatInt(now.UnixMilli(), 10)
	if err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.list}, score).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote due tasks: %w", err)
	}
	return nil
}

// Dequeue blocks up to `timeout` for the next ready payload. A nil payload
// with nil error means the wait timed out.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := q.promoteDue(ctx, time.Now()); err != nil {
		return nil, err
	}

	res, err := q.client.BRPop(ctx, timeout, q.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue task: %w", err)
	}

	// BRPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

// Pending reports how many tasks are ready plus how many are parked.
func (q *TaskQueue) Pending(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, q.list).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	parked, err := q.client.ZCard(ctx, q.delayed).Result()
	if err != nil {
		return 0, fmt.Errorf("delayed queue length: %w", err)
	}
	return ready + parked, nil
}
