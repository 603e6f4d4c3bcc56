package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// errorBackoff is the pause after a failed broker call before trying again.
const errorBackoff = time.Second

// promoteBatch caps how many due retries one promotion pass moves.
const promoteBatch = 16

// promoteScript moves due members of a delayed set (KEYS[1]) onto the task
// stream (KEYS[2]). Running it as one script keeps concurrent workers from
// promoting the same retry twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, data in ipairs(due) do
	redis.call('XADD', KEYS[2], '*', 'data', data)
	redis.call('ZREM', KEYS[1], data)
end
return #due
`)

// RedisDequeuer runs a pool of workers that read task streams through a
// shared consumer group. Entries are acknowledged only after the task has
// completed, and entries left pending by a crashed consumer are reclaimed
// with XAUTOCLAIM once they have been idle for Config.ClaimMinIdle. Retries
// wait out their backoff in a per-task sorted set and are moved back onto
// the stream once due.
type RedisDequeuer struct {
	client    *redis.Client
	proc      *processor
	config    Config
	log       zerolog.Logger
	taskNames []string
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewRedisDequeuer creates a RedisDequeuer consuming the streams of the given
// task names.
func NewRedisDequeuer(
	client *redis.Client,
	dlq DeadLetterQueue,
	handler MessageHandler,
	results ResultBackend,
	retry *RetryStrategy,
	cfg Config,
	log zerolog.Logger,
	taskNames []string,
) *RedisDequeuer {
	d := &RedisDequeuer{
		client:    client,
		config:    cfg,
		log:       log,
		taskNames: taskNames,
	}
	d.proc = &processor{
		handler:        handler,
		retry:          retry,
		dlq:            dlq,
		results:        results,
		requeue:        d.scheduleRetry,
		processTimeout: cfg.ProcessTimeout,
		log:            log,
	}
	return d
}

// Start creates the consumer groups (if they do not already exist) and
// launches the configured number of worker goroutines.
func (d *RedisDequeuer) Start(ctx context.Context) error {
	if len(d.taskNames) == 0 {
		return errors.New("no task names registered")
	}
	for _, name := range d.taskNames {
		if err := d.createConsumerGroup(ctx, streamKey(name)); err != nil {
			return err
		}
	}

	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.config.WorkerCount {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("%s-%d", d.config.ConsumerName, i))
	}

	d.log.Info().
		Int("worker_count", d.config.WorkerCount).
		Strs("tasks", d.taskNames).
		Str("group", d.config.GroupName).
		Msg("redis dequeuer started")

	return nil
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for in-flight tasks to finish.
func (d *RedisDequeuer) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		d.log.Info().Msg("redis dequeuer stopped gracefully")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	case <-timer.C:
		d.log.Warn().Msg("redis dequeuer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", d.config.ShutdownTimeout)
	}
}

func (d *RedisDequeuer) createConsumerGroup(ctx context.Context, key string) error {
	err := d.client.XGroupCreateMkStream(ctx, key, d.config.GroupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s: %w", d.config.GroupName, key, err)
	}
	return nil
}

// runWorker is the main loop for a single worker goroutine. At most once per
// block timeout an iteration promotes due retries and looks for a stale entry
// to reclaim; otherwise it blocks on new entries.
func (d *RedisDequeuer) runWorker(ctx context.Context, consumer string) {
	defer d.wg.Done()

	log := d.log.With().Str("consumer", consumer).Logger()
	log.Info().Msg("worker started")

	streams := make([]string, 0, 2*len(d.taskNames))
	for _, name := range d.taskNames {
		streams = append(streams, streamKey(name))
	}
	for range d.taskNames {
		streams = append(streams, ">")
	}

	var lastClaim, lastPromote time.Time

	for {
		if ctx.Err() != nil {
			log.Info().Msg("worker stopping")
			return
		}

		if time.Since(lastPromote) >= d.config.BlockTimeout {
			lastPromote = time.Now()
			d.promoteDue(ctx, log)
		}

		if d.config.ClaimMinIdle > 0 && time.Since(lastClaim) >= d.config.BlockTimeout {
			lastClaim = time.Now()
			if d.reclaim(ctx, log, consumer) {
				continue
			}
		}

		xStreams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.config.GroupName,
			Consumer: consumer,
			Streams:  streams,
			Count:    1,
			Block:    d.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("xreadgroup error")
			sleepCtx(ctx, errorBackoff)
			continue
		}

		for _, stream := range xStreams {
			for _, entry := range stream.Messages {
				d.processEntry(ctx, log, stream.Stream, entry)
			}
		}
	}
}

// reclaim takes over one stale pending entry, if any, and processes it.
// It reports whether an entry was processed.
func (d *RedisDequeuer) reclaim(ctx context.Context, log zerolog.Logger, consumer string) bool {
	for _, name := range d.taskNames {
		key := streamKey(name)
		entries, _, err := d.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   key,
			Group:    d.config.GroupName,
			Consumer: consumer,
			MinIdle:  d.config.ClaimMinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				log.Error().Err(err).Str("stream", key).Msg("xautoclaim error")
			}
			continue
		}
		if len(entries) == 0 {
			continue
		}

		for _, entry := range entries {
			log.Warn().Str("stream", key).Str("entry_id", entry.ID).Msg("reclaimed stale entry")
			TasksReclaimedTotal.WithLabelValues(name).Inc()
			d.processEntry(ctx, log, key, entry)
		}
		return true
	}
	return false
}

// processEntry decodes a stream entry, runs it and acknowledges it. Entries
// that cannot be decoded are acknowledged and dropped. An entry whose retry
// or dead letter could not be stored stays pending for XAUTOCLAIM.
func (d *RedisDequeuer) processEntry(ctx context.Context, log zerolog.Logger, key string, entry redis.XMessage) {
	data, ok := entry.Values["data"].(string)
	if !ok {
		log.Error().Str("entry_id", entry.ID).Msg("invalid message data type")
		d.acknowledge(ctx, log, key, entry.ID)
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to unmarshal message")
		d.acknowledge(ctx, log, key, entry.ID)
		return
	}

	if !d.proc.process(ctx, &msg) {
		return
	}

	// Retries travel as new entries carrying the same task id.
	d.acknowledge(ctx, log, key, entry.ID)
}

func (d *RedisDequeuer) acknowledge(ctx context.Context, log zerolog.Logger, key, entryID string) {
	err := d.client.XAck(context.WithoutCancel(ctx), key, d.config.GroupName, entryID).Err()
	if err != nil {
		log.Error().Err(err).Str("stream", key).Str("entry_id", entryID).Msg("failed to acknowledge entry")
	}
}

// scheduleRetry parks msg in the delayed set of its task, due after backoff.
// The caller acknowledges the original entry only once this has succeeded,
// so a process exit during the backoff does not lose the retry.
func (d *RedisDequeuer) scheduleRetry(ctx context.Context, msg *Message, backoff time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}
	due := time.Now().Add(backoff).UnixMilli()
	if err := d.client.ZAdd(ctx, delayedKey(msg.Name), redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", delayedKey(msg.Name), err)
	}
	return nil
}

// promoteDue moves retries whose backoff has elapsed back onto their streams.
func (d *RedisDequeuer) promoteDue(ctx context.Context, log zerolog.Logger) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	for _, name := range d.taskNames {
		n, err := promoteScript.Run(ctx, d.client, []string{delayedKey(name), streamKey(name)}, now, promoteBatch).Int()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("task", name).Msg("failed to promote due retries")
			}
			continue
		}
		if n > 0 {
			log.Debug().Str("task", name).Int("count", n).Msg("promoted due retries")
		}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
