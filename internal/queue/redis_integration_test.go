//go:build integration

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisAddr string

// TestMain starts one Redis container shared by the integration tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}
	redisAddr = fmt.Sprintf("%s:%s", host, port.Port())

	code := m.Run()

	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate container: %v\n", err)
	}
	os.Exit(code)
}

func newTestRedis(t *testing.T, db int) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: redisAddr, DB: db})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushdb: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testRedisConfig() Config {
	cfg := DefaultConfig()
	cfg.RedisAddr = redisAddr
	cfg.WorkerCount = 2
	cfg.ConsumerName = "it"
	cfg.BlockTimeout = 100 * time.Millisecond
	cfg.ProcessTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.ClaimMinIdle = 0
	return cfg
}

func TestRedis_EnqueueConsumeStoresResult(t *testing.T) {
	client := newTestRedis(t, 0)
	results := NewRedisResultBackendWithClient(newTestRedis(t, 1), time.Minute)

	cfg := testRedisConfig()
	enq := NewRedisEnqueuer(client)
	dlq := NewRedisDLQ(client, enq)

	mux := NewMux()
	mux.HandleFunc("greet", func(_ context.Context, msg *Message) (TaskResult, error) {
		var p samplePayload
		if err := msg.Decode(&p); err != nil {
			return TaskResult{}, err
		}
		return TaskResult{State: StateSuccess, Text: "hello " + p.UserID}, nil
	})

	d := NewRedisDequeuer(client, dlq, mux, results, NewRetryStrategy(0), cfg, testLogger(), mux.Names())
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(ctx) })

	msg, _ := NewMessage("greet", samplePayload{UserID: "u-7"})
	if _, err := enq.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := WaitForResult(waitCtx, results, msg.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResult() error = %v", err)
	}
	if res.State != StateSuccess || res.Result != "hello u-7" {
		t.Errorf("result = %+v", res)
	}

	pending, err := client.XPending(ctx, streamKey("greet"), cfg.GroupName).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending entries = %d, want 0 after acknowledgment", pending.Count)
	}
}

func TestRedis_ReclaimsStaleEntry(t *testing.T) {
	client := newTestRedis(t, 0)
	ctx := context.Background()

	cfg := testRedisConfig()
	cfg.ClaimMinIdle = 200 * time.Millisecond
	cfg.ProcessTimeout = 100 * time.Millisecond
	enq := NewRedisEnqueuer(client)

	if err := client.XGroupCreateMkStream(ctx, streamKey("greet"), cfg.GroupName, "0").Err(); err != nil {
		t.Fatalf("create group: %v", err)
	}
	msg, _ := NewMessage("greet", samplePayload{UserID: "u-1"})
	if _, err := enq.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// A consumer that reads the entry and dies without acknowledging it.
	if _, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cfg.GroupName,
		Consumer: "crashed",
		Streams:  []string{streamKey("greet"), ">"},
		Count:    1,
	}).Result(); err != nil {
		t.Fatalf("xreadgroup: %v", err)
	}

	var mu sync.Mutex
	var seen []string
	mux := NewMux()
	mux.HandleFunc("greet", func(_ context.Context, m *Message) (TaskResult, error) {
		mu.Lock()
		seen = append(seen, m.ID)
		mu.Unlock()
		return TaskResult{State: StateSuccess}, nil
	})

	d := NewRedisDequeuer(client, NewRedisDLQ(client, enq), mux, nil, NewRetryStrategy(0), cfg, testLogger(), mux.Names())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Stop(ctx) })

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != msg.ID {
		t.Fatalf("reclaimed tasks = %v, want [%s]", seen, msg.ID)
	}
}

func TestRedis_RetrySurvivesWorkerRestart(t *testing.T) {
	client := newTestRedis(t, 0)
	ctx := context.Background()

	cfg := testRedisConfig()
	cfg.WorkerCount = 1
	enq := NewRedisEnqueuer(client)
	retry := &RetryStrategy{MaxRetries: 1, Schedule: []time.Duration{time.Second}}

	var mu sync.Mutex
	var attempts []int
	mux := NewMux()
	mux.HandleFunc("greet", func(_ context.Context, m *Message) (TaskResult, error) {
		mu.Lock()
		attempts = append(attempts, m.RetryCount)
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			return TaskResult{}, errors.New("greylisted")
		}
		return TaskResult{State: StateSuccess}, nil
	})
	attemptCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts)
	}
	waitFor := func(cond func() bool) bool {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return true
			}
			time.Sleep(20 * time.Millisecond)
		}
		return false
	}

	first := NewRedisDequeuer(client, NewRedisDLQ(client, enq), mux, nil, retry, cfg, testLogger(), mux.Names())
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	msg, _ := NewMessage("greet", samplePayload{UserID: "u-1"})
	if _, err := enq.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	parked := waitFor(func() bool {
		return attemptCount() == 1 && client.ZCard(ctx, delayedKey("greet")).Val() == 1
	})
	if !parked {
		t.Fatalf("retry was not parked: attempts = %d", attemptCount())
	}
	// The worker goes away while the retry is still waiting out its backoff.
	if err := first.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	pending, err := client.XPending(ctx, streamKey("greet"), cfg.GroupName).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending entries = %d, want 0 once the retry is parked", pending.Count)
	}

	second := NewRedisDequeuer(client, NewRedisDLQ(client, enq), mux, nil, retry, cfg, testLogger(), mux.Names())
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = second.Stop(ctx) })

	if !waitFor(func() bool { return attemptCount() == 2 }) {
		t.Fatalf("retry never ran after restart: attempts = %d", attemptCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts[1] != 1 {
		t.Errorf("retry RetryCount = %d, want 1", attempts[1])
	}
	if n := client.ZCard(ctx, delayedKey("greet")).Val(); n != 0 {
		t.Errorf("delayed set size = %d, want 0 after promotion", n)
	}
}

func TestRedis_EnqueueUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	msg, _ := NewMessage("greet", samplePayload{})
	_, err := NewRedisEnqueuer(client).Enqueue(context.Background(), msg)
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("Enqueue() error = %v, want ErrQueueUnavailable", err)
	}
}

func TestRedisDLQ_Reprocess(t *testing.T) {
	client := newTestRedis(t, 0)
	ctx := context.Background()
	enq := NewRedisEnqueuer(client)
	dlq := NewRedisDLQ(client, enq)

	msg, _ := NewMessage("greet", samplePayload{UserID: "u-9"})
	msg.RetryCount = 3
	if err := dlq.MoveToDLQ(ctx, msg, "boom"); err != nil {
		t.Fatalf("MoveToDLQ() error = %v", err)
	}

	entries, err := client.XRange(ctx, dlqStreamKey("greet"), "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Fatalf("dlq entries = %v, %v", entries, err)
	}

	n, err := dlq.Reprocess(ctx, "greet", []string{entries[0].ID, "0-1"})
	if err != nil {
		t.Fatalf("Reprocess() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Reprocess() = %d, want 1", n)
	}

	if left, _ := client.XLen(ctx, dlqStreamKey("greet")).Result(); left != 0 {
		t.Errorf("dlq length = %d, want 0", left)
	}
	queued, _ := client.XRange(ctx, streamKey("greet"), "-", "+").Result()
	if len(queued) != 1 {
		t.Fatalf("queued entries = %d, want 1", len(queued))
	}
}

func TestRedisResultBackend_NotFound(t *testing.T) {
	results := NewRedisResultBackendWithClient(newTestRedis(t, 1), time.Minute)
	if _, err := results.Get(context.Background(), "missing"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("Get() error = %v, want ErrResultNotFound", err)
	}
}
