package main

import (
	"context"
	"fmt"

	"github.com/sungwon/enroll-notify/internal/queue"
	"github.com/sungwon/enroll-notify/internal/record"
)

// Constructors for the backends the commands talk to, built from cfg.
// Tests replace them with in-memory versions.
var (
	openEnqueuer = func(ctx context.Context) (queue.Enqueuer, func() error, error) {
		q, err := queue.NewQueue(ctx, cfg.Queue, nil, nil, log)
		if err != nil {
			return nil, nil, fmt.Errorf("create queue: %w", err)
		}
		return q.Enqueuer, q.Close, nil
	}

	openResults = func() (queue.ResultBackend, func() error) {
		results := queue.NewRedisResultBackend(cfg.Results)
		return results, results.Close
	}

	openStore = func() (record.Store, func(), error) {
		store, err := record.Open(cfg.Tracking.Store, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		if pg, ok := store.(*record.PostgresStore); ok {
			return store, pg.Close, nil
		}
		return store, func() {}, nil
	}
)
