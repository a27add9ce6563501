package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
	"offline-sync-service/internal/queue"
)

const (
	defaultBatchSize   = 20
	defaultMaxAttempts = 5
)

type Options struct {
	Queue    *queue.Queue
	Replayer Replayer
	Reporter Reporter
	// Online, when set, suppresses every drain while offline so no attempt is
	// spent without a network.
	Online      func() bool
	BatchSize   int
	MaxAttempts int
	Cooldown    time.Duration
}

// Coordinator drains the pending action queue. It is the only component that
// removes queue entries.
type Coordinator struct {
	queue       *queue.Queue
	replayer    Replayer
	reporter    Reporter
	online      func() bool
	batchSize   int
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time

	triggers chan Reason

	mu    sync.Mutex
	state State
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Coordinator{
		queue:       opts.Queue,
		replayer:    opts.Replayer,
		reporter:    opts.Reporter,
		online:      opts.Online,
		batchSize:   opts.BatchSize,
		maxAttempts: opts.MaxAttempts,
		cooldown:    opts.Cooldown,
		now:         time.Now,
		triggers:    make(chan Reason, 1),
		state:       StateIdle,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Trigger asks for a drain without blocking. Triggers arriving while one is
// already pending are coalesced; it reports whether this one was accepted.
func (c *Coordinator) Trigger(reason Reason) bool {
	select {
	case c.triggers <- reason:
		return true
	default:
		return false
	}
}

// OnConnectivityChange is a connectivity listener.
func (c *Coordinator) OnConnectivityChange(online bool) {
	if online {
		c.Trigger(ReasonConnectivity)
	}
}

// Run handles triggers until ctx is cancelled. Only one cycle runs at a time;
// a trigger received mid-cycle is handled once the coordinator is idle again.
func (c *Coordinator) Run(ctx context.Context) error {
	logger.Log.Info("Starting sync coordinator",
		zap.Int("batchSize", c.batchSize),
		zap.Int("maxAttempts", c.maxAttempts),
		zap.Duration("cooldown", c.cooldown),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Stopped sync coordinator")
			return ctx.Err()
		case reason := <-c.triggers:
			results := c.Sync(ctx, reason)
			if c.queue.Size() > 0 && madeProgress(results) {
				c.Trigger(reason)
			}
		}
	}
}

// Sync runs one Idle -> Draining -> Cooldown -> Idle cycle and returns the
// results of the pass. It does nothing while offline, and otherwise only runs
// when the coordinator is idle and the queue holds work.
func (c *Coordinator) Sync(ctx context.Context, reason Reason) []SyncResult {
	if c.online != nil && !c.online() {
		logger.Log.Debug("Skipping sync while offline", zap.String("reason", string(reason)))
		return nil
	}

	c.mu.Lock()
	if c.state != StateIdle || c.queue.Size() == 0 {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDraining
	c.mu.Unlock()

	results := c.drain(ctx, reason)

	c.setState(StateCooldown)
	if c.cooldown > 0 {
		timer := time.NewTimer(c.cooldown)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	c.setState(StateIdle)
	return results
}

// drain replays one batch strictly in order. A retryable failure ends the
// pass and releases the rest of the batch untouched, so no later action
// reaches the server ahead of an earlier one.
func (c *Coordinator) drain(ctx context.Context, reason Reason) []SyncResult {
	batch := c.queue.PeekBatch(c.batchSize)
	logger.Log.Info("Draining pending actions",
		zap.String("reason", string(reason)),
		zap.Int("batch", len(batch)),
		zap.Int("queued", c.queue.Size()),
	)
	if c.reporter != nil {
		c.reporter.SyncStarted(reason, len(batch))
	}

	results := make([]SyncResult, 0, len(batch))
	for idx, action := range batch {
		if ctx.Err() != nil {
			c.release(batch[idx:])
			break
		}

		err := c.replayer.Replay(ctx, action)
		if err == nil {
			if ackErr := c.queue.Ack(ctx, action.ID); ackErr != nil {
				logger.Log.Error("Failed to persist ack", zap.String("id", action.ID), zap.Error(ackErr))
			}
			results = append(results, c.result(action, Delivered, action.Attempts+1, nil))
			continue
		}

		attempts, failErr := c.queue.Fail(ctx, action.ID)
		if failErr != nil {
			logger.Log.Error("Failed to record attempt", zap.String("id", action.ID), zap.Error(failErr))
			if attempts == 0 {
				attempts = action.Attempts + 1
			}
		}

		if attempts >= c.maxAttempts {
			if ackErr := c.queue.Ack(ctx, action.ID); ackErr != nil {
				logger.Log.Error("Failed to persist abandonment", zap.String("id", action.ID), zap.Error(ackErr))
			}
			logger.Log.Warn("Abandoned pending action",
				zap.String("id", action.ID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			results = append(results, c.result(action, Abandoned, attempts,
				fmt.Errorf("%w after %d attempts: %v", ErrAbandoned, attempts, err)))
			continue
		}

		logger.Log.Info("Replay failed, will retry",
			zap.String("id", action.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		results = append(results, c.result(action, Failed, attempts, err))
		c.release(batch[idx+1:])
		break
	}

	if c.reporter != nil {
		c.reporter.SyncFinished(BatchReport{
			Reason:    reason,
			Results:   results,
			Remaining: c.queue.Size(),
		})
	}
	return results
}

func (c *Coordinator) release(actions []queue.PendingAction) {
	for _, a := range actions {
		c.queue.Release(a.ID)
	}
}

func (c *Coordinator) result(a queue.PendingAction, o Outcome, attempts int, err error) SyncResult {
	return SyncResult{
		ActionID:  a.ID,
		Kind:      a.Kind,
		Outcome:   o,
		Attempts:  attempts,
		Err:       err,
		Timestamp: c.now().UTC(),
	}
}

func madeProgress(results []SyncResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Outcome == Failed {
			return false
		}
	}
	return true
}
