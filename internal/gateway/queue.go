package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/agentloop/internal/types"
)

const (
	laneBuffer     = 100
	failureMessage = "Sorry, something went wrong processing your message."
)

// Queue keeps one FIFO lane per conversation and bounds how many lanes
// process a run at the same time.
type Queue struct {
	lanes     map[types.ConversationID]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	logger    *slog.Logger
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue running at most maxConcurrent runs at once.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ConversationID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
		logger:    slog.Default(),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight runs, closes all lanes and waits for the lane
// goroutines to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds run to its conversation's lane, starting the lane on first
// use.
func (q *Queue) Enqueue(run *Run) error {
	if q.ctx == nil {
		return fmt.Errorf("queue not started")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[run.ConversationID]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.ConversationID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for conversation %s", run.ConversationID)
	}
}

func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.process(run)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(run *Run) {
	if q.processor == nil {
		if run.OnDone != nil {
			run.OnDone(fmt.Errorf("no processor for run %s", run.ID))
		}
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	run.Ctx = q.ctx
	run.start()
	err := q.processor(run)
	run.finish(err)
	if err != nil {
		q.logger.Error("run failed",
			"run_id", string(run.ID),
			"conversation_id", string(run.ConversationID),
			"error", err)
		if run.OnReply != nil {
			run.OnReply(failureMessage)
		}
	}
	if run.OnDone != nil {
		run.OnDone(err)
	}
}

// WaitIdle blocks until no run is being processed or the timeout expires.
// It reports whether the queue went idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}
