package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fleetgate/fleetgate/internal/config"
	"github.com/fleetgate/fleetgate/pkg/logger"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeReportIngest = "report:ingest"
)

// ReportTask is the post-upload processing job for a stored report.
type ReportTask struct {
	ReportID string `json:"report_id"`
	DeviceID string `json:"device_id"`
}

// ReportQueue defines the interface for report post-processing.
type ReportQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *ReportTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalReportQueue ReportQueue
	reportQueueOnce   sync.Once
)

// InitReportQueue initializes the global report queue based on config. With
// Redis enabled tasks go through asynq; otherwise they are processed in
// process.
func InitReportQueue(cfg *config.Config) ReportQueue {
	reportQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[ReportQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalReportQueue = NewSyncQueue()
			} else {
				logger.Infof("[ReportQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalReportQueue = queue
			}
		} else {
			logger.Infof("[ReportQueue] Sync queue initialized (Redis disabled)")
			globalReportQueue = NewSyncQueue()
		}
	})
	return globalReportQueue
}

// GetReportQueue returns the global report queue instance
func GetReportQueue() ReportQueue {
	return globalReportQueue
}

// AsyncQueue implements ReportQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection up front so a dead Redis degrades to sync mode
	// at startup instead of failing every upload.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

// Enqueue adds a report task to the async queue
func (q *AsyncQueue) Enqueue(task *ReportTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeReportIngest, payload)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s", info.ID, info.Queue)
	return nil
}

// IsAsync returns true for async queue
func (q *AsyncQueue) IsAsync() bool {
	return true
}

// Close closes the async queue client
func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements ReportQueue with in-process handling (no Redis)
type SyncQueue struct {
	processor func(context.Context, *ReportTask) error
}

// NewSyncQueue creates a new synchronous queue
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function to process tasks in process
func (q *SyncQueue) SetProcessor(processor func(context.Context, *ReportTask) error) {
	q.processor = processor
}

// Enqueue hands the task to the processor in a goroutine so the upload
// response is not blocked.
func (q *SyncQueue) Enqueue(task *ReportTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, task dropped")
		return nil
	}

	go func() {
		ctx := context.Background()
		if err := q.processor(ctx, task); err != nil {
			logger.Warnf("[SyncQueue] task processing failed: %v", err)
		}
	}()

	return nil
}

// IsAsync returns false for sync queue
func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close is a no-op for sync queue
func (q *SyncQueue) Close() error {
	return nil
}
