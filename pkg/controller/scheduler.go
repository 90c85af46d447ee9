package controller

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/memqueue/v4"
	"github.com/vmihailenco/taskq/redisq/v4"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/dora-exporter/pkg/monitor"
	"github.com/helvethink/dora-exporter/pkg/reconciler"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/store"
)

// TaskController holds the components needed to manage task queues and scheduling.
type TaskController struct {
	Factory                  taskq.Factory                     // Factory creates task queues and manages their lifecycle.
	Queue                    taskq.Queue                       // Queue is the actual task queue instance where tasks are enqueued and consumed.
	TaskMap                  *taskq.TaskMap                    // TaskMap holds the mapping of task types to their handlers for processing.
	TaskSchedulingMonitoring *monitor.TaskSchedulingMonitoring // TaskSchedulingMonitoring tracks the last and next run of every task type.
}

// NewTaskController initializes and returns a new TaskController.
// The queue is backed by Redis when a client is provided, in memory otherwise.
// maximumJobsQueueSize controls the queue buffer size.
func NewTaskController(ctx context.Context, r *redis.Client, maximumJobsQueueSize int) (t TaskController) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:NewTaskController")
	defer span.End()

	t.TaskMap = &taskq.TaskMap{}

	queueOptions := &taskq.QueueConfig{
		Name:                 "default",
		PauseErrorsThreshold: 3,
		Handler:              t.TaskMap,
		BufferSize:           maximumJobsQueueSize,
	}

	if r != nil {
		t.Factory = redisq.NewFactory()
		queueOptions.Redis = r
	} else {
		t.Factory = memqueue.NewFactory()
	}

	t.Queue = t.Factory.RegisterQueue(queueOptions)

	// Purge the queue to start fresh, caution advised if running in HA setups
	if err := t.Queue.Purge(ctx); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Error("purging the pulling queue")
	}

	if r != nil {
		if err := t.Factory.StartConsumers(context.TODO()); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Fatal("starting consuming the task queue")
		}
	}

	t.TaskSchedulingMonitoring = monitor.NewTaskSchedulingMonitoring()

	return
}

// TaskHandlerPullDeployments reconciles the deployments of the configured deployment source.
func (c *Controller) TaskHandlerPullDeployments(ctx context.Context) error {
	return c.pull(ctx, schemas.SourceKindDeployments)
}

// TaskHandlerPullIncidents reconciles the incidents of the configured incident source.
func (c *Controller) TaskHandlerPullIncidents(ctx context.Context) error {
	return c.pull(ctx, schemas.SourceKindIncidents)
}

// pull runs a scheduled sync. Fetch failures are recorded on the pipeline and logged by the
// reconciler: they are not returned so that taskq does not retry before the next tick.
func (c *Controller) pull(ctx context.Context, kind schemas.SourceKind) error {
	tt := kind.TaskType()

	defer c.unqueueTask(ctx, tt, "_")
	defer c.TaskController.TaskSchedulingMonitoring.SetLast(tt, time.Now())

	if _, err := c.TriggerSync(ctx, kind); err != nil && !errors.Is(err, reconciler.ErrSyncInFlight) {
		log.WithContext(ctx).
			WithField("kind", kind).
			WithError(err).
			Debug("scheduled sync did not complete")
	}

	return nil
}

// Schedule starts the periodic syncs of every pipeline, according to its schedule.
// When Redis is configured, it also starts refreshing the keepalive of this instance.
func (c *Controller) Schedule(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:Schedule")
	defer span.End()

	for _, p := range c.Pipelines {
		tt := p.Kind().TaskType()
		cfg := p.Schedule.SchedulerConfig()

		if cfg.OnInit {
			c.ScheduleTask(ctx, tt, "_")
		}

		if cfg.Scheduled {
			c.ScheduleTaskWithTicker(ctx, tt, cfg.IntervalSeconds)
		}
	}

	if c.Redis != nil {
		c.ScheduleRedisSetKeepalive(ctx)
	}
}

// ScheduleRedisSetKeepalive refreshes, every second, a Redis key signaling that this instance is alive.
// Failed refreshes are logged and retried on the next tick.
func (c *Controller) ScheduleRedisSetKeepalive(ctx context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleRedisSetKeepalive")
	defer span.End()

	r, ok := c.Store.(*store.Redis)
	if !ok {
		log.WithContext(ctx).Debug("event store is not backed by redis, skipping keepalive")
		return
	}

	go func(ctx context.Context) {
		ticker := time.NewTicker(time.Duration(1) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("stopped redis keepalive")

				return
			case <-ticker.C:
				if _, err := r.SetKeepalive(ctx, c.UUID.String(), time.Duration(10)*time.Second); err != nil {
					log.WithContext(ctx).
						WithError(err).
						Error("setting keepalive")
				}
			}
		}
	}(ctx)
}

// ScheduleTask queues a task of type tt unless the queue is full or the same task is already queued.
func (c *Controller) ScheduleTask(ctx context.Context, tt schemas.TaskType, uniqueID string, args ...interface{}) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTask")
	defer span.End()

	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.String("task_unique_id", uniqueID))

	logFields := log.Fields{
		"task_type":      tt,
		"task_unique_id": uniqueID,
	}
	task := c.TaskController.TaskMap.Get(string(tt))
	msg := task.NewJob(args...)

	qlen, err := c.TaskController.Queue.Len(ctx)
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to read task queue length, skipping scheduling of task..")

		return
	}

	if qlen >= c.TaskController.Queue.Options().BufferSize {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("queue buffer size exhausted, skipping scheduling of task..")

		return
	}

	queued, err := c.Store.QueueTask(ctx, tt, uniqueID, c.UUID.String())
	if err != nil {
		log.WithContext(ctx).
			WithFields(logFields).
			Warn("unable to declare the queueing, skipping scheduling of task..")

		return
	}

	if !queued {
		log.WithFields(logFields).
			Debug("task already queued, skipping scheduling of task..")

		return
	}

	go func(job *taskq.Job) {
		if err := c.TaskController.Queue.AddJob(ctx, job); err != nil {
			log.WithContext(ctx).
				WithError(err).
				Warn("scheduling task")
		}
	}(msg)
}

// ScheduleTaskWithTicker schedules a task of type tt every intervalSeconds until ctx is done.
func (c *Controller) ScheduleTaskWithTicker(ctx context.Context, tt schemas.TaskType, intervalSeconds int) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:ScheduleTaskWithTicker")
	defer span.End()
	span.SetAttributes(attribute.String("task_type", string(tt)))
	span.SetAttributes(attribute.Int("interval_seconds", intervalSeconds))

	if intervalSeconds <= 0 {
		log.WithContext(ctx).
			WithField("task", tt).
			Warn("task scheduling misconfigured, currently disabled")

		return
	}

	log.WithFields(log.Fields{
		"task":             tt,
		"interval_seconds": intervalSeconds,
	}).Debug("task scheduled")

	interval := time.Duration(intervalSeconds) * time.Second
	c.TaskController.TaskSchedulingMonitoring.SetNext(tt, time.Now().Add(interval))

	go func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.WithField("task", tt).Info("scheduling of task stopped")

				return
			case <-ticker.C:
				c.ScheduleTask(ctx, tt, "_")
				c.TaskController.TaskSchedulingMonitoring.SetNext(tt, time.Now().Add(interval))
			}
		}
	}(ctx)
}
