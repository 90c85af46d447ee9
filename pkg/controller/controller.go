package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/taskq/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"google.golang.org/grpc"

	"github.com/helvethink/dora-exporter/pkg/config"
	"github.com/helvethink/dora-exporter/pkg/dora"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/store"
)

const tracerName = "dora-exporter"

// Controller holds the necessary clients and components to run the application and handle its operations.
// The UUID field uniquely identifies this controller instance, especially useful in clustered deployments
// where multiple exporter instances share Redis.
type Controller struct {
	Config         config.Config  // Application configuration settings
	Redis          *redis.Client  // Redis client for caching and coordination
	DB             *store.SQL     // SQL event store, when a database is configured
	Store          store.Store    // Event store holding deployments and incidents
	Engine         *dora.Engine   // Computes the change failure rate and mean time to recovery
	Pipelines      []Pipeline     // One pipeline per configured source
	TaskController TaskController // Manages background tasks and job queues

	// UUID uniquely identifies this controller instance among others when running
	// in clustered mode, facilitating coordination via Redis.
	UUID uuid.UUID
}

// New creates and initializes a new Controller instance.
// It sets up tracing, the Redis and database connections, the task controller, the event store
// and the source pipelines, then starts the scheduler.
func New(ctx context.Context, cfg config.Config, version string) (c Controller, err error) {
	c.Config = cfg
	c.UUID = uuid.New()

	if err = configureTracing(ctx, cfg.OpenTelemetry.GRPCEndpoint); err != nil {
		return
	}

	if err = c.configureRedis(ctx, cfg.Redis.URL); err != nil {
		return
	}

	if err = c.configureDatabase(ctx, cfg.Database); err != nil {
		return
	}

	c.TaskController = NewTaskController(ctx, c.Redis, cfg.Limits.MaximumJobsQueueSize)
	c.registerTasks()

	c.Store = store.New(ctx, c.Redis, c.DB)
	c.Engine = dora.NewEngine(c.Store, time.Now)

	if err = c.configureSources(cfg, version); err != nil {
		return
	}

	c.Schedule(ctx)

	return
}

// registerTasks registers all task handlers with the TaskController's task map.
// Every task is retried once on failure.
func (c *Controller) registerTasks() {
	for n, h := range map[schemas.TaskType]interface{}{
		schemas.TaskTypePullDeployments: c.TaskHandlerPullDeployments,
		schemas.TaskTypePullIncidents:   c.TaskHandlerPullIncidents,
	} {
		_, _ = c.TaskController.TaskMap.Register(string(n), &taskq.TaskConfig{
			Handler:    h,
			RetryLimit: 1,
		})
	}
}

// unqueueTask removes a task from the queue bookkeeping of the store, logging failures.
func (c *Controller) unqueueTask(ctx context.Context, tt schemas.TaskType, uniqueID string) {
	if err := c.Store.UnqueueTask(ctx, tt, uniqueID); err != nil {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"task_type":      tt,
				"task_unique_id": uniqueID,
			}).
			WithError(err).
			Warn("unqueuing task")
	}
}

// Close releases the connections held by the controller.
func (c *Controller) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.WithError(err).Warn("closing database")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.WithError(err).Warn("closing redis connection")
		}
	}
}

// configureTracing sets up OpenTelemetry tracing via a gRPC endpoint.
// If no endpoint is provided, tracing support is skipped.
func configureTracing(ctx context.Context, grpcEndpoint string) error {
	if len(grpcEndpoint) == 0 {
		log.Debug("opentelemetry.grpc_endpoint is not configured, skipping open telemetry support")
		return nil
	}

	log.WithFields(log.Fields{
		"opentelemetry_grpc_endpoint": grpcEndpoint,
	}).Info("opentelemetry gRPC endpoint provided, initializing connection..")

	traceClient := otlptracegrpc.NewClient(
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(grpcEndpoint),
		otlptracegrpc.WithDialOption(grpc.WithBlock()), // nolint: staticcheck
	)

	traceExp, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("dora-exporter"),
		),
	)
	if err != nil {
		return err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExp)),
	)

	otel.SetTracerProvider(tracerProvider)

	return nil
}

// configureRedis initializes the Redis client using the provided URL and sets up OpenTelemetry tracing instrumentation.
func (c *Controller) configureRedis(ctx context.Context, url string) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureRedis")
	defer span.End()

	if len(url) <= 0 {
		log.Debug("redis url is not configured, skipping configuration & using local driver")
		return
	}

	log.Info("redis url configured, initializing connection..")

	var opt *redis.Options
	if opt, err = redis.ParseURL(url); err != nil {
		return
	}

	c.Redis = redis.NewClient(opt)

	if err = redisotel.InstrumentTracing(c.Redis); err != nil {
		return
	}

	if _, err := c.Redis.Ping(ctx).Result(); err != nil {
		return errors.Wrap(err, "connecting to redis")
	}

	log.Info("connected to redis")

	return
}

// configureDatabase opens the SQL event store and migrates it. It is skipped when no DSN is set.
func (c *Controller) configureDatabase(ctx context.Context, cfg config.Database) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:configureDatabase")
	defer span.End()

	if cfg.DSN == "" {
		log.Debug("database dsn is not configured, skipping sql event store")
		return
	}

	log.WithField("driver", cfg.Driver).Info("database configured, initializing connection..")

	if c.DB, err = store.OpenSQL(ctx, cfg.Driver, cfg.DSN); err != nil {
		return
	}

	log.Info("connected to database")

	return
}
